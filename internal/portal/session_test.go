package portal

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

const identityJSON = `{"id":4321,"name":"Ana Silva","login":"anas","senhaAlterada":"false","roles":["ALUNO"],"root":false,"theme":"light"}`

// newLoginServer simulates the portal's auth handshake: the warm-up GET
// issues a session cookie that must come back on the login POST.
func newLoginServer(t *testing.T, validPassword string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "" {
			t.Errorf("request carried User-Agent %q", ua)
		}

		switch {
		case r.URL.Path == "/AOnline/auth" && r.Method == http.MethodGet:
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "warm"})
		case r.URL.Path == "/AOnline/auth" && r.Method == http.MethodPost:
			if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
				t.Errorf("login content-type = %q", ct)
			}
			if _, err := r.Cookie("JSESSIONID"); err != nil {
				t.Error("login POST missing warm-up session cookie")
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if r.PostForm.Get("password") != validPassword {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:  "user-data",
				Value: base64.StdEncoding.EncodeToString([]byte(identityJSON)),
			})
		case r.URL.Path == "/AOnline/":
			// Connection test target; the #/login fragment never
			// reaches the server.
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestSession(t *testing.T, baseURL string) *Session {
	t.Helper()
	session, err := NewSession(Config{BaseURL: baseURL}, NewEncryptor(NewKeyCache(NewMemoryKeyStore(), baseURL, "", nil)))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session
}

func TestLoginSuccessParsesIdentityCookie(t *testing.T) {
	srv := newLoginServer(t, "cipher-bytes")
	defer srv.Close()

	session := newTestSession(t, srv.URL)
	identity, err := session.Login(context.Background(), "anas", "cipher-bytes", false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if identity == nil {
		t.Fatal("identity not parsed")
	}
	if identity.ID != 4321 || identity.Login != "anas" {
		t.Fatalf("identity = %+v", identity)
	}
	if identity.SenhaAlterada != "false" {
		t.Fatalf("senhaAlterada = %q", identity.SenhaAlterada)
	}
	if session.Identity() == nil {
		t.Fatal("session did not retain identity")
	}
}

func TestLoginWrongPasswordIsRejectedNotRetryable(t *testing.T) {
	srv := newLoginServer(t, "right")
	defer srv.Close()

	session := newTestSession(t, srv.URL)
	_, err := session.Login(context.Background(), "anas", "wrong", false)
	assertIs(t, err, ErrLoginRejected)
	assertIs(t, err, ErrAuth)
}

func TestLoginWithoutIdentityCookieFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 but no user-data cookie: the portal accepted the request
		// without authenticating the caller.
	}))
	defer srv.Close()

	session := newTestSession(t, srv.URL)
	_, err := session.Login(context.Background(), "anas", "cipher", false)
	assertIs(t, err, ErrLoginRejected)
}

func TestTestConnection(t *testing.T) {
	srv := newLoginServer(t, "x")
	defer srv.Close()

	session := newTestSession(t, srv.URL)
	if !session.TestConnection(context.Background()) {
		t.Fatal("expected connection test to pass")
	}

	srv.Close()
	if session.TestConnection(context.Background()) {
		t.Fatal("expected connection test to fail after server close")
	}
}

func TestAcademicProfileEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/AOnline/apix/api/rest/alunos/user/4321":
			w.Write([]byte(`{"content":[{"id":4321,"matricula":"2023001","codAluno":555,"nomeAluno":"Ana Silva","codCurso":"ECO","nomeCurso":"Economia","turma":"A","serie":"3","ano":2024,"semestre":1,"unknownField":"ignored"}],"page":{"number":0}}`))
		case "/AOnline/apix/api/rest/alunos/user/9999":
			w.Write([]byte(`{"content":[],"page":{"number":0}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	session := newTestSession(t, srv.URL)

	profile, err := session.AcademicProfile(context.Background(), 4321)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile == nil {
		t.Fatal("profile missing")
	}
	if profile.CodAluno != 555 || profile.Matricula != "2023001" {
		t.Fatalf("profile = %+v", profile)
	}

	empty, err := session.AcademicProfile(context.Background(), 9999)
	if err != nil {
		t.Fatalf("empty profile: %v", err)
	}
	if empty != nil {
		t.Fatal("expected nil profile for empty content")
	}
}

func TestAcademicProfileHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	session := newTestSession(t, srv.URL)
	_, err := session.AcademicProfile(context.Background(), 4321)
	assertIs(t, err, ErrAuth)
}
