package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserNormalisesEmail(t *testing.T) {
	user := NewUser("  Ana.Silva@AL.Insper.EDU.br ", " Ana Silva ")

	assert.Equal(t, "ana.silva@al.insper.edu.br", user.Email())
	assert.Equal(t, "Ana Silva", user.Name())
	assert.True(t, user.Active())
	assert.False(t, user.EmailVerified())
}

func TestCapabilitiesGateSync(t *testing.T) {
	user := NewUser("ana@al.insper.edu.br", "Ana")
	require.False(t, user.CanSync())

	user.VerifyEmail()
	require.False(t, user.CanSync())

	user.SetPortalCredentials("anas", "cipher-b64", "4321")
	require.False(t, user.CanSync())

	expiry := time.Now().Add(time.Hour)
	user.ConnectGoogle([]byte("enc-access"), []byte("enc-refresh"), expiry)
	require.True(t, user.CanSync())

	caps := user.Capabilities()
	assert.True(t, caps.EmailVerified)
	assert.True(t, caps.CredentialsConfigured)
	assert.True(t, caps.GoogleConnected)
	assert.True(t, caps.Active)
	assert.Empty(t, caps.Missing())

	user.Deactivate()
	assert.False(t, user.CanSync())
	assert.Contains(t, user.Capabilities().Missing(), "account inactive")
}

func TestGoogleConnectionRequiresRefreshToken(t *testing.T) {
	user := NewUser("ana@al.insper.edu.br", "Ana")
	user.VerifyEmail()
	user.SetPortalCredentials("anas", "cipher", "1")

	// Connect without a refresh token: the provider skipped reissuing it.
	user.ConnectGoogle([]byte("enc-access"), nil, time.Now().Add(time.Hour))
	assert.False(t, user.Capabilities().GoogleConnected)
	assert.False(t, user.CanSync())
}

func TestUpdateGoogleTokensKeepsOldRefreshToken(t *testing.T) {
	user := NewUser("ana@al.insper.edu.br", "Ana")
	user.ConnectGoogle([]byte("access-1"), []byte("refresh-1"), time.Now())

	user.UpdateGoogleTokens([]byte("access-2"), nil, time.Now().Add(time.Hour))
	assert.Equal(t, []byte("access-2"), user.GoogleAccessToken())
	assert.Equal(t, []byte("refresh-1"), user.GoogleRefreshToken())

	user.UpdateGoogleTokens([]byte("access-3"), []byte("refresh-2"), time.Now().Add(time.Hour))
	assert.Equal(t, []byte("refresh-2"), user.GoogleRefreshToken())
}

func TestDisconnectGoogleClearsEverything(t *testing.T) {
	user := NewUser("ana@al.insper.edu.br", "Ana")
	user.ConnectGoogle([]byte("a"), []byte("r"), time.Now())
	user.SetGoogleCalendarID("cal-123")

	user.DisconnectGoogle()
	assert.Nil(t, user.GoogleAccessToken())
	assert.Nil(t, user.GoogleRefreshToken())
	assert.Nil(t, user.GoogleTokenExpiry())
	assert.Empty(t, user.GoogleCalendarID())
	assert.False(t, user.GoogleConnected())
}

func TestRecordSync(t *testing.T) {
	user := NewUser("ana@al.insper.edu.br", "Ana")
	require.Nil(t, user.LastSyncAt())

	at := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	user.RecordSync(at)
	require.NotNil(t, user.LastSyncAt())
	assert.Equal(t, at, *user.LastSyncAt())
}
