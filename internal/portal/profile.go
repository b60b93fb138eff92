package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AcademicProfile is the student record behind a portal identity. The
// upstream payload carries more fields than these and is known to evolve;
// unknown fields are discarded on decode.
type AcademicProfile struct {
	ID            int64  `json:"id"`
	Matricula     string `json:"matricula"`
	CodAluno      int64  `json:"codAluno"`
	SituacaoAluno string `json:"situacaoAluno"`
	NomeAluno     string `json:"nomeAluno"`
	CodCurso      string `json:"codCurso"`
	NomeCurso     string `json:"nomeCurso"`
	Sexo          string `json:"sexo"`
	Turma         string `json:"turma"`
	Serie         string `json:"serie"`
	Ano           int    `json:"ano"`
	Semestre      int    `json:"semestre"`
	DescrSemestre string `json:"descrSemestre"`
}

// profileEnvelope is the paged wrapper around the profile listing.
type profileEnvelope struct {
	Content []AcademicProfile `json:"content"`
}

// AcademicProfile fetches the student record for a portal person ID. It
// returns nil without error when the portal answers with an empty page.
func (s *Session) AcademicProfile(ctx context.Context, personID int64) (*AcademicProfile, error) {
	body, status, err := s.authedGet(ctx, fmt.Sprintf("/alunos/user/%d", personID))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("academic profile: %w: status %d", ErrAuth, status)
	}

	var envelope profileEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, authError("academic profile decode", err)
	}
	if len(envelope.Content) == 0 {
		return nil, nil
	}

	profile := envelope.Content[0]
	return &profile, nil
}
