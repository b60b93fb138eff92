// Package credentials handles portal credential setup and the academic
// profile refresh that rides on stored credentials.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/inspersync/inspersync/internal/identity/domain"
	"github.com/inspersync/inspersync/internal/portal"
)

// ErrUserNotFound indicates the user row is missing.
var ErrUserNotFound = errors.New("user not found")

// PortalGateway is the slice of the portal gateway this service consumes.
type PortalGateway interface {
	ValidateCredentials(ctx context.Context, username, plaintext string) (*portal.Identity, string, error)
	LoginStored(ctx context.Context, username, ciphertext string) (*portal.Session, *portal.Identity, error)
	FetchProfile(ctx context.Context, username, ciphertext string) (*portal.AcademicProfile, error)
}

// Service validates and stores portal credentials.
type Service struct {
	userRepo domain.UserRepository
	gateway  PortalGateway
	logger   *slog.Logger
}

// NewService creates a credentials service.
func NewService(userRepo domain.UserRepository, gateway PortalGateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo: userRepo,
		gateway:  gateway,
		logger:   logger,
	}
}

// ValidateAndStore encrypts the plaintext under the portal key, proves the
// pair against the portal, and persists the username plus ciphertext. The
// plaintext exists only for the duration of this call; neither secret is
// ever logged.
func (s *Service) ValidateAndStore(ctx context.Context, userID uuid.UUID, username, plaintext string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	identity, ciphertext, err := s.gateway.ValidateCredentials(ctx, username, plaintext)
	if err != nil {
		return fmt.Errorf("validate portal credentials: %w", err)
	}

	personID := ""
	if identity != nil {
		personID = strconv.FormatInt(identity.ID, 10)
	}
	user.SetPortalCredentials(username, ciphertext, personID)

	if err := s.userRepo.Save(ctx, user); err != nil {
		return err
	}

	s.logger.Info("portal credentials stored", "user_id", userID)

	// Best-effort: fill the academic snapshot while the session is warm.
	if err := s.RefreshAcademicData(ctx, userID); err != nil {
		s.logger.Warn("academic data refresh after credential setup failed",
			"user_id", userID,
			"error", err,
		)
	}
	return nil
}

// Validate proves the stored ciphertext still logs in.
func (s *Service) Validate(ctx context.Context, userID uuid.UUID) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Capabilities().CredentialsConfigured {
		return errors.New("portal credentials not configured")
	}
	_, _, err = s.gateway.LoginStored(ctx, user.PortalUsername(), user.PortalPasswordCiphertext())
	return err
}

// RefreshAcademicData logs in with the stored ciphertext and updates the
// user's academic snapshot from the portal profile.
func (s *Service) RefreshAcademicData(ctx context.Context, userID uuid.UUID) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Capabilities().CredentialsConfigured {
		return errors.New("portal credentials not configured")
	}

	profile, err := s.gateway.FetchProfile(ctx, user.PortalUsername(), user.PortalPasswordCiphertext())
	if err != nil {
		return err
	}

	user.UpdateAcademicSnapshot(profile.NomeAluno, profile.Matricula, profile.Turma, profile.NomeCurso)
	if err := s.userRepo.Save(ctx, user); err != nil {
		return err
	}

	s.logger.Info("academic snapshot refreshed",
		"user_id", userID,
		"matricula", profile.Matricula,
	)
	return nil
}

// RefreshAllAcademicData refreshes every syncable user, isolating per-user
// failures. Returns the number of refreshed users.
func (s *Service) RefreshAllAcademicData(ctx context.Context) (int, error) {
	users, err := s.userRepo.FindAllSyncable(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, user := range users {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := s.RefreshAcademicData(ctx, user.ID()); err != nil {
			s.logger.Warn("academic data refresh failed",
				"user_id", user.ID(),
				"error", err,
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (s *Service) loadUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
