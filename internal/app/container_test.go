package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	identityDomain "github.com/inspersync/inspersync/internal/identity/domain"
	sharedCrypto "github.com/inspersync/inspersync/internal/shared/infrastructure/crypto"
	"github.com/inspersync/inspersync/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:        "development",
		SQLitePath:    filepath.Join(t.TempDir(), "inspersync.db"),
		LocalMode:     true,
		InsperBaseURL: "https://sga.insper.edu.br",
		SyncSourceURL: "https://sync.insper.dev",
	}
}

func TestNewLocalContainerWithoutGoogleOAuth(t *testing.T) {
	cfg := localConfig(t)

	c, err := NewLocalContainer(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.SQLiteDB)
	assert.Nil(t, c.DB)
	assert.NotNil(t, c.PortalGateway)
	assert.NotNil(t, c.CredentialsService)
	assert.False(t, c.SyncEnabled())

	// The migrated schema is usable straight away.
	user := identityDomain.NewUser("ana@al.insper.edu.br", "Ana")
	require.NoError(t, c.UserRepo.Save(context.Background(), user))

	found, err := c.UserRepo.FindByID(context.Background(), user.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "ana@al.insper.edu.br", found.Email())
}

func TestNewLocalContainerWithGoogleOAuth(t *testing.T) {
	cfg := localConfig(t)
	cfg.GoogleClientID = "client-id"
	cfg.GoogleClientSecret = "client-secret"
	cfg.GoogleScopes = "https://www.googleapis.com/auth/calendar"

	key, err := sharedCrypto.NewRandomBase64Key()
	require.NoError(t, err)
	cfg.EncryptionKey = key

	c, err := NewLocalContainer(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.SyncEnabled())
	assert.NotNil(t, c.AuthService)
	assert.NotNil(t, c.CalendarClient)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.SyncQueries)
	assert.NotNil(t, c.SyncSubscriber)
}
