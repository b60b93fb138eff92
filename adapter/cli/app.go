package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/inspersync/inspersync/internal/identity/application/credentials"
	identityOAuth "github.com/inspersync/inspersync/internal/identity/application/oauth"
	identityDomain "github.com/inspersync/inspersync/internal/identity/domain"
	"github.com/inspersync/inspersync/internal/portal"
	syncApp "github.com/inspersync/inspersync/internal/sync/application"
	syncDomain "github.com/inspersync/inspersync/internal/sync/domain"
)

// App holds the CLI application dependencies.
type App struct {
	Users       identityDomain.UserRepository
	Credentials *credentials.Service
	Auth        *identityOAuth.Service
	Portal      *portal.Gateway

	Configs      syncDomain.SyncConfigurationRepository
	Orchestrator *syncApp.Orchestrator
	SyncQueries  *syncApp.Queries
}

// SyncEnabled reports whether the Google Calendar stack is wired.
func (a *App) SyncEnabled() bool {
	return a.Orchestrator != nil
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}

// requireApp returns the wired application or a uniform error.
func requireApp() (*App, error) {
	if app == nil {
		return nil, errors.New("application not initialized")
	}
	return app, nil
}

// requireUser resolves the --email flag against the user store.
func requireUser(ctx context.Context, a *App, email string) (*identityDomain.User, error) {
	if email == "" {
		return nil, errors.New("missing --email")
	}
	user, err := a.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("no user registered with email %s", email)
	}
	return user, nil
}
