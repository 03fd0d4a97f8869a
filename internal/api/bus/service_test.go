package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/agl-services/applaunchd/internal/domain/launcher"
	"github.com/agl-services/applaunchd/internal/domain/registry"
	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

type stubBackend struct {
	err error
}

func (b *stubBackend) Start(ctx context.Context, app *types.App) error { return b.err }
func (b *stubBackend) Notify(fn types.EventFunc)                       {}

func newTestService(backendErr error, apps ...*types.App) *Service {
	l := launcher.New(registry.New(apps), logging.NewNop())
	l.RegisterBackend(types.ActivationProcess, &stubBackend{err: backendErr})
	return New(nil, l, "org.automotivelinux.AppLaunch", "/org/automotivelinux/AppLaunch", logging.NewNop())
}

func TestStartUnknownApplicationMapsToInvalidArgs(t *testing.T) {
	s := newTestService(nil)

	dbusErr := s.start("org.example.ghost")
	if dbusErr == nil {
		t.Fatal("Expected an error for an unknown application")
	}
	if dbusErr.Name != errInvalidArgs {
		t.Errorf("Expected %s, got %s", errInvalidArgs, dbusErr.Name)
	}
}

func TestStartBackendFailureMapsToFailed(t *testing.T) {
	app := types.NewApp("org.example.browser", "Browser", "", "browser", types.ActivationProcess, true)
	s := newTestService(errors.New("spawn failed"), app)

	dbusErr := s.start(app.ID)
	if dbusErr == nil {
		t.Fatal("Expected an error when the backend fails")
	}
	if dbusErr.Name == errInvalidArgs {
		t.Error("Backend failures must not map to invalid-args")
	}
}

func TestStartSuccess(t *testing.T) {
	app := types.NewApp("org.example.browser", "Browser", "", "browser", types.ActivationProcess, true)
	s := newTestService(nil, app)

	if dbusErr := s.start(app.ID); dbusErr != nil {
		t.Fatalf("Expected success, got %v", dbusErr)
	}
}

func TestListApplications(t *testing.T) {
	apps := []*types.App{
		types.NewApp("org.example.browser", "Browser", "/icons/b.png", "browser", types.ActivationProcess, true),
		types.NewApp("org.example.updater", "Updater", "", "updater", types.ActivationSystemd, false),
	}
	s := newTestService(nil, apps...)

	entries, dbusErr := s.listApplications(false)
	if dbusErr != nil {
		t.Fatalf("listApplications failed: %v", dbusErr)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "org.example.browser" || entries[0].IconPath != "/icons/b.png" {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}

	graphical, _ := s.listApplications(true)
	if len(graphical) != 1 {
		t.Errorf("Expected 1 graphical entry, got %d", len(graphical))
	}
}
