package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "applications.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}
	return path
}

func TestSeederLoad(t *testing.T) {
	path := writeCatalog(t, `
applications:
  - id: org.example.browser
    name: Browser
    icon: /icons/browser.png
    command: browser --kiosk
    graphical: true
  - id: org.example.music
    name: Music
    activation: dbus
    graphical: true
  - id: org.example.updater
    command: updater
    activation: systemd
`)

	apps, err := NewSeeder(path, logging.NewNop()).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(apps) != 3 {
		t.Fatalf("Expected 3 applications, got %d", len(apps))
	}

	if apps[0].Activation != types.ActivationProcess {
		t.Errorf("Expected default process activation, got %s", apps[0].Activation)
	}
	if apps[1].Activation != types.ActivationDBus {
		t.Errorf("Expected dbus activation, got %s", apps[1].Activation)
	}
	if apps[2].Name != "org.example.updater" {
		t.Errorf("Expected name to default to the ID, got '%s'", apps[2].Name)
	}
	for _, app := range apps {
		if app.Status() != types.StatusInactive {
			t.Errorf("Expected %s to load Inactive, got %s", app.ID, app.Status())
		}
	}
}

func TestSeederSkipsInvalidEntries(t *testing.T) {
	path := writeCatalog(t, `
applications:
  - name: No ID
    command: nope
  - id: org.example.nocommand
    activation: process
  - id: org.example.badmethod
    command: cmd
    activation: teleport
  - id: org.example.ok
    command: ok
`)

	apps, err := NewSeeder(path, logging.NewNop()).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("Expected 1 valid application, got %d", len(apps))
	}
	if apps[0].ID != "org.example.ok" {
		t.Errorf("Expected org.example.ok to survive, got %s", apps[0].ID)
	}
}

func TestSeederMissingFile(t *testing.T) {
	_, err := NewSeeder(filepath.Join(t.TempDir(), "missing.yaml"), logging.NewNop()).Load()
	if err == nil {
		t.Fatal("Expected an error for a missing catalog")
	}
}

func TestSeederDBusEntryWithoutCommand(t *testing.T) {
	path := writeCatalog(t, `
applications:
  - id: org.example.music
    activation: dbus
`)

	apps, err := NewSeeder(path, logging.NewNop()).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("Expected dbus entry without a command to be valid, got %d apps", len(apps))
	}
}
