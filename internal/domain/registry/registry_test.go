package registry

import (
	"testing"

	"github.com/agl-services/applaunchd/internal/shared/types"
)

func testApps() []*types.App {
	return []*types.App{
		types.NewApp("org.example.browser", "Browser", "/icons/browser.png", "browser", types.ActivationProcess, true),
		types.NewApp("org.example.music", "Music", "/icons/music.png", "", types.ActivationDBus, true),
		types.NewApp("org.example.updater", "Updater", "", "updater", types.ActivationSystemd, false),
	}
}

func TestFind(t *testing.T) {
	r := New(testApps())

	app, ok := r.Find("org.example.music")
	if !ok {
		t.Fatal("Expected to find org.example.music")
	}
	if app.Name != "Music" {
		t.Errorf("Expected name 'Music', got '%s'", app.Name)
	}
	if app.Activation != types.ActivationDBus {
		t.Errorf("Expected dbus activation, got %s", app.Activation)
	}

	if _, ok := r.Find("org.example.unknown"); ok {
		t.Error("Expected unknown ID to not be found")
	}
}

func TestListPreservesOrder(t *testing.T) {
	r := New(testApps())

	entries := r.List(false)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	want := []string{"org.example.browser", "org.example.music", "org.example.updater"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("Entry %d: expected %s, got %s", i, id, entries[i].ID)
		}
	}
}

func TestListGraphicalOnly(t *testing.T) {
	r := New(testApps())

	entries := r.List(true)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 graphical entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ID == "org.example.updater" {
			t.Error("Non-graphical application should be filtered out")
		}
	}
}

func TestDuplicateIDsKeepFirst(t *testing.T) {
	first := types.NewApp("org.example.app", "First", "", "first", types.ActivationProcess, true)
	second := types.NewApp("org.example.app", "Second", "", "second", types.ActivationProcess, true)

	r := New([]*types.App{first, second})

	if r.Len() != 1 {
		t.Fatalf("Expected 1 record after dedup, got %d", r.Len())
	}
	app, _ := r.Find("org.example.app")
	if app.Name != "First" {
		t.Errorf("Expected first occurrence to win, got '%s'", app.Name)
	}
}
