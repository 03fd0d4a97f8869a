package dbusapp

import (
	"context"
	"errors"
	"testing"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/platform/dbusutil"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

type fakeWatch struct {
	unwatched int
}

func (w *fakeWatch) Unwatch() { w.unwatched++ }

type fakeProxy struct {
	activated int
	err       error
}

func (p *fakeProxy) Activate() error {
	p.activated++
	return p.err
}

// fakeFacility captures the watch callbacks so tests can simulate the
// name appearing and vanishing. With vanishDuringWatch set, the vanish
// callback fires before registration returns, the earliest schedule the
// bus goroutine can produce.
type fakeFacility struct {
	watch             *fakeWatch
	watchErr          error
	vanishDuringWatch bool
	onAppeared        func(owner string)
	onVanished        func()

	proxy      *fakeProxy
	proxyErr   error
	proxyPath  string
	proxyCalls int
}

func (f *fakeFacility) WatchName(name string, autoStart bool, onAppeared func(string), onVanished func()) (dbusutil.NameWatch, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.onAppeared = onAppeared
	f.onVanished = onVanished
	if f.vanishDuringWatch {
		onVanished()
	}
	return f.watch, nil
}

func (f *fakeFacility) ApplicationProxy(busName, objectPath string) (dbusutil.ApplicationProxy, error) {
	f.proxyCalls++
	f.proxyPath = objectPath
	if f.proxyErr != nil {
		return nil, f.proxyErr
	}
	return f.proxy, nil
}

func newTestManager(f *fakeFacility) (*Manager, *[]types.Event) {
	m := NewManager(f, logging.NewNop())
	var events []types.Event
	m.Notify(func(ev types.Event) { events = append(events, ev) })
	return m, &events
}

func musicApp() *types.App {
	return types.NewApp("org.example.music", "Music", "", "", types.ActivationDBus, true)
}

func TestStartRegistersWatch(t *testing.T) {
	f := &fakeFacility{watch: &fakeWatch{}, proxy: &fakeProxy{}}
	m, events := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if app.Status() != types.StatusStarting {
		t.Errorf("Expected Starting, got %s", app.Status())
	}
	if f.onAppeared == nil || f.onVanished == nil {
		t.Fatal("Expected watch callbacks to be registered")
	}
	if len(*events) != 0 {
		t.Errorf("Expected no events before the name appears, got %v", *events)
	}
}

func TestWatchFailure(t *testing.T) {
	f := &fakeFacility{watchErr: errors.New("match rule rejected")}
	m, _ := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); !errors.Is(err, ErrWatch) {
		t.Fatalf("Expected ErrWatch, got %v", err)
	}
	if app.Status() != types.StatusInactive {
		t.Errorf("Expected Inactive after watch failure, got %s", app.Status())
	}
}

func TestNameAppearedEmitsStarted(t *testing.T) {
	f := &fakeFacility{watch: &fakeWatch{}, proxy: &fakeProxy{}}
	m, events := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.onAppeared(":1.42")

	if app.Status() != types.StatusRunning {
		t.Errorf("Expected Running, got %s", app.Status())
	}
	if len(*events) != 1 || (*events)[0].Kind != types.EventStarted {
		t.Fatalf("Expected one Started event, got %v", *events)
	}
	if f.proxy.activated != 1 {
		t.Errorf("Expected one foreground activation, got %d", f.proxy.activated)
	}
	if f.proxyPath != "/org/example/music" {
		t.Errorf("Unexpected object path: %s", f.proxyPath)
	}
}

func TestDuplicateAppearanceEmitsOnce(t *testing.T) {
	f := &fakeFacility{watch: &fakeWatch{}, proxy: &fakeProxy{}}
	m, events := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.onAppeared(":1.42")
	f.onAppeared(":1.42")

	if len(*events) != 1 {
		t.Errorf("Expected one Started event, got %d", len(*events))
	}
	if f.proxy.activated != 1 {
		t.Errorf("Expected one activation, got %d", f.proxy.activated)
	}
}

func TestActivationFailureIsNotFatal(t *testing.T) {
	f := &fakeFacility{watch: &fakeWatch{}, proxy: &fakeProxy{err: errors.New("no such interface")}}
	m, events := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.onAppeared(":1.42")

	if app.Status() != types.StatusRunning {
		t.Errorf("Expected Running despite activation failure, got %s", app.Status())
	}
	if len(*events) != 1 || (*events)[0].Kind != types.EventStarted {
		t.Errorf("Expected Started despite activation failure, got %v", *events)
	}
}

func TestNameVanishedEmitsTerminated(t *testing.T) {
	watch := &fakeWatch{}
	f := &fakeFacility{watch: watch, proxy: &fakeProxy{}}
	m, events := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.onAppeared(":1.42")
	f.onVanished()

	if app.Status() != types.StatusInactive {
		t.Errorf("Expected Inactive, got %s", app.Status())
	}
	if watch.unwatched != 1 {
		t.Errorf("Expected the watch to be released, got %d", watch.unwatched)
	}
	if len(*events) != 2 || (*events)[1].Kind != types.EventTerminated {
		t.Fatalf("Expected Terminated after vanish, got %v", *events)
	}
}

func TestVanishWithoutActivation(t *testing.T) {
	f := &fakeFacility{watch: &fakeWatch{}, proxy: &fakeProxy{}}
	m, events := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.onVanished()
	f.onVanished()

	if len(*events) != 1 || (*events)[0].Kind != types.EventTerminated {
		t.Fatalf("Expected exactly one Terminated event, got %v", *events)
	}
}

func TestVanishDuringRegistration(t *testing.T) {
	watch := &fakeWatch{}
	f := &fakeFacility{watch: watch, proxy: &fakeProxy{}, vanishDuringWatch: true}
	m, events := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if app.Status() != types.StatusInactive {
		t.Errorf("Expected Inactive, got %s", app.Status())
	}
	if app.Runtime() != nil {
		t.Error("Expected no runtime handle on an Inactive record")
	}
	if watch.unwatched != 1 {
		t.Errorf("Expected the watch to be released, got %d", watch.unwatched)
	}
	if len(*events) != 1 || (*events)[0].Kind != types.EventTerminated {
		t.Fatalf("Expected one Terminated event, got %v", *events)
	}

	// The record must stay startable.
	f.vanishDuringWatch = false
	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if app.Status() != types.StatusStarting {
		t.Errorf("Expected Starting after restart, got %s", app.Status())
	}
}

func TestActivateRunningApplication(t *testing.T) {
	f := &fakeFacility{watch: &fakeWatch{}, proxy: &fakeProxy{}}
	m, _ := newTestManager(f)
	app := musicApp()

	if err := m.Start(context.Background(), app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.onAppeared(":1.42")

	m.Activate(app)

	if f.proxy.activated != 2 {
		t.Errorf("Expected 2 activations, got %d", f.proxy.activated)
	}
	if f.proxyCalls != 1 {
		t.Errorf("Expected the proxy to be cached, got %d creations", f.proxyCalls)
	}
}
