package dbusapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/platform/dbusutil"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

// ErrWatch indicates the bus name watch could not be registered. This is
// distinct from activation failure, which is reported asynchronously by
// the name never appearing.
var ErrWatch = errors.New("name watch registration failed")

// Facility is the bus surface this backend needs; *dbusutil.Bus
// implements it. Tests substitute fakes.
type Facility interface {
	// WatchName registers an ownership watch for a well-known bus name.
	// With autoStart set, registration also requests activation.
	WatchName(name string, autoStart bool, onAppeared func(owner string), onVanished func()) (dbusutil.NameWatch, error)
	// ApplicationProxy creates a foreground-activation proxy.
	ApplicationProxy(busName, objectPath string) (dbusutil.ApplicationProxy, error)
}

// runtimeData tracks one in-flight bus activation. The foreground
// activation proxy is created lazily and cached here for the lifetime of
// the activation. The watch handoff is synchronized on its own mutex:
// the watch becomes known only after registration returns, while the
// vanish callback may fire from the bus goroutine before that.
type runtimeData struct {
	types.Handle
	proxy dbusutil.ApplicationProxy

	mu       sync.Mutex
	released bool
	watch    dbusutil.NameWatch
}

// attach stores the watch. It reports false when the activation already
// terminated, in which case the caller owns releasing the watch.
func (rt *runtimeData) attach(w dbusutil.NameWatch) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.released {
		return false
	}
	rt.watch = w
	return true
}

// release detaches the watch for the terminal transition. A nil result
// means registration has not completed yet; attach will then report
// false and the registering goroutine releases the watch instead.
func (rt *runtimeData) release() dbusutil.NameWatch {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.released = true
	w := rt.watch
	rt.watch = nil
	return w
}

// Manager starts applications through D-Bus activation and tracks their
// lifetime by bus-name ownership.
type Manager struct {
	bus    Facility
	logger *logging.Logger
	emit   types.EventFunc

	mu sync.Mutex
}

// NewManager creates a bus-activation backend.
func NewManager(bus Facility, logger *logging.Logger) *Manager {
	return &Manager{bus: bus, logger: logger}
}

// Notify registers the handler receiving this backend's lifecycle events.
func (m *Manager) Notify(fn types.EventFunc) {
	m.emit = fn
}

// Start requests activation of the application's bus name (the app ID)
// and watches for its appearance and disappearance.
func (m *Manager) Start(ctx context.Context, app *types.App) error {
	if !app.BeginActivation(types.StatusStarting) {
		m.logger.Debug("Application already activating", zap.String("app_id", app.ID))
		return nil
	}

	// The handle must be in place before the watch exists: callbacks
	// arrive on the bus goroutine and may beat the rest of this call.
	rt := &runtimeData{}
	app.SetRuntime(rt)

	watch, err := m.bus.WatchName(app.ID, true,
		func(owner string) { m.nameAppeared(app, owner) },
		func() { m.nameVanished(app) })
	if err != nil {
		app.Abort()
		m.logger.Error("Unable to request D-Bus activation",
			zap.String("app_id", app.ID),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrWatch, app.ID, err)
	}

	if !rt.attach(watch) {
		// The name vanished before registration completed; the vanish
		// handler has already reset the record and emitted Terminated.
		watch.Unwatch()
	}

	return nil
}

// nameAppeared runs when the application's bus name gained an owner: the
// application registered its service and is running.
func (m *Manager) nameAppeared(app *types.App, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("Application appeared on D-Bus",
		zap.String("app_id", app.ID),
		zap.String("owner", owner))

	if !app.MarkRunning() {
		// Repeat appearance for an already-applied transition.
		return
	}

	m.activateLocked(app)
	m.notify(types.Event{Kind: types.EventStarted, AppID: app.ID})
}

// nameVanished runs when the application's bus name lost its owner,
// either because the application terminated or because activation failed.
func (m *Manager) nameVanished(app *types.App) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("Application vanished from D-Bus", zap.String("app_id", app.ID))

	h, cleared := app.ClearActivation()
	if !cleared {
		m.logger.Warn("Termination for application with no activation state",
			zap.String("app_id", app.ID))
		return
	}

	if rt, ok := h.(*runtimeData); ok {
		if w := rt.release(); w != nil {
			w.Unwatch()
		}
	}

	m.notify(types.Event{Kind: types.EventTerminated, AppID: app.ID})
}

// Activate asks a running application to present its main window.
// Failure is logged and swallowed: headless applications will likely not
// implement org.freedesktop.Application.
func (m *Manager) Activate(app *types.App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activateLocked(app)
}

func (m *Manager) activateLocked(app *types.App) {
	rt, ok := app.Runtime().(*runtimeData)
	if !ok {
		m.logger.Warn("No activation state for application",
			zap.String("app_id", app.ID))
		return
	}

	if rt.proxy == nil {
		proxy, err := m.bus.ApplicationProxy(app.ID, objectPathFor(app.ID))
		if err != nil {
			m.logger.Warn("Error creating D-Bus proxy",
				zap.String("app_id", app.ID),
				zap.Error(err))
			return
		}
		rt.proxy = proxy
	}

	if err := rt.proxy.Activate(); err != nil {
		m.logger.Warn("Error activating application",
			zap.String("app_id", app.ID),
			zap.Error(err))
	}
}

func (m *Manager) notify(ev types.Event) {
	if m.emit != nil {
		m.emit(ev)
	}
}

// objectPathFor derives the conventional object path for a bus name:
// "org.example.Iface" is served at "/org/example/Iface".
func objectPathFor(busName string) string {
	return "/" + strings.ReplaceAll(busName, ".", "/")
}
