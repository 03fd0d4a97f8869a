package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/domain/registry"
	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/infrastructure/monitoring"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

// ErrUnknownApplication is returned by Start for an ID the registry does
// not know. The bus handler surfaces it as an invalid-argument error.
var ErrUnknownApplication = errors.New("unknown application")

// Backend starts applications with one activation strategy and reports
// their lifecycle back through the handler registered with Notify.
type Backend interface {
	Start(ctx context.Context, app *types.App) error
	Notify(fn types.EventFunc)
}

// ForegroundActivator is implemented by backends that can ask an
// already-running application to present itself.
type ForegroundActivator interface {
	Activate(app *types.App)
}

// Launcher is the lifecycle coordinator: it owns the registry, routes
// start requests to the backend matching each application's activation
// method, and republishes backend events to subscribers. It holds no
// lifecycle state of its own beyond the registry reference; the
// single-instance guard lives in the per-record status.
type Launcher struct {
	registry *registry.Registry
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	backends  map[types.ActivationMethod]Backend
	activator ForegroundActivator

	mu          sync.RWMutex
	subscribers []types.EventFunc
}

// New creates a coordinator over an already-loaded registry.
func New(reg *registry.Registry, logger *logging.Logger) *Launcher {
	return &Launcher{
		registry: reg,
		logger:   logger,
		backends: make(map[types.ActivationMethod]Backend),
	}
}

// WithMetrics adds metrics tracking to the launcher.
func (l *Launcher) WithMetrics(metrics *monitoring.Metrics) *Launcher {
	l.metrics = metrics
	return l
}

// RegisterBackend routes the given activation method to a backend and
// wires the backend's lifecycle events into the launcher. A backend that
// also implements ForegroundActivator handles re-activation of running
// applications.
func (l *Launcher) RegisterBackend(method types.ActivationMethod, b Backend) {
	l.backends[method] = b
	b.Notify(l.onBackendEvent)
	if activator, ok := b.(ForegroundActivator); ok && method == types.ActivationDBus {
		l.activator = activator
	}
}

// Notify registers a subscriber for republished lifecycle events.
func (l *Launcher) Notify(fn types.EventFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Start launches the application with the given ID. Launching an
// application that is already starting or running is a success, not a
// second instance: a start in progress is deduplicated and a running
// bus-activated application is re-activated to the foreground.
func (l *Launcher) Start(ctx context.Context, appID string) error {
	app, ok := l.registry.Find(appID)
	if !ok {
		l.logger.Warn("Unable to find application", zap.String("app_id", appID))
		return fmt.Errorf("%w: '%s'", ErrUnknownApplication, appID)
	}

	began := time.Now()
	attempt := uuid.NewString()

	switch status := app.Status(); status {
	case types.StatusStarting:
		l.logger.Debug("Application is already starting",
			zap.String("app_id", appID),
			zap.String("attempt", attempt))
		l.recordLaunch(app, "deduplicated", began)
		return nil

	case types.StatusRunning:
		l.logger.Debug("Application is already running",
			zap.String("app_id", appID),
			zap.String("attempt", attempt))
		// The application may be running in the background; bring it
		// to the foreground and let subscribers know it activated.
		if app.Activation == types.ActivationDBus && l.activator != nil {
			l.activator.Activate(app)
		}
		l.recordLaunch(app, "deduplicated", began)
		return nil

	case types.StatusInactive:
		backend, ok := l.backends[app.Activation]
		if !ok {
			l.recordLaunch(app, "error", began)
			return fmt.Errorf("no backend registered for %s activation", app.Activation)
		}
		l.logger.Info("Starting application",
			zap.String("app_id", appID),
			zap.String("activation", string(app.Activation)),
			zap.String("attempt", attempt))
		if err := backend.Start(ctx, app); err != nil {
			l.recordLaunch(app, "error", began)
			return err
		}
		l.recordLaunch(app, "ok", began)
		return nil

	default:
		return fmt.Errorf("unknown status %q for application '%s'", status, appID)
	}
}

// List returns catalog entries in load order, optionally filtered to
// graphical applications.
func (l *Launcher) List(graphicalOnly bool) []types.Entry {
	return l.registry.List(graphicalOnly)
}

// onBackendEvent republishes a backend lifecycle event to subscribers
// unchanged.
func (l *Launcher) onBackendEvent(ev types.Event) {
	l.logger.Debug("Application lifecycle event",
		zap.String("app_id", ev.AppID),
		zap.String("kind", string(ev.Kind)))

	if l.metrics != nil {
		l.metrics.RecordEvent(string(ev.Kind))
	}

	l.mu.RLock()
	subscribers := make([]types.EventFunc, len(l.subscribers))
	copy(subscribers, l.subscribers)
	l.mu.RUnlock()

	for _, fn := range subscribers {
		fn(ev)
	}
}

func (l *Launcher) recordLaunch(app *types.App, result string, began time.Time) {
	if l.metrics != nil {
		l.metrics.RecordLaunch(string(app.Activation), result, time.Since(began))
	}
}
