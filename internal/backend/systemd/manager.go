package systemd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/platform/dbusutil"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

var (
	// ErrUnitStart indicates the init-system manager rejected the
	// start-unit request.
	ErrUnitStart = errors.New("unit start failed")
	// ErrSubscribe indicates the property-change subscription for the
	// unit could not be registered.
	ErrSubscribe = errors.New("unit subscription failed")
)

// UnitClient is the init-system manager surface this backend needs;
// *dbusutil.SystemdClient implements it. Tests substitute fakes.
type UnitClient interface {
	// StartUnit issues a synchronous start request and returns the
	// queued job's object path.
	StartUnit(ctx context.Context, unit string) (string, error)
	// WatchUnit subscribes to property-change notifications scoped to
	// the unit's object path.
	WatchUnit(unit string, onChange func()) (dbusutil.UnitWatch, error)
	// ActiveState queries the unit's current ActiveState property.
	ActiveState(ctx context.Context, unit string) (string, error)
}

// runtimeData tracks one in-flight unit activation. The watch handoff
// is synchronized on its own mutex: the watch becomes known only after
// registration returns, while property-change notifications may fire
// from the bus goroutine before that.
type runtimeData struct {
	types.Handle
	unit string

	mu       sync.Mutex
	released bool
	watch    dbusutil.UnitWatch
}

// attach stores the watch. It reports false when the activation already
// terminated, in which case the caller owns releasing the watch.
func (rt *runtimeData) attach(w dbusutil.UnitWatch) bool {
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
func (rt *runtimeData) release() dbusutil.UnitWatch {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.released = true
	w := rt.watch
	rt.watch = nil
	return w
}

// Manager starts applications as templated systemd units and tracks
// their lifetime through ActiveState transitions.
type Manager struct {
	client       UnitClient
	unitTemplate string
	logger       *logging.Logger
	emit         types.EventFunc
}

// NewManager creates a unit-activation backend. unitTemplate must
// contain one %s verb receiving the application command, for example
// "agl-app@%s.service".
func NewManager(client UnitClient, unitTemplate string, logger *logging.Logger) *Manager {
	return &Manager{
		client:       client,
		unitTemplate: unitTemplate,
		logger:       logger,
	}
}

// Notify registers the handler receiving this backend's lifecycle events.
func (m *Manager) Notify(fn types.EventFunc) {
	m.emit = fn
}

// Start issues a start-unit request for the application's templated unit
// and subscribes to its property changes. On any setup failure all
// partial state is released and the application stays Inactive.
func (m *Manager) Start(ctx context.Context, app *types.App) error {
	unit := fmt.Sprintf(m.unitTemplate, app.Command)

	if !app.BeginActivation(types.StatusStarting) {
		m.logger.Debug("Application already activating", zap.String("app_id", app.ID))
		return nil
	}

	job, err := m.client.StartUnit(ctx, unit)
	if err != nil {
		app.Abort()
		m.logger.Error("Failed to start unit",
			zap.String("app_id", app.ID),
			zap.String("unit", unit),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrUnitStart, unit, err)
	}

	m.logger.Debug("Queued unit start job",
		zap.String("app_id", app.ID),
		zap.String("unit", unit),
		zap.String("job", job))

	// The handle must be in place before the watch exists:
	// notifications arrive on the bus goroutine and a fast-settling
	// unit may beat the rest of this call.
	rt := &runtimeData{unit: unit}
	app.SetRuntime(rt)

	watch, err := m.client.WatchUnit(unit, func() { m.unitChanged(app, unit) })
	if err != nil {
		app.Abort()
		m.logger.Error("Failed to subscribe to unit properties",
			zap.String("app_id", app.ID),
			zap.String("unit", unit),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrSubscribe, unit, err)
	}

	if !rt.attach(watch) {
		// The unit settled inactive before registration completed; the
		// change handler has already reset the record and emitted
		// Terminated.
		watch.Close()
	}

	return nil
}

// unitChanged runs on each property-change notification for the unit.
// Notifications may repeat per logical transition; the record's status
// guards ensure each transition is applied at most once. Transitional
// ActiveState values such as "activating" are ignored.
func (m *Manager) unitChanged(app *types.App, unit string) {
	state, err := m.client.ActiveState(context.Background(), unit)
	if err != nil {
		m.logger.Warn("Failed to query unit ActiveState",
			zap.String("unit", unit),
			zap.Error(err))
		return
	}

	switch state {
	case "active":
		if app.MarkRunning() {
			m.logger.Debug("Unit became active",
				zap.String("app_id", app.ID),
				zap.String("unit", unit))
			m.notify(types.Event{Kind: types.EventStarted, AppID: app.ID})
		}
	case "inactive":
		h, cleared := app.ClearActivation()
		if !cleared {
			return
		}
		if rt, ok := h.(*runtimeData); ok {
			if w := rt.release(); w != nil {
				w.Close()
			}
		}
		m.logger.Debug("Unit became inactive",
			zap.String("app_id", app.ID),
			zap.String("unit", unit))
		m.notify(types.Event{Kind: types.EventTerminated, AppID: app.ID})
	}
}

func (m *Manager) notify(ev types.Event) {
	if m.emit != nil {
		m.emit(ev)
	}
}
