package bus

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/domain/launcher"
	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/infrastructure/monitoring"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

const (
	errInvalidArgs = "org.freedesktop.DBus.Error.InvalidArgs"
	nameLostSignal = "org.freedesktop.DBus.NameLost"
)

// Service exposes the launcher on the message bus: the start and
// listApplications methods plus the started/terminated broadcast signals.
type Service struct {
	conn     *dbus.Conn
	launcher *launcher.Launcher
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	name string
	path dbus.ObjectPath

	lost    chan struct{}
	signals chan *dbus.Signal
}

// New creates the bus-facing service for the given well-known name and
// object path.
func New(conn *dbus.Conn, l *launcher.Launcher, name, objectPath string, logger *logging.Logger) *Service {
	return &Service{
		conn:     conn,
		launcher: l,
		logger:   logger,
		name:     name,
		path:     dbus.ObjectPath(objectPath),
		lost:     make(chan struct{}, 1),
	}
}

// WithMetrics adds metrics tracking to the service.
func (s *Service) WithMetrics(metrics *monitoring.Metrics) *Service {
	s.metrics = metrics
	return s
}

// Export publishes the service object and claims the well-known name.
// The service also registers itself as a launcher subscriber so
// lifecycle events reach bus clients as broadcast signals.
func (s *Service) Export() error {
	methods := map[string]interface{}{
		"start":            s.start,
		"listApplications": s.listApplications,
	}
	if err := s.conn.ExportMethodTable(methods, s.path, s.name); err != nil {
		return err
	}
	if err := s.conn.Export(introspect.NewIntrospectable(s.introspection()), s.path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}

	reply, err := s.conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken: " + s.name)
	}

	s.signals = make(chan *dbus.Signal, 8)
	s.conn.Signal(s.signals)
	go s.watchNameLost()

	s.launcher.Notify(s.emit)

	s.logger.Info("Bus service exported",
		zap.String("name", s.name),
		zap.String("path", string(s.path)))

	return nil
}

// LostName is closed when the service loses ownership of its well-known
// name; the daemon treats that as fatal and shuts down.
func (s *Service) LostName() <-chan struct{} {
	return s.lost
}

// start handles the "start" bus method.
func (s *Service) start(appID string) *dbus.Error {
	err := s.launcher.Start(context.Background(), appID)
	switch {
	case err == nil:
		s.recordCall("start", "ok")
		return nil
	case errors.Is(err, launcher.ErrUnknownApplication):
		s.recordCall("start", "invalid_args")
		return dbus.NewError(errInvalidArgs, []interface{}{err.Error()})
	default:
		s.recordCall("start", "error")
		return dbus.MakeFailedError(err)
	}
}

// listApplications handles the "listApplications" bus method.
func (s *Service) listApplications(graphical bool) ([]types.Entry, *dbus.Error) {
	s.recordCall("listApplications", "ok")
	return s.launcher.List(graphical), nil
}

// emit broadcasts a lifecycle event as a bus signal.
func (s *Service) emit(ev types.Event) {
	signal := s.name + "." + string(ev.Kind)
	if err := s.conn.Emit(s.path, signal, ev.AppID); err != nil {
		s.logger.Warn("Failed to emit signal",
			zap.String("signal", signal),
			zap.String("app_id", ev.AppID),
			zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordBusSignal(string(ev.Kind))
	}
}

// watchNameLost closes the lost channel when the bus revokes our name.
func (s *Service) watchNameLost() {
	for sig := range s.signals {
		if sig.Name != nameLostSignal || len(sig.Body) != 1 {
			continue
		}
		if name, ok := sig.Body[0].(string); ok && name == s.name {
			s.logger.Error("Lost bus name", zap.String("name", s.name))
			close(s.lost)
			return
		}
	}
}

func (s *Service) recordCall(method, status string) {
	if s.metrics != nil {
		s.metrics.RecordBusCall(method, status)
	}
}

func (s *Service) introspection() *introspect.Node {
	return &introspect.Node{
		Name: string(s.path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: s.name,
				Methods: []introspect.Method{
					{
						Name: "start",
						Args: []introspect.Arg{
							{Name: "appid", Type: "s", Direction: "in"},
						},
					},
					{
						Name: "listApplications",
						Args: []introspect.Arg{
							{Name: "graphical", Type: "b", Direction: "in"},
							{Name: "applications", Type: "a(sss)", Direction: "out"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "started",
						Args: []introspect.Arg{{Name: "appid", Type: "s"}},
					},
					{
						Name: "terminated",
						Args: []introspect.Arg{{Name: "appid", Type: "s"}},
					},
				},
			},
		},
	}
}
