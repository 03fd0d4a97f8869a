package dbusutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
)

const (
	systemdBusName   = "org.freedesktop.systemd1"
	systemdPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManager   = "org.freedesktop.systemd1.Manager"
	systemdUnitIface = "org.freedesktop.systemd1.Unit"
	unitPathPrefix   = "/org/freedesktop/systemd1/unit/"

	propsIface   = "org.freedesktop.DBus.Properties"
	propsChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// UnitWatch is a registered property-change subscription for one unit.
type UnitWatch interface {
	Close()
}

// SystemdClient talks to the systemd manager over the bus: starting
// units and observing their ActiveState through property-change
// notifications scoped to the unit's object path.
type SystemdClient struct {
	conn   *dbus.Conn
	logger *logging.Logger

	mu      sync.Mutex
	watches map[dbus.ObjectPath]*unitWatch

	signals  chan *dbus.Signal
	loopOnce sync.Once
}

// NewSystemdClient wraps an established bus connection. Property-change
// notifications are enabled by subscribing to the manager's signals.
func NewSystemdClient(conn *dbus.Conn, logger *logging.Logger) (*SystemdClient, error) {
	c := &SystemdClient{
		conn:    conn,
		logger:  logger,
		watches: make(map[dbus.ObjectPath]*unitWatch),
	}

	// Without Subscribe systemd suppresses PropertiesChanged emission.
	err := conn.Object(systemdBusName, systemdPath).Call(systemdManager+".Subscribe", 0).Err
	if err != nil && !isAlreadySubscribed(err) {
		return nil, fmt.Errorf("failed to subscribe to systemd signals: %w", err)
	}

	return c, nil
}

func isAlreadySubscribed(err error) bool {
	dbusErr, ok := err.(dbus.Error)
	return ok && dbusErr.Name == "org.freedesktop.systemd1.AlreadySubscribed"
}

// StartUnit issues a StartUnit request in "replace" mode and returns the
// queued job's object path.
func (c *SystemdClient) StartUnit(ctx context.Context, unit string) (string, error) {
	var job dbus.ObjectPath
	err := c.conn.Object(systemdBusName, systemdPath).
		CallWithContext(ctx, systemdManager+".StartUnit", 0, unit, "replace").
		Store(&job)
	if err != nil {
		return "", err
	}
	return string(job), nil
}

// WatchUnit subscribes to property-change notifications for the unit's
// object path. onChange fires on every notification; callers query
// ActiveState to decide what, if anything, changed.
func (c *SystemdClient) WatchUnit(unit string, onChange func()) (UnitWatch, error) {
	path := UnitPath(unit)
	w := &unitWatch{
		client:   c,
		path:     path,
		onChange: onChange,
		opts: []dbus.MatchOption{
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchObjectPath(path),
		},
	}

	c.mu.Lock()
	if _, exists := c.watches[path]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("unit %q is already watched", unit)
	}
	if err := c.conn.AddMatchSignal(w.opts...); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to add property match for %q: %w", unit, err)
	}
	c.watches[path] = w
	c.mu.Unlock()

	c.startLoop()

	return w, nil
}

// ActiveState queries the unit's current ActiveState property value.
func (c *SystemdClient) ActiveState(ctx context.Context, unit string) (string, error) {
	var v dbus.Variant
	err := c.conn.Object(systemdBusName, UnitPath(unit)).
		CallWithContext(ctx, propsIface+".Get", 0, systemdUnitIface, "ActiveState").
		Store(&v)
	if err != nil {
		return "", err
	}
	state, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected ActiveState type %T", v.Value())
	}
	return state, nil
}

func (c *SystemdClient) startLoop() {
	c.loopOnce.Do(func() {
		c.signals = make(chan *dbus.Signal, 32)
		c.conn.Signal(c.signals)
		go c.loop()
	})
}

func (c *SystemdClient) loop() {
	for sig := range c.signals {
		if sig.Name != propsChanged {
			continue
		}

		c.mu.Lock()
		w := c.watches[sig.Path]
		c.mu.Unlock()
		if w == nil {
			continue
		}

		w.onChange()
	}
}

type unitWatch struct {
	client   *SystemdClient
	path     dbus.ObjectPath
	onChange func()
	opts     []dbus.MatchOption

	once sync.Once
}

// Close removes the property subscription. Safe to call once per watch.
func (w *unitWatch) Close() {
	w.once.Do(func() {
		w.client.mu.Lock()
		delete(w.client.watches, w.path)
		w.client.mu.Unlock()

		if err := w.client.conn.RemoveMatchSignal(w.opts...); err != nil {
			w.client.logger.Warn("Failed to remove property match",
				zap.String("path", string(w.path)),
				zap.Error(err))
		}
	})
}

// UnitPath returns the systemd object path for a unit name, applying the
// same label escaping sd_bus_path_encode uses: alphanumerics pass
// through, everything else becomes an underscore followed by two lower
// hex digits, and a leading digit is escaped as well.
func UnitPath(unit string) dbus.ObjectPath {
	if unit == "" {
		return dbus.ObjectPath(unitPathPrefix + "_")
	}

	var sb strings.Builder
	for i := 0; i < len(unit); i++ {
		c := unit[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			sb.WriteByte(c)
		case c >= '0' && c <= '9':
			if i == 0 {
				fmt.Fprintf(&sb, "_%02x", c)
			} else {
				sb.WriteByte(c)
			}
		default:
			fmt.Fprintf(&sb, "_%02x", c)
		}
	}
	return dbus.ObjectPath(unitPathPrefix + sb.String())
}
