package dbusutil

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
)

const (
	fdoBusName       = "org.freedesktop.DBus"
	fdoApplication   = "org.freedesktop.Application"
	nameOwnerChanged = "org.freedesktop.DBus.NameOwnerChanged"

	// StartServiceByName reply codes.
	startReplySuccess        = 1
	startReplyAlreadyRunning = 2
)

// NameWatch is a registered bus-name ownership watch.
type NameWatch interface {
	Unwatch()
}

// ApplicationProxy calls the org.freedesktop.Application interface of a
// running application.
type ApplicationProxy interface {
	Activate() error
}

// Bus wraps a message-bus connection with name-ownership watches and
// foreground-activation proxies.
type Bus struct {
	conn   *dbus.Conn
	logger *logging.Logger

	mu      sync.Mutex
	watches map[string]*nameWatch

	signals  chan *dbus.Signal
	loopOnce sync.Once
}

// NewBus wraps an established bus connection.
func NewBus(conn *dbus.Conn, logger *logging.Logger) *Bus {
	return &Bus{
		conn:    conn,
		logger:  logger,
		watches: make(map[string]*nameWatch),
	}
}

// Conn exposes the underlying connection.
func (b *Bus) Conn() *dbus.Conn {
	return b.conn
}

// WatchName subscribes to ownership changes of a well-known bus name.
// With autoStart set, registration also requests bus activation of the
// name. Callbacks are delivered asynchronously, after WatchName returns:
// onAppeared when the name gains an owner, onVanished when it loses its
// owner or cannot be activated.
func (b *Bus) WatchName(name string, autoStart bool, onAppeared func(owner string), onVanished func()) (NameWatch, error) {
	w := &nameWatch{
		bus:        b,
		name:       name,
		onAppeared: onAppeared,
		onVanished: onVanished,
		opts: []dbus.MatchOption{
			dbus.WithMatchSender(fdoBusName),
			dbus.WithMatchInterface(fdoBusName),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, name),
		},
	}

	b.mu.Lock()
	if _, exists := b.watches[name]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("name %q is already watched", name)
	}
	if err := b.conn.AddMatchSignal(w.opts...); err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to add signal match for %q: %w", name, err)
	}
	b.watches[name] = w
	b.mu.Unlock()

	b.startLoop()
	go b.probe(w, autoStart)

	return w, nil
}

// probe resolves the initial ownership state of a freshly watched name
// and, when requested, asks the bus to activate it.
func (b *Bus) probe(w *nameWatch, autoStart bool) {
	var owner string
	err := b.conn.BusObject().Call(fdoBusName+".GetNameOwner", 0, w.name).Store(&owner)
	if err == nil {
		w.onAppeared(owner)
		return
	}

	if !autoStart {
		w.onVanished()
		return
	}

	var reply uint32
	err = b.conn.BusObject().Call(fdoBusName+".StartServiceByName", 0, w.name, uint32(0)).Store(&reply)
	if err != nil {
		b.logger.Warn("D-Bus activation request failed",
			zap.String("name", w.name),
			zap.Error(err))
		w.onVanished()
		return
	}

	// With an already-running service no NameOwnerChanged follows, so
	// resolve the owner here.
	if reply == startReplyAlreadyRunning {
		if err := b.conn.BusObject().Call(fdoBusName+".GetNameOwner", 0, w.name).Store(&owner); err == nil {
			w.onAppeared(owner)
		}
	}
}

func (b *Bus) startLoop() {
	b.loopOnce.Do(func() {
		b.signals = make(chan *dbus.Signal, 32)
		b.conn.Signal(b.signals)
		go b.loop()
	})
}

func (b *Bus) loop() {
	for sig := range b.signals {
		if sig.Name != nameOwnerChanged || len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)

		b.mu.Lock()
		w := b.watches[name]
		b.mu.Unlock()
		if w == nil {
			continue
		}

		if newOwner == "" {
			w.onVanished()
		} else {
			// A replaced owner is reported as a fresh appearance.
			w.onAppeared(newOwner)
		}
	}
}

// ApplicationProxy creates a proxy for the application's
// org.freedesktop.Application interface at the given object path.
func (b *Bus) ApplicationProxy(busName, objectPath string) (ApplicationProxy, error) {
	path := dbus.ObjectPath(objectPath)
	if !path.IsValid() {
		return nil, fmt.Errorf("invalid object path %q", objectPath)
	}
	return &appProxy{obj: b.conn.Object(busName, path)}, nil
}

type nameWatch struct {
	bus  *Bus
	name string

	onAppeared func(owner string)
	onVanished func()
	opts       []dbus.MatchOption

	once sync.Once
}

// Unwatch removes the ownership subscription. Safe to call once per watch.
func (w *nameWatch) Unwatch() {
	w.once.Do(func() {
		w.bus.mu.Lock()
		delete(w.bus.watches, w.name)
		w.bus.mu.Unlock()

		if err := w.bus.conn.RemoveMatchSignal(w.opts...); err != nil {
			w.bus.logger.Warn("Failed to remove signal match",
				zap.String("name", w.name),
				zap.Error(err))
		}
	})
}

type appProxy struct {
	obj dbus.BusObject
}

// Activate calls org.freedesktop.Application.Activate with an empty
// platform-data dictionary.
func (p *appProxy) Activate() error {
	return p.obj.Call(fdoApplication+".Activate", 0, map[string]dbus.Variant{}).Err
}
