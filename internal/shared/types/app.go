package types

import "sync"

// Status represents app lifecycle states
type Status string

const (
	StatusInactive Status = "inactive"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
)

// ActivationMethod selects the strategy used to launch an application.
type ActivationMethod string

const (
	// ActivationProcess spawns the application command directly.
	ActivationProcess ActivationMethod = "process"
	// ActivationDBus requests D-Bus activation of the application's bus name.
	ActivationDBus ActivationMethod = "dbus"
	// ActivationSystemd starts the application as a templated systemd unit.
	ActivationSystemd ActivationMethod = "systemd"
)

// Valid reports whether m is one of the known activation methods.
func (m ActivationMethod) Valid() bool {
	switch m {
	case ActivationProcess, ActivationDBus, ActivationSystemd:
		return true
	}
	return false
}

// RuntimeHandle is the backend-specific state of an in-flight activation.
// Each backend defines its own implementation; a record holds at most one
// handle at a time, owned by the backend that started the activation.
type RuntimeHandle interface {
	isRuntimeHandle()
}

// Handle can be embedded by backend runtime-data types to mark them
// as RuntimeHandle implementations.
type Handle struct{}

func (Handle) isRuntimeHandle() {}

// App is one known application: immutable catalog metadata plus the
// mutable activation state owned by whichever backend currently runs it.
type App struct {
	ID         string
	Name       string
	IconPath   string
	Command    string
	Activation ActivationMethod
	Graphical  bool

	mu      sync.Mutex
	status  Status
	runtime RuntimeHandle
}

// NewApp creates a catalog record in the Inactive state.
func NewApp(id, name, iconPath, command string, activation ActivationMethod, graphical bool) *App {
	return &App{
		ID:         id,
		Name:       name,
		IconPath:   iconPath,
		Command:    command,
		Activation: activation,
		Graphical:  graphical,
		status:     StatusInactive,
	}
}

// Status returns the current lifecycle status.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Runtime returns the current runtime handle, nil when Inactive.
func (a *App) Runtime() RuntimeHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runtime
}

// BeginActivation reserves the record for a new activation attempt.
// It moves the record from Inactive to the given status and reports
// whether the reservation succeeded. A false result means another
// activation is already in flight and the caller must not start one.
func (a *App) BeginActivation(status Status) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusInactive {
		return false
	}
	a.status = status
	return true
}

// SetRuntime attaches the backend's runtime data to an in-flight activation.
func (a *App) SetRuntime(h RuntimeHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtime = h
}

// MarkRunning moves a Starting record to Running. It reports whether the
// status changed, so callers can apply a transition at most once when the
// underlying readiness signal fires repeatedly.
func (a *App) MarkRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusRunning || a.status == StatusInactive {
		return false
	}
	a.status = StatusRunning
	return true
}

// ClearActivation resets the record to Inactive and detaches the runtime
// handle, returning it so the owning backend can release its resources.
// It reports false if the record was already Inactive, in which case the
// termination event was a duplicate and must be dropped.
func (a *App) ClearActivation() (RuntimeHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusInactive {
		return nil, false
	}
	h := a.runtime
	a.status = StatusInactive
	a.runtime = nil
	return h, true
}

// Abort rolls back a reservation made by BeginActivation after a failed
// start, releasing the record with all partial state cleared.
func (a *App) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusInactive
	a.runtime = nil
}

// Entry is the catalog listing shape sent to API consumers.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IconPath string `json:"icon_path"`
}

// EventKind distinguishes lifecycle event types.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventTerminated EventKind = "terminated"
)

// Event is a unified lifecycle notification republished by the launcher.
type Event struct {
	Kind  EventKind
	AppID string
}

// EventFunc receives lifecycle events from a backend or the launcher.
type EventFunc func(Event)
