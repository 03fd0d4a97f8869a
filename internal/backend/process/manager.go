package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

// ErrSpawn indicates the application process could not be started.
var ErrSpawn = errors.New("spawn failed")

// Proc is a started child process being watched for exit.
type Proc interface {
	PID() int
	// Wait blocks until the process exits. It returns nil for a clean
	// exit and an error (an *exec.ExitError for real processes) for an
	// abnormal one.
	Wait() error
}

// Spawner starts child processes. The production implementation is
// ExecSpawner; tests substitute fakes.
type Spawner interface {
	Spawn(argv []string) (Proc, error)
}

// runtimeData tracks one in-flight direct-spawn activation.
type runtimeData struct {
	types.Handle
	pid int
}

// Manager starts applications as child processes and watches them for
// exit. One exit watch exists per spawned process; the watch fires once
// and the bookkeeping entry is removed before the termination event is
// emitted, so each lifetime produces exactly one Terminated event.
type Manager struct {
	spawner Spawner
	logger  *logging.Logger
	emit    types.EventFunc

	mu   sync.Mutex
	apps map[int]*types.App // pid -> owning record
}

// NewManager creates a direct-spawn backend.
func NewManager(spawner Spawner, logger *logging.Logger) *Manager {
	return &Manager{
		spawner: spawner,
		logger:  logger,
		apps:    make(map[int]*types.App),
	}
}

// Notify registers the handler receiving this backend's lifecycle events.
func (m *Manager) Notify(fn types.EventFunc) {
	m.emit = fn
}

// Start spawns the application's command and registers an exit watch.
// The command is split on whitespace; shell quoting is not supported.
func (m *Manager) Start(ctx context.Context, app *types.App) error {
	argv := strings.Fields(app.Command)
	if len(argv) == 0 {
		return fmt.Errorf("%w: application '%s' has an empty command", ErrSpawn, app.ID)
	}

	// Reserve the record so a concurrent duplicate request cannot spawn
	// a second instance.
	if !app.BeginActivation(types.StatusStarting) {
		m.logger.Debug("Application already activating", zap.String("app_id", app.ID))
		return nil
	}

	proc, err := m.spawner.Spawn(argv)
	if err != nil {
		app.Abort()
		m.logger.Error("Unable to start application",
			zap.String("app_id", app.ID),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrSpawn, app.ID, err)
	}

	pid := proc.PID()
	m.mu.Lock()
	m.apps[pid] = app
	m.mu.Unlock()
	app.SetRuntime(&runtimeData{pid: pid})

	m.logger.Debug("Application spawned",
		zap.String("app_id", app.ID),
		zap.Int("pid", pid))

	go m.watch(proc)

	// Direct-spawned processes have no separate readiness signal, so
	// Started is emitted as soon as the spawn succeeds.
	m.notify(types.Event{Kind: types.EventStarted, AppID: app.ID})

	return nil
}

// watch blocks on process exit and applies the terminal transition.
func (m *Manager) watch(proc Proc) {
	err := proc.Wait()
	m.reap(proc.PID(), err)
}

func (m *Manager) reap(pid int, waitErr error) {
	m.mu.Lock()
	app, ok := m.apps[pid]
	delete(m.apps, pid)
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("Unable to retrieve application for pid", zap.Int("pid", pid))
		return
	}

	// Exit classification is for logging only.
	if waitErr == nil {
		m.logger.Debug("Application terminated with exit code 0",
			zap.String("app_id", app.ID))
	} else {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			m.logger.Warn("Application crashed",
				zap.String("app_id", app.ID),
				zap.Int("exit_code", exitErr.ExitCode()))
		} else {
			m.logger.Warn("Application crashed",
				zap.String("app_id", app.ID),
				zap.Error(waitErr))
		}
	}

	if _, cleared := app.ClearActivation(); !cleared {
		m.logger.Warn("Termination for application with no activation state",
			zap.String("app_id", app.ID))
		return
	}

	m.notify(types.Event{Kind: types.EventTerminated, AppID: app.ID})
}

func (m *Manager) notify(ev types.Event) {
	if m.emit != nil {
		m.emit(ev)
	}
}

// ExecSpawner starts processes with os/exec, resolving the executable
// through the search path.
type ExecSpawner struct{}

// Spawn starts argv[0] with the remaining arguments.
func (ExecSpawner) Spawn(argv []string) (Proc, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProc{cmd: cmd}, nil
}

type execProc struct {
	cmd *exec.Cmd
}

func (p *execProc) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProc) Wait() error {
	return p.cmd.Wait()
}
