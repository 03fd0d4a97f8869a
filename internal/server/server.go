package server

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	bussvc "github.com/agl-services/applaunchd/internal/api/bus"
	httpapi "github.com/agl-services/applaunchd/internal/api/http"
	"github.com/agl-services/applaunchd/internal/api/middleware"
	"github.com/agl-services/applaunchd/internal/backend/dbusapp"
	"github.com/agl-services/applaunchd/internal/backend/process"
	"github.com/agl-services/applaunchd/internal/backend/systemd"
	"github.com/agl-services/applaunchd/internal/domain/launcher"
	"github.com/agl-services/applaunchd/internal/domain/registry"
	"github.com/agl-services/applaunchd/internal/infrastructure/config"
	"github.com/agl-services/applaunchd/internal/infrastructure/logging"
	"github.com/agl-services/applaunchd/internal/infrastructure/monitoring"
	"github.com/agl-services/applaunchd/internal/platform/dbusutil"
	"github.com/agl-services/applaunchd/internal/shared/types"
)

// Server wires the daemon together: bus connections, registry, backends,
// launcher, the bus-facing service and the monitoring HTTP listener.
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics

	sessionConn *dbus.Conn
	systemConn  *dbus.Conn

	launcher *launcher.Launcher
	bus      *bussvc.Service
	httpSrv  *nethttp.Server
}

// New creates a fully wired server instance.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: false,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			logger = logging.NewDefault()
		} else {
			logger = l
		}
	}

	logger.Info("Initializing applaunchd",
		zap.String("bus_name", cfg.Bus.Name),
		zap.String("catalog", cfg.Catalog.Path))

	metrics := monitoring.NewMetrics()

	// Application catalog
	apps, err := registry.NewSeeder(cfg.Catalog.Path, logger.Named("registry")).Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Application catalog not found, starting with an empty registry",
				zap.String("path", cfg.Catalog.Path))
			apps = nil
		} else {
			return nil, err
		}
	}
	reg := registry.New(apps)

	// Bus connections: application activation always happens on the
	// session bus, unit activation on the system bus.
	sessionConn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	s := &Server{
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
		sessionConn: sessionConn,
	}

	appBus := dbusutil.NewBus(sessionConn, logger.Named("dbus"))

	l := launcher.New(reg, logger.Named("launcher")).WithMetrics(metrics)
	l.RegisterBackend(types.ActivationProcess,
		process.NewManager(process.ExecSpawner{}, logger.Named("process")))
	l.RegisterBackend(types.ActivationDBus,
		dbusapp.NewManager(appBus, logger.Named("dbusapp")))

	// Unit activation is optional: without a system bus the daemon
	// still serves direct-spawn and bus-activated applications.
	if systemConn, err := dbus.ConnectSystemBus(); err != nil {
		logger.Warn("System bus unavailable, unit activation disabled", zap.Error(err))
	} else if client, err := dbusutil.NewSystemdClient(systemConn, logger.Named("systemd")); err != nil {
		logger.Warn("systemd unavailable, unit activation disabled", zap.Error(err))
		systemConn.Close()
	} else {
		s.systemConn = systemConn
		l.RegisterBackend(types.ActivationSystemd,
			systemd.NewManager(client, cfg.Systemd.UnitTemplate, logger.Named("systemd")))
	}
	s.launcher = l

	serviceConn := sessionConn
	if cfg.Bus.SystemBus {
		if s.systemConn == nil {
			sessionConn.Close()
			return nil, errors.New("system bus requested for service name but unavailable")
		}
		serviceConn = s.systemConn
	}
	s.bus = bussvc.New(serviceConn, l, cfg.Bus.Name, cfg.Bus.ObjectPath,
		logger.Named("bus")).WithMetrics(metrics)

	if cfg.HTTP.Enabled {
		s.httpSrv = &nethttp.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: s.buildRouter(),
		}
	}

	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}
	router.Use(monitoring.Middleware(s.metrics))

	httpapi.NewHandlers(s.launcher, s.metrics).Register(router)

	return router
}

// Run exports the bus service and blocks until the context is canceled,
// the well-known name is lost, or the monitoring listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.bus.Export(); err != nil {
		return fmt.Errorf("failed to export bus service: %w", err)
	}

	httpErr := make(chan error, 1)
	if s.httpSrv != nil {
		go func() {
			s.logger.Info("Monitoring listener starting",
				zap.String("addr", s.httpSrv.Addr))
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	// Let systemd know we are ready to serve.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.logger.Debug("sd_notify unavailable", zap.Error(err))
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down")
	case <-s.bus.LostName():
		runErr = errors.New("lost bus name " + s.config.Bus.Name)
	case err := <-httpErr:
		runErr = fmt.Errorf("monitoring listener failed: %w", err)
	}

	s.shutdown()
	return runErr
}

func (s *Server) shutdown() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		s.logger.Debug("sd_notify unavailable", zap.Error(err))
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("Monitoring listener shutdown failed", zap.Error(err))
		}
	}

	if s.systemConn != nil {
		s.systemConn.Close()
	}
	s.sessionConn.Close()
}
