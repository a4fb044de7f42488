package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/0xReLogic/hellomongo/internal/adminapi"
	"github.com/0xReLogic/hellomongo/internal/config"
	"github.com/0xReLogic/hellomongo/internal/database"
	"github.com/0xReLogic/hellomongo/internal/greeting"
	"github.com/0xReLogic/hellomongo/internal/logging"
	"github.com/0xReLogic/hellomongo/internal/metrics"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// run owns the database handle for the lifetime of the process: it is opened
// before the listeners bind and closed after they have drained.
func run(ctx context.Context, cfg *config.Config) error {
	mc := metrics.NewMetricsCollector()
	db, policy := newDatabase(cfg.Mongo, mc)
	logStartupInfo(cfg, policy)

	if err := db.Open(ctx, policy); err != nil {
		closeDatabase(db, shutdownTimeout(cfg.Server))
		return fmt.Errorf("database required at startup: %w", err)
	}
	defer closeDatabase(db, shutdownTimeout(cfg.Server))

	publicLn, err := listen(cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("failed to bind port %d: %w", cfg.Server.Port, err)
	}

	var adminLn net.Listener
	if cfg.AdminAPI.Enabled {
		adminLn, err = listen(adminPort(cfg.AdminAPI))
		if err != nil {
			_ = publicLn.Close()
			return fmt.Errorf("failed to bind admin port %d: %w", adminPort(cfg.AdminAPI), err)
		}
	}

	return serve(ctx, cfg, db, mc, publicLn, adminLn)
}

// newDatabase builds the handle and wires its lifecycle into the collector.
func newDatabase(cfg config.MongoConfig, mc *metrics.MetricsCollector) (*database.Handle, database.StartupPolicy) {
	opts, policy := database.FromConfig(cfg)
	opts.OnAttempt = mc.RecordConnectAttempt
	opts.OnStateChange = func(state database.State, err error) {
		mc.UpdateDatabaseState(state.String(), err)
	}
	mc.UpdateDatabaseState(database.StatePending.String(), nil)
	return database.New(opts), policy
}

func listen(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%d", port))
}

func adminPort(cfg config.AdminAPIConfig) int {
	if cfg.Port == 0 {
		return config.DefaultAdminPort
	}
	return cfg.Port
}

// serve runs the public listener and, when adminLn is not nil, the operations
// listener until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, db adminapi.Database, mc *metrics.MetricsCollector, publicLn, adminLn net.Listener) error {
	servers := []*http.Server{createHTTPServer(cfg.Server, greeting.NewRouter(cfg.Logging, mc))}
	listeners := []net.Listener{publicLn}

	if adminLn != nil {
		adminHandler, err := adminapi.NewMux(cfg.AdminAPI, db, mc)
		if err != nil {
			_ = publicLn.Close()
			_ = adminLn.Close()
			return err
		}
		servers = append(servers, createHTTPServer(cfg.Server, adminHandler))
		listeners = append(listeners, adminLn)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		i, srv := i, srv
		ln := listeners[i]
		g.Go(func() error {
			return startHTTPServer(srv, ln, i > 0)
		})
	}
	if adminLn != nil {
		logAdminInfo(cfg.AdminAPI, adminLn)
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownGracefully(servers, shutdownTimeout(cfg.Server))
		return nil
	})

	return g.Wait()
}

// createHTTPServer applies the configured timeouts, falling back to defaults.
func createHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  orDefault(cfg.Timeouts.Read, defaultReadTimeout),
		WriteTimeout: orDefault(cfg.Timeouts.Write, defaultWriteTimeout),
		IdleTimeout:  orDefault(cfg.Timeouts.Idle, defaultIdleTimeout),
	}
}

func shutdownTimeout(cfg config.ServerConfig) time.Duration {
	return orDefault(cfg.Timeouts.Shutdown, defaultShutdownTimeout)
}

func orDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func startHTTPServer(server *http.Server, ln net.Listener, admin bool) error {
	logger := logging.L()
	port := ln.Addr().(*net.TCPAddr).Port

	if admin {
		logger.Info().Int("port", port).Msg("admin api server starting")
	} else {
		logger.Info().
			Int("port", port).
			Str("url", fmt.Sprintf("http://localhost:%d", port)).
			Msg("server running")
		logger.Debug().
			Dur("read_timeout", server.ReadTimeout).
			Dur("write_timeout", server.WriteTimeout).
			Dur("idle_timeout", server.IdleTimeout).
			Msg("server timeouts configured")
	}

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on port %d: %w", port, err)
	}
	return nil
}

func logStartupInfo(cfg *config.Config, policy database.StartupPolicy) {
	logger := logging.L()
	logger.Info().
		Int("port", cfg.Server.Port).
		Str("mongo_host", cfg.Mongo.Host).
		Str("startup_policy", policy.String()).
		Bool("admin_api", cfg.AdminAPI.Enabled).
		Msg("hellomongo starting")
}

func logAdminInfo(cfg config.AdminAPIConfig, ln net.Listener) {
	logger := logging.L()
	if cfg.AuthToken != "" {
		logger.Info().Msg("admin api authentication enabled")
	} else {
		logger.Info().Msg("admin api authentication disabled")
	}
	if len(cfg.AllowList) > 0 || len(cfg.DenyList) > 0 {
		logger.Info().
			Strs("allow", cfg.AllowList).
			Strs("deny", cfg.DenyList).
			Str("addr", ln.Addr().String()).
			Msg("admin api ip filter enabled")
	}
}

// shutdownGracefully drains every server within timeout and force-closes
// the ones that do not finish in time.
func shutdownGracefully(servers []*http.Server, timeout time.Duration) {
	logger := logging.L()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info().Dur("timeout", timeout).Msg("shutting down server gracefully")

	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("error during server shutdown")
			if closeErr := server.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("error closing server")
			}
		}
	}

	logger.Info().Msg("server shutdown complete")
}

func closeDatabase(db *database.Handle, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.Close(ctx); err != nil {
		logger := logging.L()
		logger.Error().Err(err).Msg("error closing database")
	}
}
