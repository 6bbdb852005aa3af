package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/settle"
	"github.com/xraph/settle/api"
	vault "github.com/xraph/settle/asset/memory"
	audithook "github.com/xraph/settle/audit_hook"
	"github.com/xraph/settle/config"
	"github.com/xraph/settle/internal/telemetry"
	"github.com/xraph/settle/internal/version"
	"github.com/xraph/settle/observability"
	"github.com/xraph/settle/store/backend"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the settlement HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().Int("port", config.DefaultPort, "HTTP listen port")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

// server is a fully wired settle process.
type server struct {
	engine  *settle.Engine
	vault   *vault.Vault
	handler http.Handler
	logger  *slog.Logger

	shutdownTelemetry func(context.Context) error
}

// newServer opens the store, seeds the vault and wires the engine, its
// plugins and the HTTP routes. /metrics serves a private Prometheus registry.
func newServer(ctx context.Context, cfg config.Config, logOut io.Writer) (*server, error) {
	logger := cfg.Logger(logOut).With("service", cfg.Telemetry.ServiceName)

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, version.Version)
	if err != nil {
		return nil, err
	}

	st, err := backend.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, err
	}
	pool := cfg.Pool()
	holdings := vault.New(pool, vault.WithBalance(pool, cfg.Balance()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	auditLog := logger.With("component", "audit")
	opts := append(cfg.EngineOptions(),
		settle.WithLogger(logger),
		settle.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		settle.WithPlugin(audithook.New(audithook.RecorderFunc(func(ctx context.Context, e *audithook.AuditEvent) error {
			auditLog.InfoContext(ctx, e.Action,
				"resource", e.Resource,
				"resource_id", e.ResourceID,
				"outcome", e.Outcome,
				"severity", e.Severity,
				"actor", e.Actor,
				"reason", e.Reason,
				"metadata", e.Metadata,
			)
			return nil
		}), audithook.WithLogger(logger))),
	)

	eng, err := settle.New(st, holdings, opts...)
	if err != nil {
		_ = st.Close()
		_ = shutdownTelemetry(ctx)
		return nil, err
	}
	if err := eng.Start(ctx); err != nil {
		_ = st.Close()
		_ = shutdownTelemetry(ctx)
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", api.New(eng,
		api.WithLogger(logger),
		api.WithVersion(version.Version),
		api.WithCORSOrigins(cfg.CORSOrigins...),
	))

	return &server{
		engine:            eng,
		vault:             holdings,
		handler:           mux,
		logger:            logger,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// Close stops the engine, which closes the store, then flushes spans.
func (s *server) Close(ctx context.Context) error {
	return errors.Join(s.engine.Stop(ctx), s.shutdownTelemetry(ctx))
}

func serve(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	srv, err := newServer(ctx, cfg, logOut)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("settle: listening",
			"addr", httpSrv.Addr,
			"store", cfg.Store.Driver,
			"pool", cfg.Pool().Hex(),
			"version", version.Version,
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("settle: listen: %w", err)
		}
	case <-ctx.Done():
		srv.logger.Info("settle: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, httpSrv.Shutdown(shutdownCtx), srv.Close(shutdownCtx))
}
