// Package webcmd implements `speedgauge web`: the gauge display served to
// browsers over HTTP and websocket.
package webcmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saveenergy/speedgauge/internal/api"
	"github.com/saveenergy/speedgauge/internal/cli"
	"github.com/saveenergy/speedgauge/internal/config"
	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/internal/websocket"
	"github.com/saveenergy/speedgauge/pkg/session"
)

const shutdownTimeout = 10 * time.Second

type args struct {
	cli.Common
	Listen    string `arg:"-l,--listen" placeholder:"ADDR" help:"HTTP listen address"`
	WebRoot   string `arg:"--web-root" placeholder:"DIR" help:"serve the page from this directory instead of the built-in copy"`
	NoMetrics bool   `arg:"--no-metrics" help:"do not expose /metrics"`

	version string
}

func (a args) Version() string { return "speedgauge " + a.version }

func (args) Description() string {
	return "Serve the speed gauge display to browsers."
}

func (a args) apply(cfg *config.Config) {
	if a.Listen != "" {
		cfg.ListenAddress = a.Listen
	}
	if a.WebRoot != "" {
		cfg.WebRoot = a.WebRoot
	}
	if a.NoMetrics {
		cfg.MetricsEnabled = false
	}
}

// Run is the subcommand entry point; it returns the process exit code.
func Run(argv []string, version string) int {
	a := args{version: version}
	if code, ok := cli.Parse(&a, "speedgauge web", argv, os.Stdout, os.Stderr); !ok {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a, nil); err != nil {
		fmt.Fprintf(os.Stderr, "speedgauge web: %v\n", err)
		return 1
	}
	return 0
}

// run serves until ctx is cancelled. ready, if set, receives the bound
// address once the listener is up.
func run(ctx context.Context, a args, ready chan<- string) error {
	cfg, logCloser, err := cli.Setup(a.Common, false)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	a.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctrl, release, err := cli.NewController(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			logging.Warn("engine release failed", logging.Field{Key: "error", Value: err})
		}
	}()

	wsServer := websocket.NewServer(ctrl)
	wsServer.SetAllowedOrigins(cfg.AllowedOrigins)
	wsServer.SetPingInterval(cfg.WebSocketPingInterval)

	srv := &http.Server{
		Handler:           newRouter(cfg, ctrl, wsServer, a.version),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cli.IgnoreCanceled(ctrl.Run(gctx))
	})
	updates, cancelWatch := ctrl.Watch()
	g.Go(func() error {
		defer cancelWatch()
		return cli.IgnoreCanceled(wsServer.Run(gctx, updates))
	})
	if err := cli.StartPublisher(gctx, g, cfg, ctrl); err != nil {
		logging.Warn("MQTT publishing disabled", logging.Field{Key: "error", Value: err})
	}
	g.Go(func() error {
		logging.Info("Server starting",
			logging.Field{Key: "address", Value: ln.Addr().String()},
			logging.Field{Key: "engine", Value: cfg.Engine})
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		wsServer.Close()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logging.Info("Server stopped")
	return err
}

func newRouter(cfg *config.Config, ctrl *session.Controller, wsServer *websocket.Server, version string) http.Handler {
	handler := api.NewHandler(ctrl)
	handler.SetVersion(version)
	handler.SetTitle(cfg.Title)

	router := api.NewRouter(handler)
	router.SetRateLimiter(api.NewRateLimiter(cfg))
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetWebSocketHandler(wsServer.HandleDisplay)
	router.SetWebRoot(cfg.WebRoot)
	if cfg.MetricsEnabled {
		router.EnableMetrics()
	}
	return router.SetupRoutes()
}
