// Package tuicmd implements `speedgauge tui`, the default front-end: the
// gauge display drawn in the terminal.
package tuicmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/saveenergy/speedgauge/internal/cli"
	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/internal/tui"
)

type args struct {
	cli.Common
	Start bool `arg:"-s,--start" help:"start a run as soon as the display is up"`

	version string
}

func (a args) Version() string { return "speedgauge " + a.version }

func (args) Description() string {
	return "Show the speed gauge in the terminal. Keys: s start, a abort, space toggle, q quit."
}

func Run(argv []string, version string) int {
	a := args{version: version}
	if code, ok := cli.Parse(&a, "speedgauge tui", argv, os.Stdout, os.Stderr); !ok {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a); err != nil {
		fmt.Fprintf(os.Stderr, "speedgauge tui: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, a args) error {
	// The UI owns the terminal, so logs go to the log file or nowhere.
	cfg, logCloser, err := cli.Setup(a.Common, true)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctrl, release, err := cli.NewController(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			logging.Warn("engine release failed", logging.Field{Key: "error", Value: err})
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return cli.IgnoreCanceled(ctrl.Run(gctx))
	})
	if err := cli.StartPublisher(gctx, g, cfg, ctrl); err != nil {
		logging.Warn("MQTT publishing disabled", logging.Field{Key: "error", Value: err})
	}

	app := tui.New(ctrl, cfg.Title)
	g.Go(func() error {
		// Quitting the UI ends every other goroutine.
		defer cancel()
		return app.Run(gctx)
	})
	if a.Start {
		ctrl.Start()
	}
	return g.Wait()
}
