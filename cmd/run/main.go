// Package runcmd implements `speedgauge run`: one measurement without a
// display, printed as text or JSON.
package runcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/saveenergy/speedgauge/internal/api"
	"github.com/saveenergy/speedgauge/internal/cli"
	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/pkg/client"
	"github.com/saveenergy/speedgauge/pkg/session"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitInterrupt = 130
)

type args struct {
	cli.Common
	Format  string        `arg:"-f,--format" default:"auto" help:"auto, interactive, plain, json or ndjson"`
	NoColor bool          `arg:"--no-color" help:"disable ANSI colors"`
	Timeout time.Duration `arg:"-t,--timeout" help:"abort the run after this long (0 means no limit)"`
	Server  string        `arg:"--server" placeholder:"URL" help:"drive the gauge of a running 'speedgauge web' instead of a local engine"`
	Poll    time.Duration `arg:"--poll" default:"500ms" help:"display poll interval with --server"`

	version string
}

func (a args) Version() string { return "speedgauge " + a.version }

func (args) Description() string {
	return "Run one measurement and print the result."
}

// resolveFormat picks interactive output for terminals and plain otherwise.
func resolveFormat(format string, isTerminal bool) string {
	if format != formatAuto {
		return format
	}
	if isTerminal {
		return formatInteractive
	}
	return formatPlain
}

func Run(argv []string, version string) int {
	a := args{version: version}
	if code, ok := cli.Parse(&a, "speedgauge run", argv, os.Stdout, os.Stderr); !ok {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format := resolveFormat(a.Format, term.IsTerminal(int(os.Stdout.Fd())))
	noColor := a.NoColor || os.Getenv("NO_COLOR") != ""
	code, err := run(ctx, a, format, noColor, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedgauge run: %v\n", err)
	}
	return code
}

func run(ctx context.Context, a args, format string, noColor bool, out io.Writer) (int, error) {
	formatter, err := NewFormatter(format, out, noColor)
	if err != nil {
		return exitFailure, err
	}
	// Interactive output shares the terminal with the progress line.
	cfg, logCloser, err := cli.Setup(a.Common, format == formatInteractive)
	if err != nil {
		return exitFailure, err
	}
	defer logCloser.Close()

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	if a.Server != "" {
		snap, err := measureRemote(ctx, client.New(a.Server), a.Poll, formatter)
		return report(formatter, snap, err, a.Timeout)
	}

	ctrl, release, err := cli.NewController(ctx, cfg)
	if err != nil {
		return exitFailure, err
	}
	defer func() {
		if err := release(); err != nil {
			logging.Warn("engine release failed", logging.Field{Key: "error", Value: err})
		}
	}()

	// The controller outlives ctx so an interrupt can still be turned into
	// an abort.
	ctrlCtx, stopCtrl := context.WithCancel(context.Background())
	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		ctrl.Run(ctrlCtx)
	}()
	defer func() {
		stopCtrl()
		<-ctrlDone
	}()

	snap, err := ctrl.Measure(ctx, formatter.Update)
	return report(formatter, snap, err, a.Timeout)
}

// report prints the end of a run and maps it to an exit code.
func report(formatter Formatter, snap session.Snapshot, err error, timeout time.Duration) (int, error) {
	switch {
	case err == nil:
		formatter.Complete(NewResult(snap))
		return exitSuccess, nil
	case errors.Is(err, context.Canceled):
		formatter.Aborted(snap)
		return exitInterrupt, nil
	case errors.Is(err, context.DeadlineExceeded):
		formatter.Aborted(snap)
		return exitFailure, fmt.Errorf("timed out after %s", timeout)
	default:
		return exitFailure, err
	}
}

// measureRemote runs the session on a speedgauge web server.
func measureRemote(ctx context.Context, c *client.Client, poll time.Duration, formatter Formatter) (session.Snapshot, error) {
	d, err := c.Measure(ctx, poll, func(d *api.DisplayResponse) {
		formatter.Update(d.Snapshot())
	})
	if d == nil {
		return session.Snapshot{}, err
	}
	return d.Snapshot(), err
}
