// Package cli holds the flag parsing and start-up wiring shared by the
// speedgauge subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alexflint/go-arg"
	"golang.org/x/sync/errgroup"

	"github.com/saveenergy/speedgauge/internal/config"
	"github.com/saveenergy/speedgauge/internal/engine"
	"github.com/saveenergy/speedgauge/internal/engine/remote"
	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/internal/publish"
	"github.com/saveenergy/speedgauge/pkg/session"
)

// Common are the flags every front-end accepts. Set flags override the
// config file and the environment.
type Common struct {
	Config    string `arg:"-c,--config" placeholder:"FILE" help:"config file (default: user config dir)"`
	Engine    string `arg:"-e,--engine" help:"measurement engine: simulated or remote"`
	RemoteURL string `arg:"--remote-url" placeholder:"URL" help:"websocket URL of a remote engine"`
	Title     string `arg:"--title" help:"window and page title"`
	MQTT      string `arg:"--mqtt" placeholder:"BROKER" help:"publish the display to this MQTT broker"`
	LogLevel  string `arg:"--log-level" help:"debug, info, warn or error"`
	LogFile   string `arg:"--log-file" placeholder:"FILE" help:"append logs to this file"`
}

// Apply copies set flags onto cfg.
func (c Common) Apply(cfg *config.Config) {
	if c.Engine != "" {
		cfg.Engine = c.Engine
	}
	if c.RemoteURL != "" {
		cfg.RemoteURL = c.RemoteURL
	}
	if c.Title != "" {
		cfg.Title = c.Title
	}
	if c.MQTT != "" {
		cfg.MQTTBroker = c.MQTT
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFile != "" {
		cfg.LogFile = c.LogFile
	}
}

// Parse fills dest from args. When it returns ok=false the caller should
// exit with code: 0 after help or version output, 2 on a usage error.
func Parse(dest interface{}, program string, args []string, stdout, stderr io.Writer) (code int, ok bool) {
	p, err := arg.NewParser(arg.Config{Program: program}, dest)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", program, err)
		return 2, false
	}
	switch err := p.Parse(args); {
	case err == nil:
		return 0, true
	case errors.Is(err, arg.ErrHelp):
		p.WriteHelp(stdout)
		return 0, false
	case errors.Is(err, arg.ErrVersion):
		fmt.Fprintln(stdout, versionOf(dest))
		return 0, false
	default:
		p.WriteUsage(stderr)
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2, false
	}
}

func versionOf(dest interface{}) string {
	if v, ok := dest.(interface{ Version() string }); ok {
		return v.Version()
	}
	return ""
}

// Setup loads and validates the configuration and points logging at the
// configured level and file. quiet sends logs nowhere unless a log file is
// set, for front-ends that own the terminal. The returned closer releases
// the log file.
func Setup(common Common, quiet bool) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(common.Config)
	if err != nil {
		return nil, nil, err
	}
	common.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	root := logging.GetLogger()
	root.SetLevel(logging.ParseLevel(cfg.LogLevel))

	var closer io.Closer = nopCloser{}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		root.SetOutput(f)
		closer = f
	case quiet:
		root.SetOutput(io.Discard)
	}
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewController builds the configured engine and a controller driving it.
// A remote engine is dialled here because its Start never dials; a failed
// dial is retried in the background. The release function closes the engine.
func NewController(ctx context.Context, cfg *config.Config) (*session.Controller, func() error, error) {
	eng, release, err := engine.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if r, ok := eng.(*remote.Engine); ok {
		if err := r.Connect(ctx); err != nil {
			logging.Warn("remote engine not reachable yet, will retry on start",
				logging.Field{Key: "url", Value: cfg.RemoteURL},
				logging.Field{Key: "error", Value: err})
		}
	}
	return session.NewController(eng), release, nil
}

// StartPublisher mirrors controller snapshots to MQTT when a broker is
// configured. It is a no-op otherwise.
func StartPublisher(ctx context.Context, g *errgroup.Group, cfg *config.Config, ctrl *session.Controller) error {
	if cfg.MQTTBroker == "" {
		return nil
	}
	pub, err := publish.Dial(publish.Config{
		Broker:   cfg.MQTTBroker,
		Topic:    cfg.MQTTTopic,
		ClientID: cfg.MQTTClientID,
		QoS:      cfg.MQTTQoS,
	})
	if err != nil {
		return err
	}
	updates, cancel := ctrl.Watch()
	g.Go(func() error {
		defer pub.Close()
		defer cancel()
		return IgnoreCanceled(pub.Run(ctx, updates))
	})
	logging.Info("publishing display", logging.Field{Key: "broker", Value: cfg.MQTTBroker}, logging.Field{Key: "topic", Value: cfg.MQTTTopic})
	return nil
}

// IgnoreCanceled treats a cancelled context as a clean shutdown.
func IgnoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
