// Package simulated implements a self-contained demo engine. It walks through
// the ping, download and upload phases of a speed test on a ticker and
// produces plausible readings without touching the network.
package simulated

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/pkg/session"
)

var ErrAlreadyRunning = errors.New("simulated run already active")

type Config struct {
	Tick             time.Duration
	PingDuration     time.Duration
	DownloadDuration time.Duration
	UploadDuration   time.Duration
	DownloadTarget   float64 // Mbit/s
	UploadTarget     float64 // Mbit/s
	PingMs           float64
	JitterMs         float64
	// Wobble is the relative noise applied to every rate sample.
	Wobble float64
	Seed   uint64
}

func DefaultConfig() Config {
	return Config{
		Tick:             100 * time.Millisecond,
		PingDuration:     2 * time.Second,
		DownloadDuration: 10 * time.Second,
		UploadDuration:   10 * time.Second,
		DownloadTarget:   94.0,
		UploadTarget:     38.0,
		PingMs:           14.0,
		JitterMs:         2.0,
		Wobble:           0.08,
		Seed:             1,
	}
}

type Engine struct {
	cfg    Config
	logger *logging.Logger

	mu    sync.Mutex
	sink  session.Sink
	gen   uint64
	stop  chan struct{}
	state session.EngineState
}

func New(cfg Config) *Engine {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	return &Engine{
		cfg:    cfg,
		logger: logging.NewLogger("engine.simulated"),
	}
}

func (e *Engine) Subscribe(sink session.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == session.EngineRunning {
		return ErrAlreadyRunning
	}
	e.gen++
	e.stop = make(chan struct{})
	e.state = session.EngineRunning

	r := &run{
		engine: e,
		gen:    e.gen,
		stop:   e.stop,
		sink:   e.sink,
		script: newScript(e.cfg, rand.New(rand.NewPCG(e.cfg.Seed, e.gen))),
	}
	go r.loop(e.cfg.Tick)

	e.logger.Debug("simulated run started", logging.Field{Key: "run", Value: e.gen})
	return nil
}

// Abort stops the active run. A tick already past its stop check may still
// deliver one trailing sample; callers discard it by session.
func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != session.EngineRunning {
		return nil
	}
	close(e.stop)
	e.stop = nil
	e.state = session.EngineReady
	e.logger.Debug("simulated run aborted", logging.Field{Key: "run", Value: e.gen})
	return nil
}

func (e *Engine) State() session.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// finish marks run gen as done unless it was already superseded.
func (e *Engine) finish(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.state != session.EngineRunning {
		return false
	}
	e.state = session.EngineReady
	e.stop = nil
	return true
}

type run struct {
	engine *Engine
	gen    uint64
	stop   chan struct{}
	sink   session.Sink
	script *script
}

func (r *run) loop(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		elapsed += tick

		sample, done := r.script.at(elapsed)
		select {
		case <-r.stop:
			return
		default:
		}
		if r.sink != nil {
			r.sink.Update(sample)
		}
		if done {
			if r.engine.finish(r.gen) && r.sink != nil {
				r.sink.End()
			}
			return
		}
	}
}

// script computes the reading at a point in simulated time. Rates follow an
// exponential ramp toward the target with multiplicative noise.
type script struct {
	cfg      Config
	rng      *rand.Rand
	download float64
	upload   float64
}

func newScript(cfg Config, rng *rand.Rand) *script {
	return &script{cfg: cfg, rng: rng}
}

func (s *script) at(elapsed time.Duration) (session.Sample, bool) {
	cfg := s.cfg
	var sample session.Sample

	pingEnd := cfg.PingDuration
	dlEnd := pingEnd + cfg.DownloadDuration
	ulEnd := dlEnd + cfg.UploadDuration

	if elapsed >= pingEnd {
		sample.PingMs = session.Measured(cfg.PingMs)
		sample.JitterMs = session.Measured(cfg.JitterMs)
	}

	switch {
	case elapsed <= pingEnd:
		return sample, false
	case elapsed < dlEnd:
		p := phaseProgress(elapsed-pingEnd, cfg.DownloadDuration)
		s.download = s.rate(cfg.DownloadTarget, p)
		sample.DownloadMbps = session.Measured(s.download)
		sample.DownloadFraction = p
		return sample, false
	default:
		sample.DownloadMbps = session.Measured(s.final(s.download, cfg.DownloadTarget))
		sample.DownloadFraction = 1
	}

	if elapsed < ulEnd {
		p := phaseProgress(elapsed-dlEnd, cfg.UploadDuration)
		s.upload = s.rate(cfg.UploadTarget, p)
		sample.UploadMbps = session.Measured(s.upload)
		sample.UploadFraction = p
		return sample, false
	}
	sample.UploadMbps = session.Measured(s.final(s.upload, cfg.UploadTarget))
	sample.UploadFraction = 1
	return sample, true
}

func (s *script) rate(target, progress float64) float64 {
	ramp := 1 - math.Exp(-5*progress)
	noise := 1 + s.cfg.Wobble*(2*s.rng.Float64()-1)
	return math.Max(0, target*ramp*noise)
}

// final is the phase's last reading, or the target for phases too short to
// have produced one.
func (s *script) final(last, target float64) float64 {
	if last > 0 {
		return last
	}
	return target
}

func phaseProgress(in, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return math.Min(1, float64(in)/float64(total))
}
