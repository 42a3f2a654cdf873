package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/internal/metrics"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
)

// Outcome records how the most recent session left the running state.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "none"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none", "":
		*o = OutcomeNone
	case "completed":
		*o = OutcomeCompleted
	case "aborted":
		*o = OutcomeAborted
	default:
		return fmt.Errorf("unknown session outcome %q", string(b))
	}
	return nil
}

// Machine is the session state machine. It is not safe for concurrent use:
// engines that call back from their own goroutines must be driven through a
// Controller, which serializes every transition on one goroutine.
type Machine struct {
	engine  Engine
	display Display
	state   State
	outcome Outcome

	sessionID string
	samples   int
	startedAt time.Time
	endedAt   time.Time

	newID   func() string
	now     func() time.Time
	sinkFor func(sessionID string) Sink
	logger  *logging.Logger
}

// NewMachine builds a machine whose engine callbacks are applied directly.
// A nil engine is allowed; every Start is then rejected as unavailable.
func NewMachine(engine Engine, opts ...Option) *Machine {
	o := buildOptions(opts)
	m := newMachine(engine, o)
	m.sinkFor = func(id string) Sink { return directSink{m: m, sessionID: id} }
	return m
}

func newMachine(engine Engine, o options) *Machine {
	return &Machine{
		engine:  engine,
		display: DefaultDisplay(),
		state:   StateIdle,
		newID:   o.newID,
		now:     o.now,
		logger:  o.logger,
	}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Display() Display { return m.display }

func (m *Machine) Outcome() Outcome { return m.outcome }

// SessionID is the ID of the running or last completed session; it is empty
// after an abort.
func (m *Machine) SessionID() string { return m.sessionID }

func (m *Machine) Samples() int { return m.samples }

func (m *Machine) StartedAt() time.Time { return m.startedAt }

func (m *Machine) EndedAt() time.Time { return m.endedAt }

// Start begins a session unless one is already running. It reports whether
// the engine was started. Rejections are logged, never returned.
func (m *Machine) Start() bool {
	if m.state == StateRunning {
		m.reject(metrics.ReasonAlreadyRunning, gaugeerrors.ErrInvalidTransition(m.state.String(), "start"))
		return false
	}
	if m.engine == nil {
		m.reject(metrics.ReasonEngineUnavailable, gaugeerrors.ErrEngineNotReady("no engine configured"))
		return false
	}
	if m.engine.State() == EngineRunning {
		m.reject(metrics.ReasonEngineBusy, gaugeerrors.ErrInvalidTransition("engine running", "start"))
		return false
	}

	prev := *m
	id := m.newID()
	m.sessionID = id
	m.state = StateRunning
	m.display.State = StateRunning
	m.outcome = OutcomeNone
	m.samples = 0
	m.startedAt = m.now()
	m.endedAt = time.Time{}

	m.engine.Subscribe(m.sinkFor(id))
	if err := m.engine.Start(); err != nil {
		*m = prev
		m.reject(metrics.ReasonStartFailed, gaugeerrors.ErrStartFailed(id, err))
		return false
	}

	metrics.SessionsStartedTotal.Inc()
	metrics.SessionRunning.Set(1)
	m.logger.Info("session started", logging.Field{Key: "session_id", Value: id})
	return true
}

// Abort cancels the engine and synchronously resets the display, whatever the
// current state. Callbacks still in flight for the aborted session are
// ignored afterwards.
func (m *Machine) Abort() {
	if m.engine != nil {
		if err := m.engine.Abort(); err != nil {
			m.logger.Warn("engine abort failed",
				logging.Field{Key: "session_id", Value: m.sessionID},
				logging.Field{Key: "error", Value: err})
		}
	}

	wasRunning := m.state == StateRunning
	m.state = StateIdle
	m.display = DefaultDisplay()
	if wasRunning {
		m.outcome = OutcomeAborted
		m.endedAt = m.now()
		metrics.SessionsAbortedTotal.Inc()
	} else {
		// The reset display no longer shows the previous run's results.
		m.outcome = OutcomeNone
	}
	// A cleared ID makes every sink handed out so far stale.
	m.sessionID = ""

	metrics.SessionRunning.Set(0)
	metrics.DownloadMbps.Set(0)
	metrics.UploadMbps.Set(0)
	m.logger.Info("session aborted", logging.Field{Key: "was_running", Value: wasRunning})
}

// Update applies a sample for sessionID. It reports whether the display
// changed; samples for idle or superseded sessions are dropped.
func (m *Machine) Update(sessionID string, s Sample) bool {
	if !m.accepts(sessionID, "update") {
		return false
	}

	display, malformed := applySample(m.display, s)
	m.display = display
	m.samples++

	for _, field := range malformed {
		metrics.MalformedFieldsTotal.WithLabelValues(field).Inc()
	}
	if len(malformed) > 0 {
		m.logger.Warn("sample degraded to defaults",
			logging.Field{Key: "session_id", Value: sessionID},
			logging.Field{Key: "error", Value: gaugeerrors.ErrMalformedSample(strings.Join(malformed, ","), nil)})
	}
	metrics.SamplesAppliedTotal.Inc()
	metrics.DownloadMbps.Set(s.DownloadMbps.Value())
	metrics.UploadMbps.Set(s.UploadMbps.Value())
	return true
}

// End handles the engine's completion notification. The display keeps the
// last values so a finished run stays on screen.
func (m *Machine) End(sessionID string) bool {
	if !m.accepts(sessionID, "end") {
		return false
	}
	m.state = StateIdle
	m.display.State = StateIdle
	m.outcome = OutcomeCompleted
	m.endedAt = m.now()

	metrics.SessionsCompletedTotal.Inc()
	metrics.SessionRunning.Set(0)
	m.logger.Info("session completed",
		logging.Field{Key: "session_id", Value: sessionID},
		logging.Field{Key: "samples", Value: m.samples},
		logging.Field{Key: "download", Value: m.display.DownloadRate},
		logging.Field{Key: "upload", Value: m.display.UploadRate})
	return true
}

func (m *Machine) accepts(sessionID, kind string) bool {
	if m.state != StateRunning {
		metrics.EventsIgnoredTotal.WithLabelValues(metrics.CauseIdle).Inc()
		m.logger.Debug("engine event ignored while idle", logging.Field{Key: "event", Value: kind})
		return false
	}
	if sessionID != m.sessionID {
		metrics.EventsIgnoredTotal.WithLabelValues(metrics.CauseStaleSession).Inc()
		m.logger.Debug("engine event for stale session ignored",
			logging.Field{Key: "event", Value: kind},
			logging.Field{Key: "session_id", Value: sessionID})
		return false
	}
	return true
}

func (m *Machine) reject(reason string, err error) {
	metrics.StartRejectedTotal.WithLabelValues(reason).Inc()
	if reason == metrics.ReasonAlreadyRunning || reason == metrics.ReasonEngineBusy {
		m.logger.Debug("start ignored", logging.Field{Key: "reason", Value: err})
		return
	}
	m.logger.Warn("start rejected", logging.Field{Key: "error", Value: err})
}

// directSink feeds engine callbacks straight into a Machine.
type directSink struct {
	m         *Machine
	sessionID string
}

func (s directSink) Update(sample Sample) { s.m.Update(s.sessionID, sample) }

func (s directSink) End() { s.m.End(s.sessionID) }

type options struct {
	newID     func() string
	now       func() time.Time
	logger    *logging.Logger
	inboxSize int
}

// Option customizes a Machine or Controller.
type Option func(*options)

// WithIDGenerator replaces the UUID session ID source.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithInboxSize sets the controller's event queue capacity.
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		newID:     func() string { return uuid.NewString() },
		now:       time.Now,
		inboxSize: defaultInboxSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewLogger("session")
	}
	return o
}
