package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/internal/metrics"
)

const defaultInboxSize = 256

var (
	ErrControllerRunning = errors.New("controller already running")
	ErrControllerStopped = errors.New("controller stopped")
)

type eventKind int

const (
	eventStart eventKind = iota
	eventAbort
	eventUpdate
	eventEnd
	eventBarrier
)

func (k eventKind) String() string {
	switch k {
	case eventStart:
		return "start"
	case eventAbort:
		return "abort"
	case eventUpdate:
		return "update"
	case eventEnd:
		return "end"
	default:
		return "barrier"
	}
}

type event struct {
	kind      eventKind
	sessionID string
	sample    Sample
	done      chan struct{}
}

// Snapshot is a point-in-time copy of everything observers may render.
type Snapshot struct {
	Display   Display   `json:"display"`
	SessionID string    `json:"session_id,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Samples   int       `json:"samples"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Controller serializes user commands and engine callbacks through a single
// inbox drained by Run. Start and Abort only enqueue, so they never block on
// the engine. Observers receive a Snapshot after every change that touched
// the display.
type Controller struct {
	machine *Machine
	inbox   chan event
	done    chan struct{}
	started atomic.Bool
	logger  *logging.Logger

	mu        sync.RWMutex
	snapshot  Snapshot
	observers map[uint64]chan Snapshot
	nextObs   uint64
	closed    bool
}

func NewController(engine Engine, opts ...Option) *Controller {
	o := buildOptions(opts)
	c := &Controller{
		inbox:     make(chan event, o.inboxSize),
		done:      make(chan struct{}),
		logger:    o.logger,
		observers: make(map[uint64]chan Snapshot),
	}
	c.machine = newMachine(engine, o)
	c.machine.sinkFor = func(id string) Sink { return inboxSink{c: c, sessionID: id} }
	c.snapshot = c.capture()
	return c
}

// Run drains the inbox until ctx is cancelled. A session still running at
// shutdown is aborted so the engine does not outlive its front-end.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrControllerRunning
	}
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev := <-c.inbox:
			c.handle(ev)
		}
	}
}

// Start queues a start request. It reports false once the controller has
// stopped.
func (c *Controller) Start() bool {
	return c.enqueue(event{kind: eventStart})
}

// Abort queues an abort request. The display reset happens when the request
// is processed, independent of engine acknowledgement.
func (c *Controller) Abort() bool {
	return c.enqueue(event{kind: eventAbort})
}

// Toggle is the action button: Abort while running, Start otherwise. It reads
// the latest published state, so a rapid double press may queue two starts;
// the second is a no-op.
func (c *Controller) Toggle() bool {
	if c.Snapshot().Display.Running() {
		return c.Abort()
	}
	return c.Start()
}

// Flush waits until every event queued before the call has been applied.
func (c *Controller) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !c.enqueue(event{kind: eventBarrier, done: done}) {
		return ErrControllerStopped
	}
	select {
	case <-done:
		return nil
	case <-c.done:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the most recently published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Watch subscribes to snapshots. The channel holds at most one pending
// snapshot; a slow reader only ever sees the latest one. The current
// snapshot is delivered immediately. The channel is closed by cancel or when
// the controller stops.
func (c *Controller) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextObs
	c.nextObs++
	ch <- c.snapshot
	c.observers[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if obs, ok := c.observers[id]; ok {
			delete(c.observers, id)
			close(obs)
		}
	}
	return ch, cancel
}

func (c *Controller) enqueue(ev event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) handle(ev event) {
	changed := false
	switch ev.kind {
	case eventStart:
		changed = c.machine.Start()
	case eventAbort:
		c.machine.Abort()
		changed = true
	case eventUpdate:
		changed = c.machine.Update(ev.sessionID, ev.sample)
	case eventEnd:
		changed = c.machine.End(ev.sessionID)
	}
	if changed {
		c.publish()
	} else if ev.kind != eventBarrier {
		c.logger.Debug("event left display unchanged", logging.Field{Key: "event", Value: ev.kind})
	}
	if ev.done != nil {
		close(ev.done)
	}
}

func (c *Controller) capture() Snapshot {
	m := c.machine
	return Snapshot{
		Display:   m.Display(),
		SessionID: m.SessionID(),
		Outcome:   m.Outcome(),
		Samples:   m.Samples(),
		StartedAt: m.StartedAt(),
		EndedAt:   m.EndedAt(),
	}
}

// publish only runs on the Run goroutine, the sole sender on observer
// channels, so draining a stale value before sending cannot race.
func (c *Controller) publish() {
	snap := c.capture()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snap
	for _, ch := range c.observers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
			metrics.DisplayObserversDropped.Inc()
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	if c.machine.State() == StateRunning {
		c.logger.Info("aborting running session on shutdown",
			logging.Field{Key: "session_id", Value: c.machine.SessionID()})
		c.machine.Abort()
		c.publish()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.observers {
		delete(c.observers, id)
		close(ch)
	}
}

// inboxSink turns engine callbacks into inbox events tagged with the session
// they were issued for.
type inboxSink struct {
	c         *Controller
	sessionID string
}

func (s inboxSink) Update(sample Sample) {
	s.c.enqueue(event{kind: eventUpdate, sessionID: s.sessionID, sample: sample})
}

func (s inboxSink) End() {
	s.c.enqueue(event{kind: eventEnd, sessionID: s.sessionID})
}
