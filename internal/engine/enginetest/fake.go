// Package enginetest provides an in-memory engine for controller tests.
package enginetest

import (
	"sync"

	"github.com/saveenergy/speedgauge/pkg/session"
)

// Engine records every call the controller makes and lets a test play the
// engine's side of the conversation by hand.
type Engine struct {
	mu         sync.Mutex
	sink       session.Sink
	sinks      []session.Sink
	state      session.EngineState
	starts     int
	aborts     int
	subscribes int

	// StartErr, when set, is returned by Start and the engine stays ready.
	StartErr error
	// AbortErr is returned by Abort after the engine has stopped.
	AbortErr error
	// OnStart runs inside Start with the freshly subscribed sink, for engines
	// that report synchronously.
	OnStart func(session.Sink)
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Subscribe(sink session.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
	e.sinks = append(e.sinks, sink)
	e.subscribes++
}

func (e *Engine) Start() error {
	e.mu.Lock()
	e.starts++
	if e.StartErr != nil {
		err := e.StartErr
		e.mu.Unlock()
		return err
	}
	e.state = session.EngineRunning
	hook, sink := e.OnStart, e.sink
	e.mu.Unlock()

	if hook != nil {
		hook(sink)
	}
	return nil
}

func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborts++
	e.state = session.EngineReady
	return e.AbortErr
}

func (e *Engine) State() session.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetState forces the reported engine state, e.g. to simulate a session
// started by another front-end.
func (e *Engine) SetState(s session.EngineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// Emit delivers a sample through the current sink.
func (e *Engine) Emit(s session.Sample) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.Update(s)
	}
}

// Finish reports natural completion through the current sink.
func (e *Engine) Finish() {
	e.mu.Lock()
	sink := e.sink
	e.state = session.EngineReady
	e.mu.Unlock()
	if sink != nil {
		sink.End()
	}
}

// Sink returns the sink handed over by the n-th Subscribe call, so tests can
// replay callbacks from an earlier session.
func (e *Engine) Sink(n int) session.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < 0 || n >= len(e.sinks) {
		return nil
	}
	return e.sinks[n]
}

func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *Engine) Aborts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborts
}

func (e *Engine) Subscribes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribes
}

// Sample builds a sample from the engine's textual fields, the way engines
// that report strings populate it.
func Sample(dl string, dlFraction float64, ul string, ulFraction float64, ping, jitter string) session.Sample {
	return session.Sample{
		DownloadMbps:     session.ParseReading(dl),
		DownloadFraction: dlFraction,
		UploadMbps:       session.ParseReading(ul),
		UploadFraction:   ulFraction,
		PingMs:           session.ParseReading(ping),
		JitterMs:         session.ParseReading(jitter),
	}
}
