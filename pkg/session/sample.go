package session

import "math"

// Sample is one measurement tick delivered by the engine.
type Sample struct {
	DownloadMbps     Reading
	DownloadFraction float64
	UploadMbps       Reading
	UploadFraction   float64
	PingMs           Reading
	JitterMs         Reading
}

// EngineState is the engine's own view of whether a measurement is active.
type EngineState int

const (
	EngineReady EngineState = iota
	EngineRunning
)

func (s EngineState) String() string {
	switch s {
	case EngineRunning:
		return "running"
	default:
		return "ready"
	}
}

// Sink receives engine callbacks for one session.
type Sink interface {
	Update(Sample)
	End()
}

// Engine is the external measurement engine driven by the controller.
// Subscribe replaces any previous sink; Start begins emitting samples to it
// asynchronously. Abort cancels the active measurement, possibly lazily.
type Engine interface {
	Subscribe(sink Sink)
	Start() error
	Abort() error
	State() EngineState
}

// clampFraction bounds a completion fraction to [0, 1]. The second result is
// false when the input had to be corrected.
func clampFraction(f float64) (float64, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f < 0:
		return 0, false
	case f > 1:
		return 1, false
	default:
		return f, true
	}
}
