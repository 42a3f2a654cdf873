package session

import "fmt"

// State is the controller's session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle", "ready":
		*s = StateIdle
	case "running":
		*s = StateRunning
	default:
		return fmt.Errorf("unknown session state %q", string(b))
	}
	return nil
}

const (
	DefaultRateLabel    = "0.00"
	DefaultLatencyLabel = "0.0"
	RateUnit            = "Mbit/s"

	ratePrecision    = 2
	latencyPrecision = 1
)

// Display is everything a renderer needs: two gauges with rate labels, two
// linear progress bars, ping and jitter labels, and the session state that
// drives the action button.
type Display struct {
	DownloadRate     string  `json:"download_rate"`
	DownloadAmount   float64 `json:"download_amount"`
	DownloadFraction float64 `json:"download_fraction"`
	UploadRate       string  `json:"upload_rate"`
	UploadAmount     float64 `json:"upload_amount"`
	UploadFraction   float64 `json:"upload_fraction"`
	Ping             string  `json:"ping"`
	Jitter           string  `json:"jitter"`
	State            State   `json:"state"`
}

// DefaultDisplay is the idle, all-zero display.
func DefaultDisplay() Display {
	return Display{
		DownloadRate: DefaultRateLabel,
		UploadRate:   DefaultRateLabel,
		Ping:         DefaultLatencyLabel,
		Jitter:       DefaultLatencyLabel,
		State:        StateIdle,
	}
}

func (d Display) Running() bool { return d.State == StateRunning }

// DownloadRateText is the gauge caption, e.g. "94.35 Mbit/s".
func (d Display) DownloadRateText() string { return d.DownloadRate + " " + RateUnit }

func (d Display) UploadRateText() string { return d.UploadRate + " " + RateUnit }

// ActionLabel is the caption of the single start/abort button.
func (d Display) ActionLabel() string {
	if d.Running() {
		return "Abort"
	}
	return "Start"
}

// applySample writes one sample into d. Fields the engine got wrong fall back
// to their defaults; their names are returned for accounting.
func applySample(d Display, s Sample) (Display, []string) {
	var malformed []string
	note := func(bad bool, field string) {
		if bad {
			malformed = append(malformed, field)
		}
	}

	d.DownloadAmount = RateToAmount(s.DownloadMbps.Value())
	d.DownloadRate = rateLabel(s.DownloadMbps)
	note(s.DownloadMbps.Malformed(), "download")

	d.UploadAmount = RateToAmount(s.UploadMbps.Value())
	d.UploadRate = rateLabel(s.UploadMbps)
	note(s.UploadMbps.Malformed(), "upload")

	var ok bool
	d.DownloadFraction, ok = clampFraction(s.DownloadFraction)
	note(!ok, "download_fraction")
	d.UploadFraction, ok = clampFraction(s.UploadFraction)
	note(!ok, "upload_fraction")

	d.Ping = s.PingMs.Label(DefaultLatencyLabel, latencyPrecision)
	note(s.PingMs.Malformed(), "ping")
	d.Jitter = s.JitterMs.Label(DefaultLatencyLabel, latencyPrecision)
	note(s.JitterMs.Malformed(), "jitter")

	return d, malformed
}

func rateLabel(r Reading) string {
	if r.Value() == 0 {
		return DefaultRateLabel
	}
	return r.Label(DefaultRateLabel, ratePrecision)
}
