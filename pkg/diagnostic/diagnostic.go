// Package diagnostic turns the final gauge readings of a completed session
// into a grade, per-aspect ratings and a list of activities the connection
// suits.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/saveenergy/speedgauge/pkg/session"
)

// Interpretation holds the semantic interpretation of a finished run.
type Interpretation struct {
	Grade           string   `json:"grade"`
	Summary         string   `json:"summary"`
	LatencyRating   string   `json:"latency_rating"`
	SpeedRating     string   `json:"speed_rating"`
	StabilityRating string   `json:"stability_rating"`
	SuitableFor     []string `json:"suitable_for"`
	Concerns        []string `json:"concerns"`
}

// Params are the final readings to interpret. Zero means not measured.
type Params struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	JitterMs     float64
}

// FromDisplay reads Params back out of display labels. Labels that are not
// numbers count as not measured.
func FromDisplay(d session.Display) Params {
	return Params{
		DownloadMbps: session.ParseReading(d.DownloadRate).Value(),
		UploadMbps:   session.ParseReading(d.UploadRate).Value(),
		PingMs:       session.ParseReading(d.Ping).Value(),
		JitterMs:     session.ParseReading(d.Jitter).Value(),
	}
}

// ForSnapshot interprets snap when it holds the result of a run that
// completed naturally. Running, aborted and never-run snapshots yield false.
func ForSnapshot(snap session.Snapshot) (*Interpretation, bool) {
	if snap.Display.Running() || snap.Outcome != session.OutcomeCompleted {
		return nil, false
	}
	return Interpret(FromDisplay(snap.Display)), true
}

func Interpret(p Params) *Interpretation {
	interp := &Interpretation{
		LatencyRating:   rateLatency(p.PingMs),
		SpeedRating:     rateSpeed(p.DownloadMbps, p.UploadMbps),
		StabilityRating: rateStability(p.PingMs, p.JitterMs),
		SuitableFor:     suitability(p),
		Concerns:        concerns(p),
	}
	interp.Grade = computeGrade(interp.LatencyRating, interp.SpeedRating, interp.StabilityRating)
	interp.Summary = buildSummary(interp.Grade, p)
	return interp
}

func rateLatency(ms float64) string {
	switch {
	case ms <= 0:
		return "unknown"
	case ms <= 20:
		return "excellent"
	case ms <= 50:
		return "good"
	case ms <= 100:
		return "fair"
	default:
		return "poor"
	}
}

func rateSpeed(downMbps, upMbps float64) string {
	// prefer download
	speed := downMbps
	if speed <= 0 {
		speed = upMbps
	}
	switch {
	case speed <= 0:
		return "unknown"
	case speed >= 100:
		return "fast"
	case speed >= 25:
		return "good"
	case speed >= 5:
		return "moderate"
	default:
		return "slow"
	}
}

// rateStability judges jitter. A jitter of 0.0 next to a measured ping is a
// perfectly steady line, not a missing reading.
func rateStability(pingMs, jitterMs float64) string {
	switch {
	case jitterMs <= 0 && pingMs <= 0:
		return "unknown"
	case jitterMs > 30:
		return "unstable"
	case jitterMs > 15:
		return "degraded"
	case jitterMs > 5:
		return "fair"
	default:
		return "stable"
	}
}

func suitability(p Params) []string {
	s := []string{}
	pingKnown := p.PingMs > 0

	if (p.DownloadMbps >= 1 || p.UploadMbps >= 1) && (!pingKnown || p.PingMs < 200) {
		s = append(s, "web_browsing")
	}
	if p.DownloadMbps >= 5 && p.UploadMbps >= 2 && pingKnown && p.PingMs < 100 && p.JitterMs < 30 {
		s = append(s, "video_conferencing")
	}
	if p.DownloadMbps >= 25 {
		s = append(s, "streaming_4k")
	} else if p.DownloadMbps >= 5 {
		s = append(s, "streaming_hd")
	}
	if pingKnown && p.PingMs < 50 && p.JitterMs < 15 {
		s = append(s, "gaming")
	}
	if p.DownloadMbps >= 50 || p.UploadMbps >= 50 {
		s = append(s, "large_transfers")
	}
	return s
}

func concerns(p Params) []string {
	c := []string{}
	if p.PingMs > 100 {
		c = append(c, "high_latency")
	}
	if p.JitterMs > 30 {
		c = append(c, "high_jitter")
	}
	if p.DownloadMbps > 0 && p.DownloadMbps < 5 {
		c = append(c, "slow_download")
	}
	if p.UploadMbps > 0 && p.UploadMbps < 2 {
		c = append(c, "slow_upload")
	}
	if p.DownloadMbps <= 0 && p.UploadMbps <= 0 {
		c = append(c, "no_throughput")
	}
	return c
}

var ratingScore = map[string]int{
	"excellent": 4,
	"fast":      4,
	"stable":    4,
	"good":      3,
	"fair":      2,
	"moderate":  2,
	"degraded":  1,
	"poor":      0,
	"slow":      0,
	"unstable":  0,
	"unknown":   2,
}

func computeGrade(latency, speed, stability string) string {
	score := ratingScore[latency] + ratingScore[speed] + ratingScore[stability]
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

var gradeDesc = map[string]string{
	"A": "Excellent",
	"B": "Good",
	"C": "Fair",
	"D": "Poor",
	"F": "Very poor",
}

func buildSummary(grade string, p Params) string {
	var parts []string
	if p.DownloadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f %s down", p.DownloadMbps, session.RateUnit))
	}
	if p.UploadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f %s up", p.UploadMbps, session.RateUnit))
	}
	if p.PingMs > 0 {
		parts = append(parts, fmt.Sprintf("%.0fms ping", p.PingMs))
	}

	summary := gradeDesc[grade] + " connection"
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	return summary
}
