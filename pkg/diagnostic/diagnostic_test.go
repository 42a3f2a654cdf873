package diagnostic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saveenergy/speedgauge/pkg/session"
)

func TestInterpret(t *testing.T) {
	tests := []struct {
		name     string
		params   Params
		grade    string
		suitable []string
		concerns []string
	}{
		{
			name:     "fast fibre",
			params:   Params{DownloadMbps: 940, UploadMbps: 450, PingMs: 4, JitterMs: 0.6},
			grade:    "A",
			suitable: []string{"web_browsing", "video_conferencing", "streaming_4k", "gaming", "large_transfers"},
			concerns: []string{},
		},
		{
			name:     "slow dsl",
			params:   Params{DownloadMbps: 3.2, UploadMbps: 0.8, PingMs: 140, JitterMs: 35},
			grade:    "F",
			suitable: []string{"web_browsing"},
			concerns: []string{"high_latency", "high_jitter", "slow_download", "slow_upload"},
		},
		{
			name:     "nothing measured",
			params:   Params{},
			grade:    "C",
			suitable: []string{},
			concerns: []string{"no_throughput"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret(tt.params)
			assert.Equal(t, tt.grade, got.Grade)
			assert.Equal(t, tt.suitable, got.SuitableFor)
			assert.Equal(t, tt.concerns, got.Concerns)
		})
	}
}

func TestSummary(t *testing.T) {
	got := Interpret(Params{DownloadMbps: 94.35, UploadMbps: 41.2, PingMs: 12.3, JitterMs: 2})
	assert.Equal(t, "Excellent connection: 94 Mbit/s down, 41 Mbit/s up, 12ms ping", got.Summary)
	assert.Equal(t, "excellent", got.LatencyRating)
	assert.Equal(t, "good", got.SpeedRating)
	assert.Equal(t, "stable", got.StabilityRating)
}

func TestForSnapshot(t *testing.T) {
	d := session.DefaultDisplay()
	d.DownloadRate = "94.35"
	d.UploadRate = "41.20"
	d.Ping = "12.3"

	_, ok := ForSnapshot(session.Snapshot{Display: d, Outcome: session.OutcomeAborted})
	assert.False(t, ok)

	running := d
	running.State = session.StateRunning
	_, ok = ForSnapshot(session.Snapshot{Display: running})
	assert.False(t, ok)

	interp, ok := ForSnapshot(session.Snapshot{Display: d, Outcome: session.OutcomeCompleted})
	assert.True(t, ok)
	assert.Equal(t, "A", interp.Grade)

	p := FromDisplay(d)
	assert.Equal(t, Params{DownloadMbps: 94.35, UploadMbps: 41.2, PingMs: 12.3}, p)
}
