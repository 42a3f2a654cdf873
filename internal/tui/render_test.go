package tui

import (
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/saveenergy/speedgauge/pkg/session"
)

func TestCells(t *testing.T) {
	tests := []struct {
		share float64
		want  int
	}{
		{0, 0},
		{-0.5, 0},
		{math.NaN(), 0},
		{0.5, 20},
		{0.999, 39},
		{1, 40},
		{3, 40},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cells(tt.share, 40), "share %v", tt.share)
	}
	assert.Equal(t, 0, cells(0.5, 0))
}

func TestGaugeBar(t *testing.T) {
	bar := gaugeBar(0.25, 20)
	assert.Equal(t, 20, utf8.RuneCountInString(bar))
	assert.Equal(t, 5, strings.Count(bar, gaugeFill))

	// A saturated gauge amount stays just short of full.
	bar = gaugeBar(session.RateToAmount(1e9), 20)
	assert.Equal(t, 19, strings.Count(bar, gaugeFill))
}

func TestGaugeScale(t *testing.T) {
	scale := gaugeScale(40)
	assert.Equal(t, 9, strings.Index(scale, "1 "))
	assert.Equal(t, 22, strings.Index(scale, "10"))
	assert.Equal(t, 33, strings.Index(scale, "50"))
	assert.Equal(t, 37, strings.Index(scale, "100"))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[          ]", progressBar(0, 10))
	assert.Equal(t, "[====>     ]", progressBar(0.5, 10))
	assert.Equal(t, "[==========]", progressBar(1, 10))
	assert.Equal(t, "[          ]", progressBar(math.NaN(), 10))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, " 50%", percent(0.5))
	assert.Equal(t, "100%", percent(1.2))
	assert.Equal(t, "  0%", percent(math.NaN()))
}

func TestGaugePanel(t *testing.T) {
	panel := gaugePanel("Download", "94.35 Mbit/s", 0.5, 0.5, 20)
	lines := strings.Split(panel, "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "94.35 Mbit/s")
	assert.Contains(t, lines[3], " 50%")
}

func TestStatusLine(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	idle := session.Snapshot{Display: session.DefaultDisplay()}
	assert.Equal(t, "Ready", statusLine(idle, now))

	running := idle
	running.Display.State = session.StateRunning
	running.StartedAt = now.Add(-12 * time.Second)
	running.Samples = 1234
	assert.Equal(t, "Running for 12s, 1,234 samples", statusLine(running, now))

	aborted := idle
	aborted.Outcome = session.OutcomeAborted
	aborted.EndedAt = now.Add(-3 * time.Minute)
	assert.Equal(t, "Aborted 3 minutes ago", statusLine(aborted, now))

	done := idle
	done.Outcome = session.OutcomeCompleted
	done.EndedAt = now.Add(-time.Minute)
	done.Display.DownloadRate = "94.35"
	done.Display.UploadRate = "41.20"
	done.Display.Ping = "12.3"
	line := statusLine(done, now)
	assert.True(t, strings.HasPrefix(line, "Completed 1 minute ago, grade A"), line)
}

func TestLatencyLine(t *testing.T) {
	d := session.DefaultDisplay()
	d.Ping = "14.2"
	assert.Contains(t, latencyLine(d), "14.2 ms")
	assert.Contains(t, latencyLine(d), "0.0 ms")
}
