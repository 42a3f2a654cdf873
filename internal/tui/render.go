package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/saveenergy/speedgauge/pkg/diagnostic"
	"github.com/saveenergy/speedgauge/pkg/session"
)

const (
	gaugeFill    = "█"
	gaugeEmpty   = "░"
	progressFill = "="
	progressHead = ">"
)

// scaleMarks are the rates labelled under each gauge.
var scaleMarks = []float64{1, 10, 50, 100}

// cells converts a [0,1] share of width into whole cells. NaN and
// out-of-range inputs are clamped.
func cells(share float64, width int) int {
	if width <= 0 || math.IsNaN(share) || share <= 0 {
		return 0
	}
	if share >= 1 {
		return width
	}
	return int(share * float64(width))
}

// gaugeBar draws the logarithmic gauge arc as a horizontal bar.
func gaugeBar(amount float64, width int) string {
	n := cells(amount, width)
	return strings.Repeat(gaugeFill, n) + strings.Repeat(gaugeEmpty, width-n)
}

// gaugeScale puts each scale mark under the cell its rate maps to.
func gaugeScale(width int) string {
	line := []rune(strings.Repeat(" ", width))
	for _, mark := range scaleMarks {
		label := []rune(humanize.Ftoa(mark))
		pos := cells(session.RateToAmount(mark), width)
		if pos+len(label) > width {
			pos = width - len(label)
		}
		if pos < 0 {
			continue
		}
		copy(line[pos:], label)
	}
	return strings.TrimRight(string(line), " ")
}

// progressBar draws a phase progress bar such as "[=====>    ]".
func progressBar(fraction float64, width int) string {
	n := cells(fraction, width)
	switch {
	case n == 0:
		return "[" + strings.Repeat(" ", width) + "]"
	case n == width:
		return "[" + strings.Repeat(progressFill, width) + "]"
	default:
		return "[" + strings.Repeat(progressFill, n-1) + progressHead + strings.Repeat(" ", width-n) + "]"
	}
}

func percent(fraction float64) string {
	if math.IsNaN(fraction) {
		fraction = 0
	}
	return fmt.Sprintf("%3.0f%%", math.Max(0, math.Min(1, fraction))*100)
}

// gaugePanel renders one direction: caption, bar, scale and phase progress.
func gaugePanel(title, rateText string, amount, fraction float64, width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[::b]%s[::-]  %s\n", title, rateText)
	fmt.Fprintf(&b, "[green]%s[-]\n", gaugeBar(amount, width))
	fmt.Fprintf(&b, "[gray]%s[-]\n", gaugeScale(width))
	fmt.Fprintf(&b, "%s %s", progressBar(fraction, width-7), percent(fraction))
	return b.String()
}

func latencyLine(d session.Display) string {
	return fmt.Sprintf("Ping  [yellow]%s ms[-]    Jitter  [yellow]%s ms[-]", d.Ping, d.Jitter)
}

// statusLine summarizes the session for the footer. now anchors relative
// times.
func statusLine(snap session.Snapshot, now time.Time) string {
	switch {
	case snap.Display.Running():
		return fmt.Sprintf("Running for %s, %s samples", since(snap.StartedAt, now), humanize.Comma(int64(snap.Samples)))
	case snap.Outcome == session.OutcomeCompleted:
		line := fmt.Sprintf("Completed %s", humanize.RelTime(snap.EndedAt, now, "ago", "from now"))
		if interp, ok := diagnostic.ForSnapshot(snap); ok {
			line += fmt.Sprintf(", grade %s: %s", interp.Grade, interp.Summary)
		}
		return line
	case snap.Outcome == session.OutcomeAborted:
		return fmt.Sprintf("Aborted %s", humanize.RelTime(snap.EndedAt, now, "ago", "from now"))
	default:
		return "Ready"
	}
}

func since(t, now time.Time) string {
	if t.IsZero() {
		return "0s"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

const keyHelp = "[gray]s[-] start  [gray]a[-] abort  [gray]space[-] toggle  [gray]q[-] quit"
