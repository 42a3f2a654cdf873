package runcmd

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"

	"github.com/saveenergy/speedgauge/pkg/diagnostic"
	"github.com/saveenergy/speedgauge/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	formatAuto        = "auto"
	formatInteractive = "interactive"
	formatPlain       = "plain"
	formatJSON        = "json"
	formatNDJSON      = "ndjson"
)

type Formatter interface {
	Update(snap session.Snapshot)
	Complete(res *Result)
	Aborted(snap session.Snapshot)
}

// Result is the outcome of one measurement as printed by the json, ndjson
// and plain formats.
type Result struct {
	SessionID       string                     `json:"session_id"`
	DownloadMbps    float64                    `json:"download_mbps"`
	UploadMbps      float64                    `json:"upload_mbps"`
	PingMs          float64                    `json:"ping_ms"`
	JitterMs        float64                    `json:"jitter_ms"`
	Samples         int                        `json:"samples"`
	StartTime       string                     `json:"start_time"`
	EndTime         string                     `json:"end_time"`
	DurationSeconds float64                    `json:"duration_seconds"`
	Display         session.Display            `json:"display"`
	Interpretation  *diagnostic.Interpretation `json:"interpretation,omitempty"`
}

func NewResult(snap session.Snapshot) *Result {
	p := diagnostic.FromDisplay(snap.Display)
	res := &Result{
		SessionID:    snap.SessionID,
		DownloadMbps: p.DownloadMbps,
		UploadMbps:   p.UploadMbps,
		PingMs:       p.PingMs,
		JitterMs:     p.JitterMs,
		Samples:      snap.Samples,
		Display:      snap.Display,
	}
	if !snap.StartedAt.IsZero() {
		res.StartTime = snap.StartedAt.UTC().Format(time.RFC3339)
	}
	if !snap.EndedAt.IsZero() {
		res.EndTime = snap.EndedAt.UTC().Format(time.RFC3339)
		if !snap.StartedAt.IsZero() {
			res.DurationSeconds = math.Round(snap.EndedAt.Sub(snap.StartedAt).Seconds()*10) / 10
		}
	}
	if interp, ok := diagnostic.ForSnapshot(snap); ok {
		res.Interpretation = interp
	}
	return res
}

func NewFormatter(format string, w io.Writer, noColor bool) (Formatter, error) {
	switch format {
	case formatInteractive:
		return &InteractiveFormatter{writer: w, noColor: noColor}, nil
	case formatPlain:
		return &PlainFormatter{writer: w}, nil
	case formatJSON:
		return &JSONFormatter{writer: w}, nil
	case formatNDJSON:
		return &NDJSONFormatter{writer: w}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: must be interactive, plain, json or ndjson", format)
	}
}

type JSONFormatter struct {
	writer io.Writer
}

func (f *JSONFormatter) Update(session.Snapshot) {}

func (f *JSONFormatter) Complete(res *Result) {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	enc.Encode(res)
}

func (f *JSONFormatter) Aborted(session.Snapshot) {}

// NDJSONFormatter emits newline-delimited JSON: one "progress" line per
// display change and a final "result" or "aborted" line.
type NDJSONFormatter struct {
	writer io.Writer
}

type ndjsonLine struct {
	Type    string           `json:"type"`
	Display *session.Display `json:"display,omitempty"`
	Result  *Result          `json:"result,omitempty"`
}

func (f *NDJSONFormatter) Update(snap session.Snapshot) {
	f.write(ndjsonLine{Type: "progress", Display: &snap.Display})
}

func (f *NDJSONFormatter) Complete(res *Result) {
	f.write(ndjsonLine{Type: "result", Result: res})
}

func (f *NDJSONFormatter) Aborted(session.Snapshot) {
	f.write(ndjsonLine{Type: "aborted"})
}

func (f *NDJSONFormatter) write(line ndjsonLine) {
	json.NewEncoder(f.writer).Encode(line)
}

type PlainFormatter struct {
	writer io.Writer
}

func (f *PlainFormatter) Update(session.Snapshot) {}

func (f *PlainFormatter) Complete(res *Result) {
	fmt.Fprintf(f.writer, "session_id=%s\n", res.SessionID)
	fmt.Fprintf(f.writer, "download_mbps=%.2f\n", res.DownloadMbps)
	fmt.Fprintf(f.writer, "upload_mbps=%.2f\n", res.UploadMbps)
	fmt.Fprintf(f.writer, "ping_ms=%.1f\n", res.PingMs)
	fmt.Fprintf(f.writer, "jitter_ms=%.1f\n", res.JitterMs)
	fmt.Fprintf(f.writer, "samples=%d\n", res.Samples)
	if res.StartTime != "" {
		fmt.Fprintf(f.writer, "start_time=%s\n", res.StartTime)
	}
	if res.EndTime != "" {
		fmt.Fprintf(f.writer, "end_time=%s\n", res.EndTime)
	}
	if res.DurationSeconds > 0 {
		fmt.Fprintf(f.writer, "duration_seconds=%.1f\n", res.DurationSeconds)
	}
	if res.Interpretation != nil {
		fmt.Fprintf(f.writer, "grade=%s\n", res.Interpretation.Grade)
	}
}

func (f *PlainFormatter) Aborted(session.Snapshot) {
	fmt.Fprintln(f.writer, "status=aborted")
}

// InteractiveFormatter redraws one status line per update and prints a
// summary at the end.
type InteractiveFormatter struct {
	writer  io.Writer
	noColor bool
	drawn   bool
}

const barWidth = 20

func (f *InteractiveFormatter) Update(snap session.Snapshot) {
	d := snap.Display
	fmt.Fprintf(f.writer, "\r%s %s %s  %s %s %s  ping %s ms  jitter %s ms ",
		f.color("36", "↓"), f.bar(d.DownloadAmount), d.DownloadRateText(),
		f.color("35", "↑"), f.bar(d.UploadAmount), d.UploadRateText(),
		d.Ping, d.Jitter)
	f.drawn = true
}

func (f *InteractiveFormatter) Complete(res *Result) {
	f.endLine()
	fmt.Fprintln(f.writer, "Results:")
	fmt.Fprintf(f.writer, " %s %s\n", f.color("36", "Download:"), res.Display.DownloadRateText())
	fmt.Fprintf(f.writer, " %s %s\n", f.color("35", "Upload:"), res.Display.UploadRateText())
	fmt.Fprintf(f.writer, " %s %s ms\n", f.color("33", "Ping:"), res.Display.Ping)
	fmt.Fprintf(f.writer, " %s %s ms\n", f.color("33", "Jitter:"), res.Display.Jitter)
	fmt.Fprintf(f.writer, " %s %s in %.1fs\n", f.color("37", "Samples:"), humanize.Comma(int64(res.Samples)), res.DurationSeconds)
	if res.Interpretation != nil {
		fmt.Fprintf(f.writer, " %s %s (%s)\n", f.color("32", "Grade:"), res.Interpretation.Grade, res.Interpretation.Summary)
	}
}

func (f *InteractiveFormatter) Aborted(session.Snapshot) {
	f.endLine()
	fmt.Fprintln(f.writer, f.color("31", "Aborted."))
}

func (f *InteractiveFormatter) endLine() {
	if f.drawn {
		fmt.Fprintln(f.writer)
		f.drawn = false
	}
}

func (f *InteractiveFormatter) bar(amount float64) string {
	filled := int(math.Max(0, math.Min(1, amount)) * barWidth)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}

func (f *InteractiveFormatter) color(code, s string) string {
	if f.noColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}
