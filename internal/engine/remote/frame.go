package remote

import (
	"bytes"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/saveenergy/speedgauge/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	frameUpdate = "update"
	frameEnd    = "end"
	frameState  = "state"
)

type command struct {
	Action string `json:"action"`
}

// frame is one message from the remote engine. Status fields use the names
// of the browser engine the gauge was first written against.
type frame struct {
	Type         string     `json:"type"`
	State        string     `json:"state,omitempty"`
	DlStatus     flexNumber `json:"dlStatus"`
	DlProgress   flexNumber `json:"dlProgress"`
	UlStatus     flexNumber `json:"ulStatus"`
	UlProgress   flexNumber `json:"ulProgress"`
	PingStatus   flexNumber `json:"pingStatus"`
	JitterStatus flexNumber `json:"jitterStatus"`
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	err := json.Unmarshal(data, &f)
	return f, err
}

func (f frame) sample() session.Sample {
	return session.Sample{
		DownloadMbps:     f.DlStatus.reading(),
		DownloadFraction: f.DlProgress.fraction(),
		UploadMbps:       f.UlStatus.reading(),
		UploadFraction:   f.UlProgress.fraction(),
		PingMs:           f.PingStatus.reading(),
		JitterMs:         f.JitterStatus.reading(),
	}
}

// flexNumber accepts a JSON string, number or null. Any other JSON type is
// kept as malformed instead of failing the whole frame.
type flexNumber struct {
	text string
	bad  bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		*n = flexNumber{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = flexNumber{bad: true}
			return nil
		}
		*n = flexNumber{text: s}
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		*n = flexNumber{text: string(b)}
	default:
		*n = flexNumber{bad: true}
	}
	return nil
}

func (n flexNumber) reading() session.Reading {
	if n.bad {
		return session.Measured(math.NaN())
	}
	return session.ParseReading(n.text)
}

// fraction returns NaN for unparsable input so the display treats it as
// out of range.
func (n flexNumber) fraction() float64 {
	if n.bad {
		return math.NaN()
	}
	if n.text == "" {
		return 0
	}
	v, err := strconv.ParseFloat(n.text, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
