package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUpdateFrame(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		dl     string
		dlFrac float64
		ping   string
		jitter string
		bad    bool
	}{
		{
			name:   "strings",
			input:  `{"type":"update","dlStatus":"94.35","dlProgress":"0.5","ulStatus":"","ulProgress":0,"pingStatus":"12.3","jitterStatus":""}`,
			dl:     "94.35",
			dlFrac: 0.5,
			ping:   "12.3",
			jitter: "0.0",
		},
		{
			name:   "numbers",
			input:  `{"type":"update","dlStatus":94.35,"dlProgress":0.25,"pingStatus":8,"jitterStatus":1.25}`,
			dl:     "94.35",
			dlFrac: 0.25,
			ping:   "8",
			jitter: "1.25",
		},
		{
			name:   "nulls and missing",
			input:  `{"type":"update","dlStatus":null}`,
			dl:     "",
			ping:   "0.0",
			jitter: "0.0",
		},
		{
			name:   "wrong types",
			input:  `{"type":"update","dlStatus":true,"dlProgress":{"x":1},"pingStatus":"Fail","jitterStatus":[1]}`,
			dl:     "",
			ping:   "0.0",
			jitter: "0.0",
			bad:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := decodeFrame([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, frameUpdate, f.Type)

			s := f.sample()
			assert.Equal(t, tt.dl, s.DownloadMbps.Label("", 2))
			assert.Equal(t, tt.ping, s.PingMs.Label("0.0", 1))
			assert.Equal(t, tt.jitter, s.JitterMs.Label("0.0", 1))
			if tt.bad {
				assert.True(t, s.DownloadMbps.Malformed())
				assert.True(t, s.PingMs.Malformed())
				assert.NotEqual(t, s.DownloadFraction, s.DownloadFraction, "NaN marks an unusable fraction")
			} else {
				assert.Equal(t, tt.dlFrac, s.DownloadFraction)
			}
		})
	}
}

func TestDecodeControlFrames(t *testing.T) {
	f, err := decodeFrame([]byte(`{"type":"state","state":"running"}`))
	require.NoError(t, err)
	assert.Equal(t, frameState, f.Type)
	assert.Equal(t, "running", f.State)

	f, err = decodeFrame([]byte(`{"type":"end"}`))
	require.NoError(t, err)
	assert.Equal(t, frameEnd, f.Type)

	_, err = decodeFrame([]byte(`{"type":`))
	assert.Error(t, err)
}
