package tuicmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/speedgauge/internal/cli"
)

func TestParseArgs(t *testing.T) {
	a := args{version: "1.2.3"}
	var stdout, stderr bytes.Buffer
	_, ok := cli.Parse(&a, "speedgauge tui", []string{"--start", "--title", "Lab"}, &stdout, &stderr)
	require.True(t, ok)
	assert.True(t, a.Start)
	assert.Equal(t, "Lab", a.Title)
	assert.Equal(t, "speedgauge 1.2.3", a.Version())
}

func TestHelpListsKeys(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code, ok := cli.Parse(&args{}, "speedgauge tui", []string{"-h"}, &stdout, &stderr)
	assert.False(t, ok)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "s start, a abort")
}
