package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/speedgauge/internal/config"
	"github.com/saveenergy/speedgauge/internal/engine/remote"
	"github.com/saveenergy/speedgauge/internal/engine/simulated"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
)

func TestNewSelectsEngine(t *testing.T) {
	cfg := config.DefaultConfig()
	e, closeFn, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &simulated.Engine{}, e)
	assert.NoError(t, closeFn())

	cfg.Engine = config.EngineRemote
	cfg.RemoteURL = "ws://127.0.0.1:1/ws"
	e, closeFn, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &remote.Engine{}, e)
	assert.NoError(t, closeFn())

	cfg.Engine = "other"
	_, _, err = New(cfg)
	assert.ErrorIs(t, err, gaugeerrors.ErrConfig)
}
