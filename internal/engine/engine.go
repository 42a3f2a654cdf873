// Package engine builds the configured measurement engine.
package engine

import (
	"github.com/saveenergy/speedgauge/internal/config"
	"github.com/saveenergy/speedgauge/internal/engine/remote"
	"github.com/saveenergy/speedgauge/internal/engine/simulated"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
	"github.com/saveenergy/speedgauge/pkg/session"
)

// New returns the engine selected by cfg and a function releasing its
// resources.
func New(cfg *config.Config) (session.Engine, func() error, error) {
	switch cfg.Engine {
	case config.EngineSimulated:
		e := simulated.New(simulated.Config{
			Tick:             cfg.SimTick,
			PingDuration:     cfg.SimPingDuration,
			DownloadDuration: cfg.SimDownloadDuration,
			UploadDuration:   cfg.SimUploadDuration,
			DownloadTarget:   cfg.SimDownloadMbps,
			UploadTarget:     cfg.SimUploadMbps,
			PingMs:           cfg.SimPingMs,
			JitterMs:         cfg.SimJitterMs,
			Wobble:           simulated.DefaultConfig().Wobble,
			Seed:             cfg.SimSeed,
		})
		return e, func() error { return e.Abort() }, nil
	case config.EngineRemote:
		e := remote.New(remote.Config{
			URL:         cfg.RemoteURL,
			DialTimeout: cfg.RemoteDialTimeout,
		})
		return e, e.Close, nil
	default:
		return nil, nil, gaugeerrors.ErrInvalidConfig("unknown engine "+cfg.Engine, nil)
	}
}
