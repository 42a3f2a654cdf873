package session

import (
	"context"
	"errors"
	"time"

	"github.com/saveenergy/speedgauge/internal/logging"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
)

// ErrAborted is returned by Measure when the session was aborted by someone
// other than the caller.
var ErrAborted = errors.New("session aborted")

const abortSettleTimeout = 2 * time.Second

// Measure starts a session and blocks until it ends, calling onUpdate with
// every running snapshot. Cancelling ctx aborts the session; the returned
// error is then ctx.Err(). Run must be active on another goroutine.
func (c *Controller) Measure(ctx context.Context, onUpdate func(Snapshot)) (Snapshot, error) {
	updates, cancel := c.Watch()
	defer cancel()

	if err := c.Flush(ctx); err != nil {
		return c.Snapshot(), err
	}
	before := c.Snapshot()
	if !c.Start() {
		return c.Snapshot(), ErrControllerStopped
	}
	if err := c.Flush(ctx); err != nil {
		return c.abortFor(err)
	}
	// A rejected start leaves the previous session in place, completed or
	// not, so only a fresh ID proves this call started one.
	first := c.Snapshot()
	fresh := first.SessionID != "" && first.SessionID != before.SessionID
	if !fresh || (!first.Display.Running() && first.Outcome != OutcomeCompleted) {
		return first, gaugeerrors.ErrEngineNotReady("session did not start")
	}
	id := first.SessionID

	for {
		select {
		case <-ctx.Done():
			return c.abortFor(ctx.Err())
		case snap, ok := <-updates:
			if !ok {
				return c.Snapshot(), ErrControllerStopped
			}
			switch {
			case snap.Display.Running() && snap.SessionID == id:
				if onUpdate != nil {
					onUpdate(snap)
				}
			case snap.Outcome == OutcomeCompleted && snap.SessionID == id:
				return snap, nil
			case snap.Outcome == OutcomeAborted:
				return snap, ErrAborted
			}
		}
	}
}

// abortFor aborts the running session on the caller's behalf and waits for
// the reset display.
func (c *Controller) abortFor(cause error) (Snapshot, error) {
	c.Abort()
	ctx, cancel := context.WithTimeout(context.Background(), abortSettleTimeout)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		c.logger.Warn("abort not confirmed", logging.Field{Key: "error", Value: err})
	}
	return c.Snapshot(), cause
}
