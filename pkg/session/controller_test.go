package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/speedgauge/internal/engine/enginetest"
	"github.com/saveenergy/speedgauge/pkg/session"
)

func runController(t *testing.T) (*session.Controller, *enginetest.Engine, context.CancelFunc) {
	t.Helper()
	eng := enginetest.New()
	c := session.NewController(eng, sequentialIDs())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c, eng, cancel
}

func flush(t *testing.T, c *session.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Flush(ctx))
}

func TestControllerSessionLifecycle(t *testing.T) {
	c, eng, _ := runController(t)

	require.True(t, c.Start())
	require.True(t, c.Start())
	flush(t, c)
	assert.Equal(t, 1, eng.Starts())
	assert.True(t, c.Snapshot().Display.Running())
	assert.Equal(t, "s1", c.Snapshot().SessionID)

	eng.Emit(enginetest.Sample("94.35", 0.5, "", 0, "12.3", ""))
	flush(t, c)
	snap := c.Snapshot()
	assert.Equal(t, "94.35", snap.Display.DownloadRate)
	assert.Equal(t, 0.5, snap.Display.DownloadFraction)
	assert.Equal(t, 1, snap.Samples)

	eng.Finish()
	flush(t, c)
	snap = c.Snapshot()
	assert.False(t, snap.Display.Running())
	assert.Equal(t, session.OutcomeCompleted, snap.Outcome)
	assert.Equal(t, "94.35", snap.Display.DownloadRate)
}

func TestControllerAbortIgnoresLateEvents(t *testing.T) {
	c, eng, _ := runController(t)

	c.Start()
	flush(t, c)
	eng.Emit(enginetest.Sample("60.00", 0.4, "", 0, "10.0", "1.0"))
	c.Abort()
	c.Start()
	flush(t, c)

	eng.Sink(0).Update(enginetest.Sample("99.00", 1, "", 0, "", ""))
	eng.Sink(0).End()
	flush(t, c)

	snap := c.Snapshot()
	want := session.DefaultDisplay()
	want.State = session.StateRunning
	assert.Equal(t, want, snap.Display)
	assert.Equal(t, "s2", snap.SessionID)
	assert.Equal(t, 2, eng.Starts())
	assert.Equal(t, 1, eng.Aborts())
}

func TestControllerToggle(t *testing.T) {
	c, eng, _ := runController(t)

	c.Toggle()
	flush(t, c)
	assert.Equal(t, "Abort", c.Snapshot().Display.ActionLabel())

	c.Toggle()
	flush(t, c)
	assert.Equal(t, "Start", c.Snapshot().Display.ActionLabel())
	assert.Equal(t, 1, eng.Starts())
	assert.Equal(t, 1, eng.Aborts())
}

func TestControllerWatchDeliversLatest(t *testing.T) {
	c, eng, _ := runController(t)

	ch, stop := c.Watch()
	defer stop()

	initial := <-ch
	assert.Equal(t, session.DefaultDisplay(), initial.Display)

	c.Start()
	flush(t, c)
	eng.Emit(enginetest.Sample("10.00", 0.1, "", 0, "", ""))
	eng.Emit(enginetest.Sample("20.00", 0.2, "", 0, "", ""))
	flush(t, c)

	latest := <-ch
	assert.Equal(t, "20.00", latest.Display.DownloadRate)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected pending snapshot %+v", extra)
	default:
	}
}

func TestControllerWatchCancel(t *testing.T) {
	c, _, _ := runController(t)

	ch, stop := c.Watch()
	<-ch
	stop()
	stop()

	_, ok := <-ch
	assert.False(t, ok)

	c.Start()
	flush(t, c)
}

func TestControllerShutdownAbortsRunningSession(t *testing.T) {
	eng := enginetest.New()
	c := session.NewController(eng)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	ch, _ := c.Watch()
	c.Start()
	flush(t, c)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, 1, eng.Aborts())
	assert.Equal(t, session.OutcomeAborted, c.Snapshot().Outcome)

	for range ch {
	}
	assert.False(t, c.Start())
	assert.ErrorIs(t, c.Flush(context.Background()), session.ErrControllerStopped)

	late, stop := c.Watch()
	defer stop()
	_, ok := <-late
	assert.False(t, ok)
}

func TestControllerRunOnce(t *testing.T) {
	c, _, _ := runController(t)
	flush(t, c)

	assert.ErrorIs(t, c.Run(context.Background()), session.ErrControllerRunning)
}
