// Package remote drives a measurement engine that runs behind a websocket
// endpoint. Commands go out as {"action": ...} frames; status frames come back
// and are forwarded to the subscribed sink.
package remote

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saveenergy/speedgauge/internal/logging"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
	"github.com/saveenergy/speedgauge/pkg/session"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxFrameSize        = 64 * 1024
	commandQueueSize    = 8

	actionStart = "start"
	actionAbort = "abort"
)

var errCommandQueueFull = errors.New("command queue full")

type Config struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Header       http.Header
}

type Engine struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	out     chan string
	dialing bool
	sink    session.Sink
	state   session.EngineState
	writeMu sync.Mutex
}

func New(cfg Config) *Engine {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Engine{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logging.NewLogger("engine.remote"),
	}
}

// Connect dials the engine and starts reading its frames. It is a no-op when
// already connected. Start never dials: it fails while disconnected and
// schedules a background Connect for the next attempt.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	connected := e.conn != nil
	e.mu.Unlock()
	if connected {
		return nil
	}
	if e.cfg.URL == "" {
		return gaugeerrors.ErrEngineNotReady("remote engine URL not configured")
	}

	conn, resp, err := e.dialer.DialContext(ctx, e.cfg.URL, e.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return gaugeerrors.ErrConnectionFailed("dial "+e.cfg.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)

	e.mu.Lock()
	if e.conn != nil {
		e.mu.Unlock()
		conn.Close()
		return nil
	}
	out := make(chan string, commandQueueSize)
	e.conn = conn
	e.out = out
	e.state = session.EngineReady
	e.mu.Unlock()

	go e.readLoop(conn)
	go e.writeLoop(conn, out)
	e.logger.Info("connected to remote engine", logging.Field{Key: "url", Value: e.cfg.URL})
	return nil
}

// redialLocked starts one background Connect unless one is in flight.
func (e *Engine) redialLocked() {
	if e.dialing || e.cfg.URL == "" {
		return
	}
	e.dialing = true
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DialTimeout)
		err := e.Connect(ctx)
		cancel()

		e.mu.Lock()
		e.dialing = false
		e.mu.Unlock()
		if err != nil {
			e.logger.Warn("remote engine reconnect failed", logging.Field{Key: "error", Value: err})
		}
	}()
}

func (e *Engine) Subscribe(sink session.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// Start queues the start command and returns without touching the network.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.URL == "" {
		return gaugeerrors.ErrEngineNotReady("remote engine URL not configured")
	}
	if e.conn == nil {
		e.redialLocked()
		return gaugeerrors.ErrEngineNotReady("remote engine not connected")
	}
	if !e.queueLocked(actionStart) {
		return gaugeerrors.ErrEngineNotReady("remote engine command queue full")
	}
	e.state = session.EngineRunning
	return nil
}

// Abort queues the abort command. The engine is considered ready immediately;
// frames it still sends for the aborted run are forwarded and left to the
// caller to discard.
func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = session.EngineReady
	if e.conn == nil {
		return nil
	}
	if !e.queueLocked(actionAbort) {
		return gaugeerrors.ErrConnectionFailed("queue abort", errCommandQueueFull)
	}
	return nil
}

func (e *Engine) queueLocked(action string) bool {
	select {
	case e.out <- action:
		return true
	default:
		return false
	}
}

func (e *Engine) State() session.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close disconnects from the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	conn := e.conn
	e.detachLocked()
	e.state = session.EngineReady
	e.mu.Unlock()

	if conn == nil {
		return nil
	}
	e.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	e.writeMu.Unlock()
	return conn.Close()
}

// detachLocked forgets the current connection and stops its writer.
func (e *Engine) detachLocked() {
	if e.out != nil {
		close(e.out)
		e.out = nil
	}
	e.conn = nil
}

// writeLoop owns every command write on conn, so slow writes never hold up
// Start or Abort.
func (e *Engine) writeLoop(conn *websocket.Conn, out <-chan string) {
	for action := range out {
		if err := e.send(conn, action); err != nil {
			e.disconnected(conn, err)
		}
	}
}

func (e *Engine) send(conn *websocket.Conn, action string) error {
	data, err := json.Marshal(command{Action: action})
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout)); err != nil {
		return gaugeerrors.ErrConnectionFailed("send "+action, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return gaugeerrors.ErrConnectionFailed("send "+action, err)
	}
	return nil
}

func (e *Engine) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.disconnected(conn, err)
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			e.logger.Warn("undecodable engine frame dropped",
				logging.Field{Key: "error", Value: gaugeerrors.ErrMalformedSample("frame", err)})
			continue
		}
		e.dispatch(f)
	}
}

func (e *Engine) dispatch(f frame) {
	e.mu.Lock()
	sink := e.sink
	switch f.Type {
	case frameEnd:
		e.state = session.EngineReady
	case frameState:
		var s session.State
		if err := s.UnmarshalText([]byte(f.State)); err != nil {
			e.logger.Warn("unknown engine state", logging.Field{Key: "state", Value: f.State})
		} else if s == session.StateRunning {
			e.state = session.EngineRunning
		} else {
			e.state = session.EngineReady
		}
	}
	e.mu.Unlock()

	if sink == nil {
		return
	}
	switch f.Type {
	case frameUpdate:
		sink.Update(f.sample())
	case frameEnd:
		sink.End()
	case frameState:
	default:
		e.logger.Debug("unknown engine frame type", logging.Field{Key: "type", Value: f.Type})
	}
}

// disconnected ends a run that was still active when the connection dropped,
// so the front-end does not wait forever.
func (e *Engine) disconnected(conn *websocket.Conn, err error) {
	e.mu.Lock()
	if e.conn != conn {
		e.mu.Unlock()
		return
	}
	e.detachLocked()
	wasRunning := e.state == session.EngineRunning
	e.state = session.EngineReady
	sink := e.sink
	e.mu.Unlock()

	conn.Close()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
		e.logger.Info("remote engine disconnected")
	} else {
		e.logger.Warn("remote engine connection lost", logging.Field{Key: "error", Value: err})
	}
	if wasRunning && sink != nil {
		sink.End()
	}
}
