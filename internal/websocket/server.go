// Package websocket streams display snapshots to browser front-ends and
// accepts start/abort actions from them.
package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeTimeout = 5 * time.Second
	maxFrameSize = 1024

	ActionStart = "start"
	ActionAbort = "abort"
)

// Commander receives the actions clients send. *session.Controller
// satisfies it.
type Commander interface {
	Start() bool
	Abort() bool
}

type Server struct {
	upgrader       websocket.Upgrader
	commands       Commander
	clients        map[*websocket.Conn]*clientConn
	last           []byte
	allowedOrigins []string
	pingInterval   time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewServer(commands Commander) *Server {
	server := &Server{
		commands:     commands,
		clients:      make(map[*websocket.Conn]*clientConn),
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	server.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return server.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	server.startPingLoop()
	return server
}

func (s *Server) SetAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigins = origins
}

func (s *Server) SetPingInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingInterval = interval
}

// HandleDisplay upgrades the request and streams display messages until the
// client goes away. The latest display is sent right after the upgrade.
func (s *Server) HandleDisplay(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade error", logging.Field{Key: "error", Value: err})
		return
	}
	defer conn.Close()

	// Clients only send short action frames.
	conn.SetReadLimit(maxFrameSize)

	// Holding the client's write lock until the initial display is out makes
	// any Broadcast that already sees this client queue behind it.
	client := &clientConn{conn: conn}
	client.mu.Lock()
	s.mu.Lock()
	s.clients[conn] = client
	last := s.last
	s.mu.Unlock()
	defer s.removeClient(conn)

	var err error
	if last != nil {
		err = client.writeLocked(websocket.TextMessage, last)
	}
	client.mu.Unlock()
	if err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleAction(client, data)
	}
}

func (s *Server) handleAction(client *clientConn, data []byte) {
	var req actionMessage
	if err := json.Unmarshal(data, &req); err != nil {
		_ = client.writeJSON(errorMessage{Type: "error", Message: "invalid action frame"})
		return
	}

	var accepted bool
	switch strings.ToLower(req.Action) {
	case ActionStart:
		accepted = s.commands.Start()
	case ActionAbort:
		accepted = s.commands.Abort()
	default:
		_ = client.writeJSON(errorMessage{Type: "error", Message: "unknown action " + req.Action})
		return
	}
	if !accepted {
		_ = client.writeJSON(errorMessage{Type: "error", Message: "controller stopped"})
	}
}

// Broadcast sends snap to every connected client and remembers it for
// clients that connect later.
func (s *Server) Broadcast(snap session.Snapshot) {
	data, err := json.Marshal(newDisplayMessage(snap))
	if err != nil {
		logging.Warn("WebSocket display marshal failed", logging.Field{Key: "error", Value: err})
		return
	}

	s.mu.Lock()
	s.last = data
	clientList := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		clientList = append(clientList, client)
	}
	s.mu.Unlock()

	for _, client := range clientList {
		if err := client.writeMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(client.conn)
			client.conn.Close()
		}
	}
}

// Run broadcasts every snapshot from updates until the channel closes or ctx
// is done.
func (s *Server) Run(ctx context.Context, updates <-chan session.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			s.Broadcast(snap)
		}
	}
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) startPingLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := s.getPingInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pingClients()
				next := s.getPingInterval()
				if next != interval {
					ticker.Reset(next)
					interval = next
				}
			}
		}
	}()
}

// Close stops the ping loop and disconnects every client.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.mu.Lock()
	clientList := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		clientList = append(clientList, client)
	}
	s.mu.Unlock()
	for _, client := range clientList {
		_ = client.writeMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		client.conn.Close()
	}
}

func (s *Server) getPingInterval() time.Duration {
	s.mu.RLock()
	interval := s.pingInterval
	s.mu.RUnlock()
	if interval <= 0 {
		return 30 * time.Second
	}
	return interval
}

func (s *Server) pingClients() {
	s.mu.RLock()
	clientList := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		clientList = append(clientList, client)
	}
	s.mu.RUnlock()

	for _, client := range clientList {
		if err := client.writeMessage(websocket.PingMessage, nil); err != nil {
			s.removeClient(client.conn)
			client.conn.Close()
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
}

type actionMessage struct {
	Action string `json:"action"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type displayMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Outcome   session.Outcome `json:"outcome"`
	Samples   int             `json:"samples"`
	Display   session.Display `json:"display"`
	Action    string          `json:"action_label"`
	Time      int64           `json:"time"`
}

func newDisplayMessage(snap session.Snapshot) displayMessage {
	msgType := "display"
	if !snap.Display.Running() && snap.Outcome == session.OutcomeCompleted {
		msgType = "complete"
	}
	return displayMessage{
		Type:      msgType,
		SessionID: snap.SessionID,
		Outcome:   snap.Outcome,
		Samples:   snap.Samples,
		Display:   snap.Display,
		Action:    snap.Display.ActionLabel(),
		Time:      time.Now().Unix(),
	}
}

func (c *clientConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeMessage(websocket.TextMessage, data)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(messageType, data)
}

func (c *clientConn) writeLocked(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}
