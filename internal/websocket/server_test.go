package websocket

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/speedgauge/pkg/session"
)

type countingCommander struct {
	starts atomic.Int32
	aborts atomic.Int32
}

func (c *countingCommander) Start() bool { c.starts.Add(1); return true }
func (c *countingCommander) Abort() bool { c.aborts.Add(1); return true }

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleDisplay))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDisplay(t *testing.T, conn *websocket.Conn) displayMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg displayMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServerAllowedOriginWildcard(t *testing.T) {
	s := NewServer(&countingCommander{})
	defer s.Close()
	s.SetAllowedOrigins([]string{"*.example.com"})

	assert.True(t, s.isAllowedOrigin("https://foo.example.com", "foo.example.com"))
	assert.False(t, s.isAllowedOrigin("https://evil.test", "foo.example.com"))
}

func TestServerAllowedOriginHostMatch(t *testing.T) {
	s := NewServer(&countingCommander{})
	defer s.Close()
	s.SetAllowedOrigins([]string{"foo.example.com"})

	assert.True(t, s.isAllowedOrigin("https://foo.example.com:8443", "foo.example.com:8443"))
}

func TestServerSameOriginWithoutAllowList(t *testing.T) {
	s := NewServer(&countingCommander{})
	defer s.Close()
	s.SetAllowedOrigins(nil)

	assert.True(t, s.isAllowedOrigin("http://gauge.local:8080", "gauge.local:8080"))
	assert.False(t, s.isAllowedOrigin("http://other.local", "gauge.local:8080"))
	assert.True(t, s.isAllowedOrigin("", "gauge.local"))
}

func TestServerSendsLatestDisplayOnConnect(t *testing.T) {
	s := NewServer(&countingCommander{})
	defer s.Close()

	snap := session.Snapshot{Display: session.DefaultDisplay(), Outcome: session.OutcomeCompleted}
	snap.Display.DownloadRate = "94.35"
	s.Broadcast(snap)

	conn := dial(t, s)
	msg := readDisplay(t, conn)
	assert.Equal(t, "complete", msg.Type)
	assert.Equal(t, "94.35", msg.Display.DownloadRate)
	assert.Equal(t, "Start", msg.Action)
}

func TestServerBroadcast(t *testing.T) {
	s := NewServer(&countingCommander{})
	defer s.Close()

	conn := dial(t, s)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	snap := session.Snapshot{Display: session.DefaultDisplay(), SessionID: "s1"}
	snap.Display.State = session.StateRunning
	snap.Display.Ping = "12.3"
	s.Broadcast(snap)

	msg := readDisplay(t, conn)
	assert.Equal(t, "display", msg.Type)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, session.StateRunning, msg.Display.State)
	assert.Equal(t, "12.3", msg.Display.Ping)
	assert.Equal(t, "Abort", msg.Action)
}

func TestServerForwardsActions(t *testing.T) {
	cmd := &countingCommander{}
	s := NewServer(cmd)
	defer s.Close()

	conn := dial(t, s)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"start"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ABORT"}`)))

	require.Eventually(t, func() bool {
		return cmd.starts.Load() == 1 && cmd.aborts.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"pause"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply errorMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Message, "pause")
}

func TestServerRejectsForeignOrigin(t *testing.T) {
	s := NewServer(&countingCommander{})
	defer s.Close()
	s.SetAllowedOrigins([]string{"https://gauge.example"})

	srv := httptest.NewServer(http.HandlerFunc(s.HandleDisplay))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestServerConnectDuringBroadcastKeepsOrder(t *testing.T) {
	const last = 100
	s := NewServer(&countingCommander{})
	defer s.Close()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleDisplay))
	defer srv.Close()

	broadcast := func(n int) {
		snap := session.Snapshot{Display: session.DefaultDisplay()}
		snap.Display.Ping = fmt.Sprintf("%d.0", n)
		s.Broadcast(snap)
	}
	broadcast(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := 1; n <= last; n++ {
			broadcast(n)
		}
	}()

	var conns []*websocket.Conn
	for i := 0; i < 5; i++ {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	<-done

	for _, conn := range conns {
		prev := -1.0
		for prev < last {
			msg := readDisplay(t, conn)
			ping, err := strconv.ParseFloat(msg.Display.Ping, 64)
			require.NoError(t, err)
			require.GreaterOrEqual(t, ping, prev, "display went backwards")
			prev = ping
		}
	}
}
