package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/docket_engine/infrastructure/logging"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(logging.New("test", "error", "text"), nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesClient(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(Event{Kind: EventCaseStatusChanged, CaseID: "alpha", Status: "PROCESSING"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, EventCaseStatusChanged, got.Kind)
	assert.Equal(t, "alpha", got.CaseID)
	assert.Equal(t, "PROCESSING", got.Status)
	assert.False(t, got.TS.IsZero())
}

func TestBroadcastToMultipleClients(t *testing.T) {
	hub, server := newTestHub(t)
	first := dial(t, server)
	second := dial(t, server)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(Event{Kind: EventCaseAdded, CaseID: "beta"})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "beta", got.CaseID)
	}
}

func TestClientDisconnectIsNoticed(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastWithNoClients(t *testing.T) {
	hub, _ := newTestHub(t)
	// Must not block or panic.
	hub.Broadcast(Event{Kind: EventCaseRemoved, CaseID: "gone"})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestCloseRejectsNewClients(t *testing.T) {
	hub, server := newTestHub(t)
	hub.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		// The upgrade may succeed before the hub drops the connection;
		// either way no client may register.
		conn.Close()
	}
	assert.Equal(t, 0, hub.ClientCount())
}
