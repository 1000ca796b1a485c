package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordLifecycle queues a hydration event on connect, the way the gateway
// service does, and records how many connections the room pool held at
// that moment.
type recordLifecycle struct {
	cm *ConnectionManager

	mu                sync.Mutex
	poolSizeOnConnect int
}

func (l *recordLifecycle) OnConnect(conn *Connection) {
	size := l.cm.GetConnectionStats()["total_connections"].(int)
	l.mu.Lock()
	l.poolSizeOnConnect = size
	l.mu.Unlock()

	event, err := newRoomEvent(conn.RoomID.String(), EventTypeStrokeHistory, StrokeHistoryPayload{}, time.Now())
	if err != nil {
		return
	}
	l.cm.SendToConnection(conn, event)
}

func (l *recordLifecycle) OnDisconnect(conn *Connection) {}

func TestConnectionManager_HydratesBeforeJoiningRoomPool(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	lc := &recordLifecycle{cm: cm, poolSizeOnConnect: -1}
	cm.SetLifecycle(lc)
	roomID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := cm.UpgradeConnection(w, r, "alice", roomID); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	// The hydration event queued during OnConnect must be the first frame;
	// a broadcast fanned out in the connect window can never get ahead of
	// it because the connection is not yet in the pool.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event RoomEvent
	require.NoError(t, ws.ReadJSON(&event))
	assert.Equal(t, EventTypeStrokeHistory, event.Type)

	require.Eventually(t, func() bool {
		return cm.GetConnectionStats()["total_connections"].(int) == 1
	}, 2*time.Second, 10*time.Millisecond)

	lc.mu.Lock()
	defer lc.mu.Unlock()
	assert.Equal(t, 0, lc.poolSizeOnConnect, "lifecycle must run before the connection joins the room pool")
}
