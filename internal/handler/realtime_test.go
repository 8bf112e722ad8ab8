package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-arbiter/internal/model"
)

func dial(t *testing.T, a *app, path string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(a.e)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestRealtime_SnapshotUpdatesAndPong(t *testing.T) {
	a := newApp(t)
	conn := dial(t, a, "/v1/events/42/ws")

	var initial model.SnapshotMessage
	readJSON(t, conn, &initial)
	assert.Equal(t, model.SeatEventInitial, initial.Type)
	require.Len(t, initial.Seats, 1)
	assert.Equal(t, model.SeatAvailable, initial.Seats[0].Status)
	assert.Equal(t, 1, a.hub.Count(42))

	rec, _ := a.do(t, http.MethodPost, "/v1/seats/401751/hold", token(t, "alice", model.RoleUser), "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var update model.SeatEvent
	readJSON(t, conn, &update)
	assert.Equal(t, model.SeatEventUpdate, update.Type)
	assert.Equal(t, seatID, update.SeatID)
	assert.Equal(t, model.SeatHeld, update.Status)
	assert.Equal(t, "alice", update.Holder)
	assert.Equal(t, uint64(1), update.Version)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	var reply map[string]string
	readJSON(t, conn, &reply)
	assert.Equal(t, "pong", reply["type"])
}

func TestRealtime_DisconnectUnsubscribes(t *testing.T) {
	a := newApp(t)
	conn := dial(t, a, "/v1/events/42/ws")
	var initial model.SnapshotMessage
	readJSON(t, conn, &initial)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return a.hub.Count(42) == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestRealtime_OtherEventsNotDelivered(t *testing.T) {
	a := newApp(t)
	conn := dial(t, a, "/v1/events/43/ws")
	var initial model.SnapshotMessage
	readJSON(t, conn, &initial)
	assert.Empty(t, initial.Seats)

	rec, _ := a.do(t, http.MethodPost, "/v1/seats/401751/hold", token(t, "alice", model.RoleUser), "")
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	var reply map[string]any
	readJSON(t, conn, &reply)
	assert.Equal(t, "pong", reply["type"])
}

