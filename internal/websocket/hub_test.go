package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_IdentifyAndBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "STATION_IDENTIFY", "stationId": "bar-1", "msgId": "m1"}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack map[string]string
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ACK", ack["type"])
	assert.Equal(t, "m1", ack["msgId"])
	assert.Equal(t, 1, hub.Connected())

	hub.Broadcast(NewEvent(EventCountSaved, 7, map[string]int64{"product_id": 3}))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var e Event
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, EventCountSaved, e.Type)
	assert.Equal(t, int64(7), e.SessionID)
	assert.NotEmpty(t, e.MsgID)
}

func TestHub_NilBroadcastIsNoop(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Broadcast(NewEvent(EventTapLevel, 0, nil)) })
}

func TestHub_StoppedHubReleasesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Connected() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// the hub closed the connection; its pumps exit instead of waiting on the hub
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	released := make(chan struct{})
	go func() {
		c := &Client{hub: hub, StationID: "bar-1"}
		hub.leave(c)
		assert.False(t, hub.rename(c, "bar-2"))
		assert.False(t, hub.join(c))
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("client blocked on a stopped hub")
	}

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.Error(t, err, "connections after shutdown are closed")
}
