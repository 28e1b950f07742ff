package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	memcache "github.com/alanyoungcy/bettogether/internal/cache/memory"
)

func marketChannel(payload []byte) string {
	var ev struct {
		MarketID string `json:"market_id"`
	}
	_ = json.Unmarshal(payload, &ev)
	return "market:" + ev.MarketID
}

type hubEnv struct {
	hub *Hub
	bus *memcache.SignalBus
	url string
}

func newHubEnv(t *testing.T) *hubEnv {
	t.Helper()
	bus := memcache.NewSignalBus(0)
	hub := NewHub(bus, Config{Pattern: "market:*", Channel: marketChannel}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	<-hub.Ready()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &hubEnv{hub: hub, bus: bus, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (e *hubEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	before := e.hub.Clients()
	conn, _, err := websocket.DefaultDialer.Dial(e.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return e.hub.Clients() == before+1 }, time.Second, 10*time.Millisecond)
	return conn
}

func (e *hubEnv) publish(t *testing.T, marketID string) {
	t.Helper()
	payload := []byte(`{"type":"bet_placed","market_id":"` + marketID + `","outcome":1}`)
	require.NoError(t, e.bus.Publish(context.Background(), "market:"+marketID, payload))
}

func (e *hubEnv) subscribedTo(channel string) bool {
	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	for c := range e.hub.clients {
		if c.subscribed(channel) {
			return true
		}
	}
	return false
}

func TestHubFiltersBySubscription(t *testing.T) {
	e := newHubEnv(t)
	conn := e.dial(t, "")

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"market:*"}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"market:b"}}))
	require.Eventually(t, func() bool {
		return e.subscribedTo("market:b") && !e.subscribedTo("market:a")
	}, time.Second, 10*time.Millisecond)

	e.publish(t, "a")
	e.publish(t, "b")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(data), `"market_id":"b"`)
}

func TestHubProtoFrames(t *testing.T) {
	e := newHubEnv(t)
	conn := e.dial(t, "?format=proto")

	e.publish(t, "m1")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	assert.Equal(t, "m1", st.Fields["market_id"].GetStringValue())
	assert.Equal(t, "bet_placed", st.Fields["type"].GetStringValue())
	assert.Equal(t, float64(1), st.Fields["outcome"].GetNumberValue())
}

func TestEncodeProtoRejectsNonObjects(t *testing.T) {
	_, err := encodeProto([]byte(`[1,2]`))
	assert.Error(t, err)
}
