package wsproto

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forattini-dev/raffel-sub006/channel"
	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/registry"
	"github.com/forattini-dev/raffel-sub006/router"
)

func startTestServer(t *testing.T, cfg Config) (*Engine, string) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterProcedure("echo", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		var in map[string]interface{}
		_ = json.Unmarshal(payload, &in)
		return in, nil
	}))

	r := router.New(reg, nil)
	channels := channel.New(0)
	cfg.MaxPayloadSize = 1 << 20
	eng := New(cfg, r, channels, nil)
	mux := eng.Start()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return eng, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestEngine_EnvelopeRequestRoundTrip(t *testing.T) {
	_, url := startTestServer(t, DefaultConfig())
	ws := dial(t, url)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"id": "r1", "type": "request", "procedure": "echo", "payload": map[string]interface{}{"x": 1},
	}))

	var resp map[string]interface{}
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, "r1", resp["id"])
	assert.Equal(t, "echo", resp["procedure"])
}

func TestEngine_UnknownProcedureReturnsErrorFrame(t *testing.T) {
	_, url := startTestServer(t, DefaultConfig())
	ws := dial(t, url)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"id": "r2", "type": "request", "procedure": "missing", "payload": map[string]interface{}{},
	}))

	var resp map[string]interface{}
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, "error", resp["type"])
}

func TestEngine_SubscribePublicChannel(t *testing.T) {
	_, url := startTestServer(t, DefaultConfig())
	ws := dial(t, url)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"id": "s1", "type": "subscribe", "channel": "room-1"}))

	var resp map[string]interface{}
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, "subscribed", resp["type"])
	assert.Equal(t, "room-1", resp["channel"])
}

func TestEngine_InvalidJSONFrameGetsErrorReply(t *testing.T) {
	_, url := startTestServer(t, DefaultConfig())
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	var resp map[string]interface{}
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, "error", resp["type"])
}

func TestEngine_ChunkedFrameReassembles(t *testing.T) {
	_, url := startTestServer(t, DefaultConfig())
	ws := dial(t, url)

	full, err := json.Marshal(map[string]interface{}{
		"id": "r3", "type": "request", "procedure": "echo", "payload": map[string]interface{}{"big": "value"},
	})
	require.NoError(t, err)

	mid := len(full) / 2
	pieces := [][]byte{full[:mid], full[mid:]}
	for i, piece := range pieces {
		require.NoError(t, ws.WriteJSON(map[string]interface{}{
			"type":     "chunk",
			"chunkId":  "grp-1",
			"seq":      i,
			"final":    i == len(pieces)-1,
			"data_b64": base64.StdEncoding.EncodeToString(piece),
		}))
	}

	var resp map[string]interface{}
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, "r3", resp["id"])
	assert.Equal(t, "echo", resp["procedure"])
}

func TestEngine_CompressedLargeResponseRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCompression = true
	_, url := startTestServer(t, cfg)
	ws := dial(t, url)

	big := strings.Repeat("y", compressionThreshold*2)
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"id": "r4", "type": "request", "procedure": "echo", "payload": map[string]interface{}{"big": big},
	}))

	msgType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)

	plain, err := decompressFrame(data)
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(plain, &resp))
	assert.Equal(t, "r4", resp["id"])
}

func TestEngine_CompressedSmallResponseStaysText(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCompression = true
	_, url := startTestServer(t, cfg)
	ws := dial(t, url)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"id": "r5", "type": "request", "procedure": "echo", "payload": map[string]interface{}{"x": 1},
	}))

	msgType, _, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
}

func TestEngine_ShutdownClosesConnections(t *testing.T) {
	eng, url := startTestServer(t, DefaultConfig())
	ws := dial(t, url)

	eng.Shutdown()
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}
