// Package wsproto implements the WebSocket protocol engine: connection
// lifecycle, envelope/channel-protocol frame dispatch, heartbeat, and
// graceful shutdown (§4.5). It is the transport glue between
// gorilla/websocket and the router/channel packages.
package wsproto

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/forattini-dev/raffel-sub006/channel"
	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/idgen"
	"github.com/forattini-dev/raffel-sub006/raffelerr"
	"github.com/forattini-dev/raffel-sub006/router"
)

// inboundMessage is the shape of every decoded client frame, a superset of
// the envelope, channel-protocol and chunking-extension wire formats (§6,
// SPEC_FULL §1.3).
type inboundMessage struct {
	ID        string            `json:"id,omitempty"`
	Type      string            `json:"type"`
	Procedure string            `json:"procedure,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Event     string            `json:"event,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Chunking extension fields (type "chunk"): a logical frame too large
	// for one write is split client-side into an ordered sequence of these,
	// each carrying a base64 slice of the original frame's JSON bytes.
	ChunkID    string `json:"chunkId,omitempty"`
	ChunkSeq   int    `json:"seq,omitempty"`
	ChunkFinal bool   `json:"final,omitempty"`
	ChunkData  string `json:"data_b64,omitempty"`
}

const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPublish     = "publish"
	msgChunk       = "chunk"
)

// ContextFactory builds the initial auth/tracing facts for a connection
// from its upgrade request, mirroring §6's
// `contextFactory(connection, request) -> partial Context`.
type ContextFactory func(socketID string, r *http.Request) (envelope.Auth, envelope.Tracing)

// activeCall tracks one in-flight request or stream so it can be
// cancelled on disconnect or shutdown.
type activeCall struct {
	ctx *envelope.Context
}

// Conn is one upgraded WebSocket connection's server-side state (§4.5).
type Conn struct {
	id  string
	ws  *websocket.Conn
	eng *Engine

	writeMu sync.Mutex

	mu             sync.Mutex
	alive          bool
	activeRequests map[string]*activeCall
	activeStreams  map[string]*activeCall

	// chunkBuffers reassembles payloads split across multiple frames via
	// the {seq, final} chunking extension (SPEC_FULL §1.3), keyed by
	// chunkId, piece index -> decoded bytes.
	chunkBuffers map[string]map[int][]byte
}

func (c *Conn) setAlive(v bool) {
	c.mu.Lock()
	c.alive = v
	c.mu.Unlock()
}

func (c *Conn) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// writeJSON serializes v and writes it as a text frame, or as a deflated
// binary frame once EnableCompression is on and the payload crosses
// compressionThreshold; gorilla/websocket connections require a single
// writer at a time, hence the mutex.
func (c *Conn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.eng.cfg.EnableCompression && len(data) >= compressionThreshold {
		compressed, err := compressFrame(data)
		if err == nil {
			return c.ws.WriteMessage(websocket.BinaryMessage, compressed)
		}
		c.eng.logger.Debug("frame compression failed, falling back to plain text", "socket_id", c.id, "error", err)
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	defer c.eng.removeConn(c)

	c.ws.SetReadLimit(int64(c.eng.cfg.MaxPayloadSize))
	c.ws.SetPongHandler(func(string) error {
		c.setAlive(true)
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.eng.logger.Debug("connection closed", "socket_id", c.id, "error", err)
			return
		}
		c.setAlive(true)

		if msgType == websocket.BinaryMessage {
			plain, err := decompressFrame(data)
			if err != nil {
				c.writeJSON(errorFrame("", raffelerr.New(raffelerr.CodeInvalidArgument, "invalid deflated frame")))
				continue
			}
			data = plain
		}
		c.handleFrame(data)
	}
}

func (c *Conn) handleFrame(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.writeJSON(errorFrame("", raffelerr.New(raffelerr.CodeInvalidArgument, "invalid JSON frame")))
		return
	}

	switch msg.Type {
	case msgChunk:
		c.handleChunk(msg)
	case msgSubscribe:
		c.handleSubscribe(msg)
	case msgUnsubscribe:
		c.handleUnsubscribe(msg)
	case msgPublish:
		c.handlePublish(msg)
	default:
		c.handleEnvelope(msg)
	}
}

// handleChunk accumulates one piece of a chunked logical frame and, once
// the final piece has arrived, reassembles the original JSON bytes in
// sequence order and reprocesses them through handleFrame as if they had
// arrived whole (SPEC_FULL §1.3; grounded on cellorg's ChunkCollector).
func (c *Conn) handleChunk(msg inboundMessage) {
	if msg.ChunkID == "" {
		c.writeJSON(errorFrame(msg.ID, raffelerr.New(raffelerr.CodeInvalidArgument, "chunk frame missing chunkId")))
		return
	}
	piece, err := base64.StdEncoding.DecodeString(msg.ChunkData)
	if err != nil {
		c.writeJSON(errorFrame(msg.ID, raffelerr.New(raffelerr.CodeInvalidArgument, "chunk frame has invalid base64 data")))
		return
	}

	c.mu.Lock()
	group, ok := c.chunkBuffers[msg.ChunkID]
	if !ok {
		group = make(map[int][]byte)
		c.chunkBuffers[msg.ChunkID] = group
	}
	group[msg.ChunkSeq] = piece

	if !msg.ChunkFinal {
		c.mu.Unlock()
		return
	}

	seqs := make([]int, 0, len(group))
	for seq := range group {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	assembled := make([]byte, 0)
	for _, seq := range seqs {
		assembled = append(assembled, group[seq]...)
	}
	delete(c.chunkBuffers, msg.ChunkID)
	c.mu.Unlock()

	c.handleFrame(assembled)
}

func (c *Conn) handleSubscribe(msg inboundMessage) {
	ctx := c.eng.buildContext(c.id, nil)
	res, err := c.eng.Channels.Subscribe(c.id, msg.Channel, ctx)
	if err != nil {
		c.writeJSON(errorFrame(msg.ID, raffelerr.As(err)))
		return
	}
	reply := map[string]interface{}{"id": msg.ID, "type": "subscribed", "channel": msg.Channel}
	if res.Type == channel.TypePresence {
		reply["members"] = res.Members
	}
	c.writeJSON(reply)
}

func (c *Conn) handleUnsubscribe(msg inboundMessage) {
	if err := c.eng.Channels.Unsubscribe(c.id, msg.Channel); err != nil {
		c.writeJSON(errorFrame(msg.ID, raffelerr.As(err)))
		return
	}
	c.writeJSON(map[string]interface{}{"id": msg.ID, "type": "unsubscribed", "channel": msg.Channel})
}

func (c *Conn) handlePublish(msg inboundMessage) {
	ctx := c.eng.buildContext(c.id, nil)
	var data interface{}
	_ = json.Unmarshal(msg.Data, &data)
	if err := c.eng.Channels.Publish(c.id, msg.Channel, msg.Event, data, ctx); err != nil {
		c.writeJSON(errorFrame(msg.ID, raffelerr.As(err)))
		return
	}
}

func (c *Conn) handleEnvelope(msg inboundMessage) {
	if msg.Procedure == "" || msg.Type == "" {
		c.writeJSON(errorFrame(msg.ID, raffelerr.New(raffelerr.CodeInvalidArgument, "INVALID_ENVELOPE: missing procedure/type")))
		return
	}
	requestID := msg.ID
	if requestID == "" {
		requestID = idgen.MustID()
	}

	ctx := c.eng.buildContext(c.id, nil)

	env := &envelope.Envelope{
		ID:        requestID,
		Procedure: msg.Procedure,
		Type:      envelope.Type(msg.Type),
		Payload:   msg.Payload,
		Metadata:  msg.Metadata,
		Context:   ctx,
	}

	c.mu.Lock()
	c.activeRequests[requestID] = &activeCall{ctx: ctx}
	c.mu.Unlock()

	result := c.eng.Router.Handle(env)

	switch result.Kind {
	case router.ResultStream:
		c.mu.Lock()
		if call, ok := c.activeRequests[requestID]; ok {
			delete(c.activeRequests, requestID)
			c.activeStreams[requestID] = call
		}
		c.mu.Unlock()
		c.streamOut(requestID, result.Stream)
	default:
		c.mu.Lock()
		delete(c.activeRequests, requestID)
		c.mu.Unlock()
		c.writeEnvelope(result.Envelope)
	}
}

func (c *Conn) streamOut(requestID string, items <-chan *envelope.Envelope) {
	defer func() {
		c.mu.Lock()
		delete(c.activeStreams, requestID)
		c.mu.Unlock()
	}()
	for env := range items {
		c.writeEnvelope(env)
	}
}

func (c *Conn) writeEnvelope(env *envelope.Envelope) {
	if env == nil {
		return
	}
	var payload interface{}
	_ = json.Unmarshal(env.Payload, &payload)
	frame := map[string]interface{}{
		"id":        env.ID,
		"procedure": env.Procedure,
		"type":      env.Type,
		"payload":   payload,
	}
	if len(env.Metadata) > 0 {
		frame["metadata"] = env.Metadata
	}
	if env.Type == envelope.TypeError {
		frame["id"] = env.ID + ":error"
	}
	if err := c.writeJSON(frame); err != nil {
		c.eng.logger.Debug("failed writing frame", "socket_id", c.id, "error", err)
	}
}

func errorFrame(id string, appErr *raffelerr.Error) map[string]interface{} {
	if id != "" {
		id += ":error"
	}
	frame := map[string]interface{}{
		"id":      id,
		"type":    "error",
		"code":    string(appErr.Code),
		"status":  appErr.Status(),
		"message": appErr.Message,
	}
	return frame
}

// cancelAll cancels every active request/stream Context on this
// connection, called on disconnect and shutdown (§5 cancellation).
func (c *Conn) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.activeRequests {
		call.ctx.Cancel()
	}
	for _, call := range c.activeStreams {
		call.ctx.Cancel()
	}
}

func newConn(id string, ws *websocket.Conn, eng *Engine) *Conn {
	return &Conn{
		id:             id,
		ws:             ws,
		eng:            eng,
		alive:          true,
		activeRequests: make(map[string]*activeCall),
		activeStreams:  make(map[string]*activeCall),
		chunkBuffers:   make(map[string]map[int][]byte),
	}
}
