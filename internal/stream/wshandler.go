package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"github.com/tiled-data/tiled/internal/structure"
)

// readLimitBytes bounds inbound WebSocket frames; subscribers only ever
// send an initial handshake (if any) so this generously allows 1MB.
const readLimitBytes = 1 << 20

// writeDeadline bounds each outbound frame write.
const writeDeadline = 10 * time.Second

// wireFrame is the JSON envelope written to the socket for every Frame,
// step 3 ("Emit a schema frame... so the client knows
// how to decode subsequent payloads") and step 5 (forward each sequence).
type wireFrame struct {
	Kind     FrameKind       `json:"kind"`
	Seq      int64           `json:"seq,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ChildKey string          `json:"child_key,omitempty"`
}

// Handler serves GET (upgrade) /stream/single/{path}
// data-flow: "websocket upgrade → authenticate via API key header →
// resolve node → emit schema frame → replay stored sequences ≥ requested
// start → subscribe to the node's pub/sub topic → forward each published
// sequence as a framed message → on end-of-stream signal, close cleanly."
// Authentication and node resolution happen in the caller (internal/httpapi);
// this handler only owns the socket lifecycle once a node and its schema
// are known, mirroring the narrow scope of internal/ws/echo.go.
type Handler struct {
	Store Datastore
}

func NewHandler(store Datastore) *Handler {
	return &Handler{Store: store}
}

// Serve upgrades the connection and drives the schema/replay/live loop
// for nodeID, starting replay at start (0 = earliest available).
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, nodeID string, start int64, schema structure.Structure) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")
	c.SetReadLimit(readLimitBytes)

	schemaBody, err := json.Marshal(schema)
	if err != nil {
		c.Close(websocket.StatusInternalError, "schema encode failed")
		return
	}

	sub, err := Subscribe(r.Context(), h.Store, nodeID, start, schemaBody)
	if err != nil {
		c.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	for frame := range sub.Frames {
		wf := wireFrame{Kind: frame.Kind, Seq: frame.Seq, ChildKey: frame.ChildKey}
		if len(frame.Metadata) > 0 {
			wf.Metadata = frame.Metadata
		}
		if len(frame.Payload) > 0 {
			wf.Payload = frame.Payload
		}
		body, err := json.Marshal(wf)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), writeDeadline)
		err = c.Write(ctx, websocket.MessageText, body)
		cancel()
		if err != nil {
			return
		}
		if frame.Kind == FrameEndOfStream {
			c.Close(websocket.StatusNormalClosure, "stream closed")
			return
		}
	}

	// Frames closed without an end-of-stream frame: either the client
	// disconnected (ctx canceled) or the subscriber queue overflowed.
	if err := sub.Err(); err == ErrOverflow {
		c.Close(websocket.StatusPolicyViolation, "subscriber overflow")
		return
	}
	c.Close(websocket.StatusNormalClosure, "bye")
}

// ParseStart parses the `start` query parameter step 4.
func ParseStart(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
