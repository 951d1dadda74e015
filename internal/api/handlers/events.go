package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

const (
	streamBuffer       = 64
	heartbeatInterval  = 15 * time.Second
	socketWriteTimeout = 5 * time.Second
)

// ══════════════════════════════════════════════════════════════
// ── Event Stream (SSE) ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// StreamEvents streams context events as Server-Sent Events until the client
// disconnects. An optional contextId query parameter restricts the stream to
// one context.
// GET /api/v1/events
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	notifier := h.Store.Notifier()
	if notifier == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	filter := r.URL.Query().Get("contextId")

	// Subscribe before the first flush so a client that saw the connected
	// comment observes every later event.
	events := notifier.Stream(r.Context(), streamBuffer)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && ev.ContextID != filter {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Warn().Err(err).Str("context_id", ev.ContextID).Msg("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// ══════════════════════════════════════════════════════════════
// ── Event Socket (WebSocket) ─────────────────────────────────
// ══════════════════════════════════════════════════════════════

// socketMessage is the envelope for both directions of the event socket.
type socketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type subscribeRequest struct {
	ContextID string `json:"contextId,omitempty"`
}

type socketEvent struct {
	Event string              `json:"event"`
	Data  models.ContextEvent `json:"data"`
}

// EventSocket serves the WebSocket gateway. A client sends
// {"event":"subscribe"} (optionally with data.contextId) and receives
// {"status":"subscribed"} followed by {"event":"contextEvent","data":...}
// frames. The subscription ends when the socket closes.
// GET /api/v1/ws
func (h *Handlers) EventSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Event socket connected")
	subscribed := false

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug().Str("remote", r.RemoteAddr).Msg("Event socket disconnected")
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event != "subscribe" {
			continue
		}

		if !subscribed {
			notifier := h.Store.Notifier()
			if notifier == nil {
				conn.Close(websocket.StatusInternalError, "event stream unavailable")
				return
			}
			var req subscribeRequest
			if len(msg.Data) > 0 {
				_ = json.Unmarshal(msg.Data, &req)
			}
			subscribed = true
			go pumpSocket(ctx, cancel, conn, notifier.Stream(ctx, streamBuffer), req.ContextID)
		}

		if err := writeSocket(ctx, conn, map[string]string{"status": "subscribed"}); err != nil {
			return
		}
	}
}

func pumpSocket(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events <-chan models.ContextEvent, filter string) {
	defer cancel()
	for ev := range events {
		if filter != "" && ev.ContextID != filter {
			continue
		}
		if err := writeSocket(ctx, conn, socketEvent{Event: "contextEvent", Data: ev}); err != nil {
			log.Debug().Err(err).Msg("Event socket write failed")
			return
		}
	}
}

func writeSocket(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
