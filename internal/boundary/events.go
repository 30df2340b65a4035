package boundary

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// handleEvents implements the `subscribe` operation: upgrades the request
// to a WebSocket and relays every eventbus.Envelope published for this task
// as one JSON text frame, until the client disconnects or the task's
// subscriber channel is closed. One-directional: the client is not expected
// to send anything, mirroring the gateway-event relay internal/discord
// builds for its own event stream, generalized from a Discord gateway
// connection to a browser-facing one.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, err := h.store.Open(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("boundary: websocket accept failed", "task_id", taskID, "err", err)
		return
	}
	defer conn.CloseNow()

	ch, unsubscribe := h.bus.Subscribe(taskID)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case env, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "event stream closed")
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				slog.Error("boundary: failed to marshal event envelope", "task_id", taskID, "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				// Write failures mean the peer is gone; the read side of
				// this connection was never used, so there is nothing
				// left to do but stop relaying.
				return
			}
		}
	}
}
