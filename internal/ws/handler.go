package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/hub"
	"github.com/openrally/lobby-backend/internal/protocol"
)

// Handler upgrades a peer connection and bridges it to the hub: one writer
// goroutine draining the peer's outbox, a reader loop feeding envelopes in.
func Handler(h *hub.Hub, originPatterns []string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nick := r.URL.Query().Get("nick")
		if nick == "" {
			http.Error(w, "missing nick", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		peerID := protocol.PeerID(uuid.NewString())
		out := make(chan protocol.Envelope, 16)

		h.Inbox() <- hub.Connect{Peer: peerID, Nick: nick, Outbox: out}
		defer func() { h.Inbox() <- hub.Disconnect{Peer: peerID} }()

		// Writer goroutine. The outbox is shared between the hub and the
		// lobby actor and is never closed, so exit is ctx-driven.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case env := <-out:
					payload, _ := json.Marshal(env)
					ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
					_ = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (hub.Disconnect in defer):
				log.Debug("read failed", zap.String("peer", string(peerID)), zap.Error(err))
				return
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"error","error":"bad json"}`))
				continue
			}

			h.Inbox() <- hub.FromPeer{Peer: peerID, Env: env}
		}
	}
}
