// Package ws serves the push channel. Viewers are read-only: the connection
// streams notices out; inbound frames are drained only to notice the close.
package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/hub"
	"github.com/calcuttalive/sweep-backend/internal/realtime"
	"github.com/calcuttalive/sweep-backend/internal/session"
	"github.com/calcuttalive/sweep-backend/internal/store"
)

func Handler(h *hub.Hub, st *store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := strconv.ParseInt(r.URL.Query().Get("event"), 10, 64)
		if err != nil {
			http.Error(w, "missing or bad event", http.StatusBadRequest)
			return
		}
		if _, err := st.GetEvent(r.Context(), eventID); err != nil {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		sess := h.Ensure(eventID)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan realtime.Notice, 16)
		clientID := randID(6)

		sess.Inbox() <- session.Join{ClientID: clientID, Outbox: out}
		defer func() { sess.Inbox() <- session.Leave{ClientID: clientID} }()

		// Writer goroutine: joined outbox -> socket.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for n := range out {
				payload, err := json.Marshal(n)
				if err != nil {
					log.Error("marshal notice", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop: viewers send nothing meaningful; this just detects
		// the close.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}
		}
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
