// Package hub owns the registry of live draw sessions, one per event.
// Sessions start lazily on first use and share the hub's store handle.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/session"
	"github.com/calcuttalive/sweep-backend/internal/store"
)

type HubMsg interface{ isHubMsg() }

// EnsureSession returns the session for an event, starting one if needed.
type EnsureSession struct {
	EventID int64
	Reply   chan *session.Session
}

type GetSession struct {
	EventID int64
	Reply   chan *session.Session
}

type RemoveSession struct {
	EventID int64
}

type ShutdownHub struct{}

func (EnsureSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[int64]*session.Session
	st       *store.Store
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, st *store.Store, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[int64]*session.Session),
		st:       st,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure is a convenience wrapper around EnsureSession for callers holding a
// hub pointer directly.
func (h *Hub) Ensure(eventID int64) *session.Session {
	reply := make(chan *session.Session, 1)
	h.inbox <- EnsureSession{EventID: eventID, Reply: reply}
	return <-reply
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureSession:
				if s := h.sessions[msg.EventID]; s != nil {
					msg.Reply <- s
					break
				}
				s := session.NewSession(h.ctx, msg.EventID, h.st, h.log)
				h.sessions[msg.EventID] = s
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.EventID] // may be nil

			case RemoveSession:
				if s := h.sessions[msg.EventID]; s != nil {
					s.Inbox() <- session.Shutdown{}
					delete(h.sessions, msg.EventID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, s := range h.sessions {
		s.Inbox() <- session.Shutdown{}
		delete(h.sessions, id)
	}
	h.cancel()
}
