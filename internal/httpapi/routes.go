package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/hub"
	"github.com/calcuttalive/sweep-backend/internal/store"
	"github.com/calcuttalive/sweep-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, st *store.Store, log *zap.Logger) http.Handler {
	a := &api{hub: h, st: st, log: log}

	r := chi.NewRouter()
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, st, log))

	r.Route("/events", func(r chi.Router) {
		r.Post("/", a.createEvent)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/state", a.eventState)
			r.Post("/status", a.setStatus)
			r.Post("/participants", a.addParticipant)
			r.Delete("/participants/{pid}", a.removeParticipant)
			r.Post("/items", a.addItem)
			r.Post("/items/{iid}/withdraw", a.withdrawItem)
			r.Post("/draw", a.executeDraw)
			r.Post("/draw/preview", a.previewDraw)
			r.Post("/undo", a.undoDraw)
			r.Post("/assignments", a.manualAssign)
			r.Delete("/assignments", a.clearAssignments)
		})
	})
	return r
}
