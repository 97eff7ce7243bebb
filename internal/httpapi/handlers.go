package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/hub"
	"github.com/calcuttalive/sweep-backend/internal/session"
	"github.com/calcuttalive/sweep-backend/internal/store"
	"github.com/calcuttalive/sweep-backend/pkg/types"
)

type api struct {
	hub *hub.Hub
	st  *store.Store
	log *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidCount),
		errors.Is(err, session.ErrWrongEvent):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrDrawNotAllowed),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrItemWithdrawn),
		errors.Is(err, session.ErrEventClosed):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, types.ErrorResponse{Error: err.Error()})
}

func (a *api) eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad event id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// eventSession validates the event exists, then hands back its session.
func (a *api) eventSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, ok := a.eventID(w, r)
	if !ok {
		return nil, false
	}
	if _, err := a.st.GetEvent(r.Context(), id); err != nil {
		writeErr(w, err)
		return nil, false
	}
	return a.hub.Ensure(id), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *api) createEvent(w http.ResponseWriter, r *http.Request) {
	var req types.CreateEventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	ev, err := a.st.CreateEvent(r.Context(), req.Name, req.Capacity)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (a *api) eventState(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	reply := make(chan session.StateReply, 1)
	s.Inbox() <- session.GetState{Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, res.Snapshot)
}

func (a *api) setStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	var req types.StatusRequest
	if !decode(w, r, &req) {
		return
	}
	reply := make(chan session.StatusReply, 1)
	s.Inbox() <- session.SetStatus{To: store.EventStatus(req.Status), Reply: reply}
	if res := <-reply; res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) addParticipant(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	var req types.ParticipantRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	reply := make(chan session.ParticipantReply, 1)
	s.Inbox() <- session.AddParticipant{Name: req.Name, Contact: req.Contact, Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Participant)
}

func (a *api) removeParticipant(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	pid, err := strconv.ParseInt(chi.URLParam(r, "pid"), 10, 64)
	if err != nil {
		http.Error(w, "bad participant id", http.StatusBadRequest)
		return
	}
	reply := make(chan session.RemoveReply, 1)
	s.Inbox() <- session.RemoveParticipant{ParticipantID: pid, Reply: reply}
	if res := <-reply; res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) addItem(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	var req types.ItemRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	reply := make(chan session.ItemReply, 1)
	s.Inbox() <- session.AddItem{Name: req.Name, Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Item)
}

func (a *api) withdrawItem(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	iid, err := strconv.ParseInt(chi.URLParam(r, "iid"), 10, 64)
	if err != nil {
		http.Error(w, "bad item id", http.StatusBadRequest)
		return
	}
	reply := make(chan session.ItemReply, 1)
	s.Inbox() <- session.WithdrawItem{ItemID: iid, Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, res.Item)
}

func (a *api) executeDraw(w http.ResponseWriter, r *http.Request) {
	a.runDraw(w, r, false)
}

func (a *api) previewDraw(w http.ResponseWriter, r *http.Request) {
	a.runDraw(w, r, true)
}

func (a *api) runDraw(w http.ResponseWriter, r *http.Request, dryRun bool) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	req := types.DrawRequest{Count: types.CountAll}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	reply := make(chan session.DrawReply, 1)
	if dryRun {
		s.Inbox() <- session.DryRunDraw{Count: int(req.Count), Seed: req.Seed, Reply: reply}
	} else {
		s.Inbox() <- session.ExecuteDraw{Count: int(req.Count), Seed: req.Seed, Reply: reply}
	}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, res.Result)
}

func (a *api) undoDraw(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	var req types.UndoRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	reply := make(chan session.UndoReply, 1)
	s.Inbox() <- session.UndoDraw{Count: req.Count, Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, types.UndoResponse{Undone: res.Undone})
}

func (a *api) manualAssign(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	var req types.ManualAssignRequest
	if !decode(w, r, &req) {
		return
	}
	reply := make(chan session.AssignReply, 1)
	s.Inbox() <- session.ManualAssign{ParticipantID: req.ParticipantID, ItemID: req.ItemID, Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Assignment)
}

func (a *api) clearAssignments(w http.ResponseWriter, r *http.Request) {
	s, ok := a.eventSession(w, r)
	if !ok {
		return
	}
	reply := make(chan session.ClearReply, 1)
	s.Inbox() <- session.ClearAll{Reply: reply}
	res := <-reply
	if res.Err != nil {
		writeErr(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, types.ClearResponse{Cleared: res.Cleared})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
