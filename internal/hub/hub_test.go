package hub

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/session"
	"github.com/calcuttalive/sweep-backend/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, st, zap.NewNop()), st
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h, st := newTestHub(t)

	ev, err := st.CreateEvent(context.Background(), "cup night", 24)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	s1 := h.Ensure(ev.ID)
	if s1 == nil {
		t.Fatalf("ensure returned nil session")
	}

	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{EventID: ev.ID, Reply: reply}
	s2 := <-reply

	if s1 != s2 {
		t.Fatalf("expected same session pointer")
	}
}

func TestHub_GetUnknownIsNil(t *testing.T) {
	h, _ := newTestHub(t)

	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{EventID: 404, Reply: reply}
	if s := <-reply; s != nil {
		t.Fatalf("expected nil session for unknown event")
	}
}

func TestHub_RemoveStopsSession(t *testing.T) {
	h, st := newTestHub(t)

	ev, err := st.CreateEvent(context.Background(), "cup night", 24)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	s := h.Ensure(ev.ID)
	if s == nil {
		t.Fatalf("ensure returned nil session")
	}
	h.Inbox() <- RemoveSession{EventID: ev.ID}

	reply := make(chan *session.Session, 1)
	h.Inbox() <- GetSession{EventID: ev.ID, Reply: reply}
	if got := <-reply; got != nil {
		t.Fatalf("session should be gone after removal")
	}
}
