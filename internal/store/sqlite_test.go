package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedEvent creates an event with n participants and m items and returns the
// event plus both sets.
func seedEvent(t *testing.T, st *Store, n, m int) (Event, []Participant, []Item) {
	t.Helper()
	ctx := context.Background()
	ev, err := st.CreateEvent(ctx, "cup night", 24)
	require.NoError(t, err)

	parts := make([]Participant, 0, n)
	for i := 0; i < n; i++ {
		p, err := st.AddParticipant(ctx, ev.ID, string(rune('A'+i)), "")
		require.NoError(t, err)
		parts = append(parts, p)
	}
	items := make([]Item, 0, m)
	for i := 0; i < m; i++ {
		it, err := st.AddItem(ctx, ev.ID, string(rune('X'+i)))
		require.NoError(t, err)
		items = append(items, it)
	}
	return ev, parts, items
}

func TestStore_EventLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ev, _, _ := seedEvent(t, st, 0, 0)
	require.Equal(t, StatusDraft, ev.Status)

	require.NoError(t, st.UpdateEventStatus(ctx, ev.ID, StatusActive))
	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)

	_, err = st.GetEvent(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.UpdateEventStatus(ctx, 9999, StatusActive), ErrNotFound)
}

func TestStore_InjectivityEnforced(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 3, 3)

	_, err := st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[0].ID, items[0].ID}})
	require.NoError(t, err)

	// Same participant, different item.
	_, err = st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[0].ID, items[1].ID}})
	require.ErrorIs(t, err, ErrConflict)

	// Same item, different participant.
	_, err = st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[1].ID, items[0].ID}})
	require.ErrorIs(t, err, ErrConflict)

	asgs, err := st.ListAssignments(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, asgs, 1)
}

func TestStore_BatchInsertIsAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 3, 3)

	_, err := st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[0].ID, items[0].ID}})
	require.NoError(t, err)

	// Second pair in the batch collides; the whole batch must roll back.
	_, err = st.InsertAssignments(ctx, ev.ID, []PairRef{
		{parts[1].ID, items[1].ID},
		{parts[2].ID, items[0].ID},
	})
	require.ErrorIs(t, err, ErrConflict)

	asgs, err := st.ListAssignments(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, asgs, 1)
}

func TestStore_DrawOrderMonotonicAndNeverReused(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 3, 3)

	first, err := st.InsertAssignments(ctx, ev.ID, []PairRef{
		{parts[0].ID, items[0].ID},
		{parts[1].ID, items[1].ID},
	})
	require.NoError(t, err)
	require.Equal(t, 1, first[0].DrawOrder)
	require.Equal(t, 2, first[1].DrawOrder)

	undone, err := st.UndoLast(ctx, ev.ID, 1)
	require.NoError(t, err)
	require.Len(t, undone, 1)
	require.Equal(t, 2, undone[0].DrawOrder)

	// The undone order is burned; the next assignment continues past it.
	next, err := st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[2].ID, items[2].ID}})
	require.NoError(t, err)
	require.Equal(t, 3, next[0].DrawOrder)
}

func TestStore_UndoLast(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 3, 3)

	_, err := st.InsertAssignments(ctx, ev.ID, []PairRef{
		{parts[0].ID, items[0].ID},
		{parts[1].ID, items[1].ID},
		{parts[2].ID, items[2].ID},
	})
	require.NoError(t, err)

	// Undo more than exists: no-op.
	undone, err := st.UndoLast(ctx, ev.ID, 5)
	require.NoError(t, err)
	require.Empty(t, undone)
	asgs, _ := st.ListAssignments(ctx, ev.ID)
	require.Len(t, asgs, 3)

	// Undo two: highest draw orders first.
	undone, err = st.UndoLast(ctx, ev.ID, 2)
	require.NoError(t, err)
	require.Len(t, undone, 2)
	require.Equal(t, 3, undone[0].DrawOrder)
	require.Equal(t, 2, undone[1].DrawOrder)

	asgs, err = st.ListAssignments(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, asgs, 1)
	require.Equal(t, 1, asgs[0].DrawOrder)
}

func TestStore_ClearAssignments(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 2, 2)

	_, err := st.InsertAssignments(ctx, ev.ID, []PairRef{
		{parts[0].ID, items[0].ID},
		{parts[1].ID, items[1].ID},
	})
	require.NoError(t, err)

	cleared, err := st.ClearAssignments(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, cleared, 2)

	asgs, err := st.ListAssignments(ctx, ev.ID)
	require.NoError(t, err)
	require.Empty(t, asgs)
}

func TestStore_AvailableItemsExcludesWithdrawnAndAssigned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 2, 3)

	_, err := st.WithdrawItem(ctx, items[2].ID)
	require.NoError(t, err)
	_, err = st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[0].ID, items[0].ID}})
	require.NoError(t, err)

	avail, err := st.AvailableItems(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	require.Equal(t, items[1].ID, avail[0].ID)
}

func TestStore_UnassignedParticipants(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 3, 3)

	_, err := st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[1].ID, items[0].ID}})
	require.NoError(t, err)

	un, err := st.UnassignedParticipants(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, un, 2)
	require.Equal(t, parts[0].ID, un[0].ID)
	require.Equal(t, parts[2].ID, un[1].ID)
}

func TestStore_RemoveParticipantCascadesAssignment(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev, parts, items := seedEvent(t, st, 2, 2)

	_, err := st.InsertAssignments(ctx, ev.ID, []PairRef{{parts[0].ID, items[0].ID}})
	require.NoError(t, err)

	removed, asg, err := st.RemoveParticipant(ctx, parts[0].ID)
	require.NoError(t, err)
	require.Equal(t, parts[0].ID, removed.ID)
	require.NotNil(t, asg)
	require.Equal(t, items[0].ID, asg.ItemID)

	asgs, err := st.ListAssignments(ctx, ev.ID)
	require.NoError(t, err)
	require.Empty(t, asgs)

	// The freed item is available again.
	avail, err := st.AvailableItems(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, avail, 2)
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to EventStatus
		want     bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusActive, StatusDrawing, true},
		{StatusDrawing, StatusCompleted, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDrawing, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusActive, false},
		{StatusDraft, StatusDrawing, false},
		{StatusActive, StatusActive, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
