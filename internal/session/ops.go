package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/draw"
	"github.com/calcuttalive/sweep-backend/internal/realtime"
	"github.com/calcuttalive/sweep-backend/internal/store"
)

// drawGate loads the event and enforces the status gate: draw operations are
// only meaningful while the event is active or drawing.
func (s *Session) drawGate() (store.Event, error) {
	ev, err := s.st.GetEvent(s.ctx, s.eventID)
	if err != nil {
		return store.Event{}, err
	}
	if ev.Status != store.StatusActive && ev.Status != store.StatusDrawing {
		return ev, ErrDrawNotAllowed
	}
	return ev, nil
}

// markDrawing moves an active event to drawing after its first committed draw
// operation and publishes the transition.
func (s *Session) markDrawing(ev store.Event) {
	if ev.Status != store.StatusActive {
		return
	}
	if err := s.st.UpdateEventStatus(s.ctx, s.eventID, store.StatusDrawing); err != nil {
		s.log.Error("mark drawing failed", zap.Error(err))
		return
	}
	s.publish(realtime.Change{Kind: realtime.KindStatus, Op: realtime.OpUpdate, Status: store.StatusDrawing})
}

func validCount(count int) bool {
	return count == draw.All || count > 0
}

func (s *Session) candidates() ([]store.Participant, []store.Item, error) {
	parts, err := s.st.UnassignedParticipants(s.ctx, s.eventID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.st.AvailableItems(s.ctx, s.eventID)
	if err != nil {
		return nil, nil, err
	}
	return parts, items, nil
}

func (s *Session) handleExecute(msg ExecuteDraw) DrawReply {
	ev, err := s.drawGate()
	if err != nil {
		return DrawReply{Err: err}
	}
	if !validCount(msg.Count) {
		return DrawReply{Err: ErrInvalidCount}
	}
	parts, items, err := s.candidates()
	if err != nil {
		return DrawReply{Err: err}
	}
	pairs, sum, err := draw.Draw(parts, items, msg.Count, msg.Seed)
	if err != nil {
		return DrawReply{Err: err}
	}
	if len(pairs) == 0 {
		return DrawReply{Result: DrawResult{Summary: sum}}
	}

	refs := make([]store.PairRef, 0, len(pairs))
	for _, p := range pairs {
		refs = append(refs, store.PairRef{ParticipantID: p.Participant.ID, ItemID: p.Item.ID})
	}
	asgs, err := s.st.InsertAssignments(s.ctx, s.eventID, refs)
	if err != nil {
		return DrawReply{Err: err}
	}
	s.markDrawing(ev)

	changes := make([]realtime.Change, 0, len(asgs))
	for i := range asgs {
		a := asgs[i]
		changes = append(changes, realtime.Change{Kind: realtime.KindAssignment, Op: realtime.OpInsert, Assignment: &a})
	}
	s.publish(changes...)
	s.log.Info("draw committed",
		zap.Int("assigned", sum.Assigned), zap.String("seed", sum.Seed))
	return DrawReply{Result: DrawResult{Assignments: asgs, Pairs: pairs, Summary: sum}}
}

// handleDryRun computes the same result as handleExecute against the same
// candidate sets without persisting or publishing anything. Executing
// immediately after with the seed from the summary reproduces the preview.
func (s *Session) handleDryRun(msg DryRunDraw) DrawReply {
	if _, err := s.drawGate(); err != nil {
		return DrawReply{Err: err}
	}
	if !validCount(msg.Count) {
		return DrawReply{Err: ErrInvalidCount}
	}
	parts, items, err := s.candidates()
	if err != nil {
		return DrawReply{Err: err}
	}
	pairs, sum, err := draw.Draw(parts, items, msg.Count, msg.Seed)
	if err != nil {
		return DrawReply{Err: err}
	}
	return DrawReply{Result: DrawResult{Pairs: pairs, Summary: sum}}
}

func (s *Session) handleManual(msg ManualAssign) AssignReply {
	ev, err := s.drawGate()
	if err != nil {
		return AssignReply{Err: err}
	}
	p, err := s.st.GetParticipant(s.ctx, msg.ParticipantID)
	if err != nil {
		return AssignReply{Err: err}
	}
	if p.EventID != s.eventID {
		return AssignReply{Err: ErrWrongEvent}
	}
	it, err := s.st.GetItem(s.ctx, msg.ItemID)
	if err != nil {
		return AssignReply{Err: err}
	}
	if it.EventID != s.eventID {
		return AssignReply{Err: ErrWrongEvent}
	}
	if it.Withdrawn {
		return AssignReply{Err: ErrItemWithdrawn}
	}

	asgs, err := s.st.InsertAssignments(s.ctx, s.eventID,
		[]store.PairRef{{ParticipantID: msg.ParticipantID, ItemID: msg.ItemID}})
	if err != nil {
		// Includes ErrConflict when either side is already assigned;
		// nothing was written, so nothing is published.
		return AssignReply{Err: err}
	}
	s.markDrawing(ev)
	a := asgs[0]
	s.publish(realtime.Change{Kind: realtime.KindAssignment, Op: realtime.OpInsert, Assignment: &a})
	return AssignReply{Assignment: a}
}

func (s *Session) handleUndo(msg UndoDraw) UndoReply {
	if _, err := s.drawGate(); err != nil {
		return UndoReply{Err: err}
	}
	count := msg.Count
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return UndoReply{Err: ErrInvalidCount}
	}
	undone, err := s.st.UndoLast(s.ctx, s.eventID, count)
	if err != nil {
		return UndoReply{Err: err}
	}
	changes := make([]realtime.Change, 0, len(undone))
	for i := range undone {
		a := undone[i]
		changes = append(changes, realtime.Change{Kind: realtime.KindAssignment, Op: realtime.OpDelete, Assignment: &a})
	}
	s.publish(changes...)
	if len(undone) > 0 {
		s.log.Info("draw undone", zap.Int("count", len(undone)))
	}
	return UndoReply{Undone: len(undone)}
}

func (s *Session) handleClear() ClearReply {
	if _, err := s.drawGate(); err != nil {
		return ClearReply{Err: err}
	}
	cleared, err := s.st.ClearAssignments(s.ctx, s.eventID)
	if err != nil {
		return ClearReply{Err: err}
	}
	changes := make([]realtime.Change, 0, len(cleared))
	for i := range cleared {
		a := cleared[i]
		changes = append(changes, realtime.Change{Kind: realtime.KindAssignment, Op: realtime.OpDelete, Assignment: &a})
	}
	s.publish(changes...)
	return ClearReply{Cleared: len(cleared)}
}

func (s *Session) handleAddParticipant(msg AddParticipant) ParticipantReply {
	ev, err := s.st.GetEvent(s.ctx, s.eventID)
	if err != nil {
		return ParticipantReply{Err: err}
	}
	if ev.Status.Terminal() {
		return ParticipantReply{Err: ErrEventClosed}
	}
	p, err := s.st.AddParticipant(s.ctx, s.eventID, msg.Name, msg.Contact)
	if err != nil {
		return ParticipantReply{Err: err}
	}
	s.publish(realtime.Change{Kind: realtime.KindParticipant, Op: realtime.OpInsert, Participant: &p})
	return ParticipantReply{Participant: p}
}

func (s *Session) handleRemoveParticipant(msg RemoveParticipant) RemoveReply {
	p, err := s.st.GetParticipant(s.ctx, msg.ParticipantID)
	if err != nil {
		return RemoveReply{Err: err}
	}
	if p.EventID != s.eventID {
		return RemoveReply{Err: ErrWrongEvent}
	}
	p, removed, err := s.st.RemoveParticipant(s.ctx, msg.ParticipantID)
	if err != nil {
		return RemoveReply{Err: err}
	}
	changes := make([]realtime.Change, 0, 2)
	if removed != nil {
		changes = append(changes, realtime.Change{Kind: realtime.KindAssignment, Op: realtime.OpDelete, Assignment: removed})
	}
	changes = append(changes, realtime.Change{Kind: realtime.KindParticipant, Op: realtime.OpDelete, Participant: &p})
	s.publish(changes...)
	return RemoveReply{}
}

func (s *Session) handleAddItem(msg AddItem) ItemReply {
	ev, err := s.st.GetEvent(s.ctx, s.eventID)
	if err != nil {
		return ItemReply{Err: err}
	}
	if ev.Status.Terminal() {
		return ItemReply{Err: ErrEventClosed}
	}
	it, err := s.st.AddItem(s.ctx, s.eventID, msg.Name)
	if err != nil {
		return ItemReply{Err: err}
	}
	s.publish(realtime.Change{Kind: realtime.KindItem, Op: realtime.OpInsert, Item: &it})
	return ItemReply{Item: it}
}

func (s *Session) handleWithdrawItem(msg WithdrawItem) ItemReply {
	it, err := s.st.GetItem(s.ctx, msg.ItemID)
	if err != nil {
		return ItemReply{Err: err}
	}
	if it.EventID != s.eventID {
		return ItemReply{Err: ErrWrongEvent}
	}
	it, err = s.st.WithdrawItem(s.ctx, msg.ItemID)
	if err != nil {
		return ItemReply{Err: err}
	}
	s.publish(realtime.Change{Kind: realtime.KindItem, Op: realtime.OpUpdate, Item: &it})
	return ItemReply{Item: it}
}

func (s *Session) handleSetStatus(msg SetStatus) StatusReply {
	ev, err := s.st.GetEvent(s.ctx, s.eventID)
	if err != nil {
		return StatusReply{Err: err}
	}
	if !store.ValidTransition(ev.Status, msg.To) {
		return StatusReply{Err: ErrInvalidTransition}
	}
	if err := s.st.UpdateEventStatus(s.ctx, s.eventID, msg.To); err != nil {
		return StatusReply{Err: err}
	}
	s.publish(realtime.Change{Kind: realtime.KindStatus, Op: realtime.OpUpdate, Status: msg.To})
	return StatusReply{}
}

// IsConflict reports whether err is the already-assigned conflict from the
// store's uniqueness constraints.
func IsConflict(err error) bool { return errors.Is(err, store.ErrConflict) }
