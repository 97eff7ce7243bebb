// Package session runs one actor goroutine per live event. The actor is the
// sole writer of assignments, so every draw, undo and clear for an event is
// serialized by construction; it also publishes each committed mutation to
// joined clients, which makes it the realtime publisher for its event.
package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/draw"
	"github.com/calcuttalive/sweep-backend/internal/realtime"
	"github.com/calcuttalive/sweep-backend/internal/store"
)

type Msg interface{ isSessionMsg() }

// DrawResult is the outcome of an execute or dry-run draw. A dry run carries
// Pairs and Summary only; an execute also carries the committed rows.
type DrawResult struct {
	Assignments []store.Assignment `json:"assignments,omitempty"`
	Pairs       []draw.Pair        `json:"pairs"`
	Summary     draw.Summary       `json:"summary"`
}

type DrawReply struct {
	Result DrawResult
	Err    error
}

type ExecuteDraw struct {
	Count int
	Seed  string
	Reply chan DrawReply
}

type DryRunDraw struct {
	Count int
	Seed  string
	Reply chan DrawReply
}

type AssignReply struct {
	Assignment store.Assignment
	Err        error
}

type ManualAssign struct {
	ParticipantID int64
	ItemID        int64
	Reply         chan AssignReply
}

type UndoReply struct {
	Undone int
	Err    error
}

// UndoDraw removes the Count most recent assignments. Count <= 0 means 1.
type UndoDraw struct {
	Count int
	Reply chan UndoReply
}

type ClearReply struct {
	Cleared int
	Err     error
}

type ClearAll struct {
	Reply chan ClearReply
}

type ParticipantReply struct {
	Participant store.Participant
	Err         error
}

type AddParticipant struct {
	Name    string
	Contact string
	Reply   chan ParticipantReply
}

type RemoveReply struct {
	Err error
}

type RemoveParticipant struct {
	ParticipantID int64
	Reply         chan RemoveReply
}

type ItemReply struct {
	Item store.Item
	Err  error
}

type AddItem struct {
	Name  string
	Reply chan ItemReply
}

type WithdrawItem struct {
	ItemID int64
	Reply  chan ItemReply
}

type StatusReply struct {
	Err error
}

type SetStatus struct {
	To    store.EventStatus
	Reply chan StatusReply
}

// Join registers a client outbox and immediately sends a full snapshot so the
// client starts from the authoritative state.
type Join struct {
	ClientID string
	Outbox   chan realtime.Notice
}

type Leave struct{ ClientID string }

type StateReply struct {
	Snapshot realtime.Snapshot
	Err      error
}

type GetState struct {
	Reply chan StateReply
}

type Shutdown struct{}

func (ExecuteDraw) isSessionMsg()       {}
func (DryRunDraw) isSessionMsg()        {}
func (ManualAssign) isSessionMsg()      {}
func (UndoDraw) isSessionMsg()          {}
func (ClearAll) isSessionMsg()          {}
func (AddParticipant) isSessionMsg()    {}
func (RemoveParticipant) isSessionMsg() {}
func (AddItem) isSessionMsg()           {}
func (WithdrawItem) isSessionMsg()      {}
func (SetStatus) isSessionMsg()         {}
func (Join) isSessionMsg()              {}
func (Leave) isSessionMsg()             {}
func (GetState) isSessionMsg()          {}
func (Shutdown) isSessionMsg()          {}

type Session struct {
	inbox   chan Msg
	eventID int64
	st      *store.Store
	version int
	clients map[string]chan realtime.Notice
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSession(parent context.Context, eventID int64, st *store.Store, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:   make(chan Msg, 64),
		eventID: eventID,
		st:      st,
		clients: make(map[string]chan realtime.Notice),
		log:     log.With(zap.Int64("event_id", eventID)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.loop()
	return s
}

// Inbox exposes the message channel to the WS layer, HTTP handlers and tests.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) EventID() int64 { return s.eventID }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case ExecuteDraw:
				msg.Reply <- s.handleExecute(msg)
			case DryRunDraw:
				msg.Reply <- s.handleDryRun(msg)
			case ManualAssign:
				msg.Reply <- s.handleManual(msg)
			case UndoDraw:
				msg.Reply <- s.handleUndo(msg)
			case ClearAll:
				msg.Reply <- s.handleClear()
			case AddParticipant:
				msg.Reply <- s.handleAddParticipant(msg)
			case RemoveParticipant:
				msg.Reply <- s.handleRemoveParticipant(msg)
			case AddItem:
				msg.Reply <- s.handleAddItem(msg)
			case WithdrawItem:
				msg.Reply <- s.handleWithdrawItem(msg)
			case SetStatus:
				msg.Reply <- s.handleSetStatus(msg)
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				if snap, err := s.snapshot(); err == nil {
					msg.Outbox <- realtime.Notice{Version: s.version, Full: &snap}
				} else {
					s.log.Warn("join snapshot failed", zap.Error(err))
				}
			case Leave:
				delete(s.clients, msg.ClientID)
			case GetState:
				snap, err := s.snapshot()
				msg.Reply <- StateReply{Snapshot: snap, Err: err}
			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

func (s *Session) snapshot() (realtime.Snapshot, error) {
	ev, err := s.st.GetEvent(s.ctx, s.eventID)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	parts, err := s.st.ListParticipants(s.ctx, s.eventID)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	items, err := s.st.ListItems(s.ctx, s.eventID)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	asgs, err := s.st.ListAssignments(s.ctx, s.eventID)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return realtime.Snapshot{
		EventID:      s.eventID,
		Status:       ev.Status,
		Version:      s.version,
		Participants: parts,
		Items:        items,
		Assignments:  asgs,
	}, nil
}

// publish increments the session version and fans the changes out to every
// joined client. Clients that cannot keep up are dropped; they resync through
// the fallback path when they come back.
func (s *Session) publish(changes ...realtime.Change) {
	if len(changes) == 0 {
		return
	}
	s.version++
	n := realtime.Notice{Version: s.version, Changes: changes}
	for id, ch := range s.clients {
		select {
		case ch <- n:
		default:
			s.log.Warn("dropping slow client", zap.String("client_id", id))
			close(ch)
			delete(s.clients, id)
		}
	}
}
