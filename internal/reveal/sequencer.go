// Package reveal paces the on-screen presentation of new assignments. A raw
// "row inserted" signal becomes a fixed multi-stage sequence so two draws
// landing close together never visually collide: the second queues until the
// first sequence finishes.
package reveal

import "github.com/calcuttalive/sweep-backend/internal/store"

type Stage string

const (
	StageIdle          Stage = "idle"
	StageRemoveSubject Stage = "remove_previous_subject"
	StageRemoveDetail1 Stage = "remove_previous_detail_1"
	StageRemoveDetail2 Stage = "remove_previous_detail_2"
	StageSearching     Stage = "show_searching"
	StageRevealSubject Stage = "reveal_subject"
	StageSpinDetail    Stage = "spin_detail"
	StageLockDetail    Stage = "lock_detail"
	StageRevealDetail2 Stage = "reveal_detail_2"
	StageConfirmed     Stage = "show_confirmed"
	StageCelebrate     Stage = "celebrate"
	StageAppendHistory Stage = "append_to_history"
)

// sequence is the full forward path of one reveal. The cursor only ever moves
// forward through it; there are no backward transitions.
var sequence = []Stage{
	StageRemoveSubject,
	StageRemoveDetail1,
	StageRemoveDetail2,
	StageSearching,
	StageRevealSubject,
	StageSpinDetail,
	StageLockDetail,
	StageRevealDetail2,
	StageConfirmed,
	StageCelebrate,
	StageAppendHistory,
}

// index of StageRevealSubject in sequence; the very first reveal of an event
// starts here because there is nothing on screen to remove.
const firstRevealIndex = 4

type Options struct {
	Celebrate bool // include the celebrate stage after show_confirmed
}

// Sequencer is single-threaded: the owning UI loop calls Enqueue on arrival
// and Advance on each timer/animation-end.
type Sequencer struct {
	opts      Options
	cursor    int // -1 while idle
	current   *store.Assignment
	displayed *store.Assignment // last fully revealed assignment
	queue     []store.Assignment
	history   []store.Assignment
}

func New(opts Options) *Sequencer {
	return &Sequencer{opts: opts, cursor: -1}
}

func (s *Sequencer) Stage() Stage {
	if s.cursor < 0 {
		return StageIdle
	}
	return sequence[s.cursor]
}

// Current returns the assignment mid-reveal, nil when idle.
func (s *Sequencer) Current() *store.Assignment { return s.current }

// Displayed returns the assignment currently on screen (the last one fully
// revealed), nil before the first reveal completes.
func (s *Sequencer) Displayed() *store.Assignment { return s.displayed }

func (s *Sequencer) History() []store.Assignment { return s.history }

func (s *Sequencer) QueueLen() int { return len(s.queue) }

// Enqueue accepts a newly arrived assignment. Arrivals for the assignment
// already displayed, mid-reveal, or already queued are ignored; everything
// else waits its turn in arrival order.
func (s *Sequencer) Enqueue(a store.Assignment) {
	if s.displayed != nil && s.displayed.ID == a.ID {
		return
	}
	if s.current != nil && s.current.ID == a.ID {
		return
	}
	for _, q := range s.queue {
		if q.ID == a.ID {
			return
		}
	}
	s.queue = append(s.queue, a)
}

// Advance steps the machine: from idle it starts the next queued reveal, mid-
// sequence it moves to the next stage. It returns the stage entered.
func (s *Sequencer) Advance() Stage {
	if s.cursor < 0 {
		return s.start()
	}

	if sequence[s.cursor] == StageAppendHistory {
		// Sequence complete: commit to history and go idle, ready for the
		// next queued assignment.
		s.history = append(s.history, *s.current)
		s.displayed = s.current
		s.current = nil
		s.cursor = -1
		return StageIdle
	}

	s.cursor++
	if sequence[s.cursor] == StageCelebrate && !s.opts.Celebrate {
		s.cursor++
	}
	return sequence[s.cursor]
}

func (s *Sequencer) start() Stage {
	if len(s.queue) == 0 {
		return StageIdle
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.current = &next
	if s.displayed == nil {
		s.cursor = firstRevealIndex // nothing to remove yet
	} else {
		s.cursor = 0
	}
	return sequence[s.cursor]
}

// Reset returns the machine to idle, dropping any in-flight sequence and the
// queue. Used when the view unmounts or a full resync replaces local state.
func (s *Sequencer) Reset() {
	s.cursor = -1
	s.current = nil
	s.displayed = nil
	s.queue = nil
	s.history = nil
}
