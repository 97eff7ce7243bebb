package reveal

import (
	"testing"

	"github.com/calcuttalive/sweep-backend/internal/store"
)

func asg(id int64, order int) store.Assignment {
	return store.Assignment{ID: id, EventID: 1, ParticipantID: id * 10, ItemID: id * 100, DrawOrder: order}
}

// runToIdle advances until the machine returns to idle, with a safety cap so
// a broken transition table cannot hang the test.
func runToIdle(t *testing.T, s *Sequencer) []Stage {
	t.Helper()
	var visited []Stage
	for i := 0; i < 20; i++ {
		st := s.Advance()
		visited = append(visited, st)
		if st == StageIdle {
			return visited
		}
	}
	t.Fatalf("sequencer never returned to idle; visited %v", visited)
	return nil
}

func TestSequencer_FirstRevealSkipsRemoveStages(t *testing.T) {
	s := New(Options{})
	s.Enqueue(asg(1, 1))

	if got := s.Advance(); got != StageRevealSubject {
		t.Fatalf("first reveal should start at reveal_subject, got %s", got)
	}

	visited := runToIdle(t, s)
	want := []Stage{StageSpinDetail, StageLockDetail, StageRevealDetail2, StageConfirmed, StageAppendHistory, StageIdle}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("stage %d: got %s, want %s", i, visited[i], want[i])
		}
	}

	if s.Displayed() == nil || s.Displayed().ID != 1 {
		t.Fatalf("assignment 1 should be displayed")
	}
	if len(s.History()) != 1 {
		t.Fatalf("history should hold the completed reveal")
	}
}

func TestSequencer_SecondRevealRemovesPrevious(t *testing.T) {
	s := New(Options{})
	s.Enqueue(asg(1, 1))
	_ = s.Advance()
	runToIdle(t, s)

	s.Enqueue(asg(2, 2))
	if got := s.Advance(); got != StageRemoveSubject {
		t.Fatalf("second reveal should start by removing the previous, got %s", got)
	}
}

func TestSequencer_CelebrateStageIsOptional(t *testing.T) {
	s := New(Options{Celebrate: true})
	s.Enqueue(asg(1, 1))
	_ = s.Advance()

	var sawCelebrate bool
	for _, st := range runToIdle(t, s) {
		if st == StageCelebrate {
			sawCelebrate = true
		}
	}
	if !sawCelebrate {
		t.Fatalf("celebrate enabled but stage never entered")
	}

	s2 := New(Options{})
	s2.Enqueue(asg(1, 1))
	_ = s2.Advance()
	for _, st := range runToIdle(t, s2) {
		if st == StageCelebrate {
			t.Fatalf("celebrate disabled but stage entered")
		}
	}
}

func TestSequencer_RapidArrivalsQueueInOrder(t *testing.T) {
	s := New(Options{})
	s.Enqueue(asg(1, 1))
	_ = s.Advance() // start revealing 1

	// Two more arrive mid-sequence.
	s.Enqueue(asg(2, 2))
	s.Enqueue(asg(3, 3))

	if s.Current().ID != 1 {
		t.Fatalf("mid-sequence arrival must not interrupt the current reveal")
	}
	runToIdle(t, s)

	// Next reveal is assignment 2, not 3.
	_ = s.Advance()
	if s.Current() == nil || s.Current().ID != 2 {
		t.Fatalf("queued assignments must reveal in arrival order, got %+v", s.Current())
	}
	runToIdle(t, s)

	_ = s.Advance()
	if s.Current() == nil || s.Current().ID != 3 {
		t.Fatalf("third assignment should reveal last, got %+v", s.Current())
	}
	runToIdle(t, s)

	h := s.History()
	if len(h) != 3 || h[0].ID != 1 || h[1].ID != 2 || h[2].ID != 3 {
		t.Fatalf("history out of order: %+v", h)
	}
}

func TestSequencer_DuplicateArrivalsIgnored(t *testing.T) {
	s := New(Options{})
	s.Enqueue(asg(1, 1))
	s.Enqueue(asg(1, 1)) // duplicate while queued
	if s.QueueLen() != 1 {
		t.Fatalf("duplicate queued, len=%d", s.QueueLen())
	}

	_ = s.Advance()
	s.Enqueue(asg(1, 1)) // duplicate of the one mid-reveal
	if s.QueueLen() != 0 {
		t.Fatalf("mid-reveal duplicate queued")
	}
	runToIdle(t, s)

	s.Enqueue(asg(1, 1)) // duplicate of the one displayed
	if s.QueueLen() != 0 {
		t.Fatalf("displayed duplicate queued")
	}
	if s.Advance() != StageIdle {
		t.Fatalf("nothing to reveal, should stay idle")
	}
}

func TestSequencer_AdvanceWhileIdleIsNoop(t *testing.T) {
	s := New(Options{})
	if s.Advance() != StageIdle {
		t.Fatalf("empty machine should stay idle")
	}
	if s.Stage() != StageIdle {
		t.Fatalf("stage should be idle")
	}
}

func TestSequencer_Reset(t *testing.T) {
	s := New(Options{})
	s.Enqueue(asg(1, 1))
	_ = s.Advance()
	s.Enqueue(asg(2, 2))

	s.Reset()
	if s.Stage() != StageIdle || s.Current() != nil || s.QueueLen() != 0 {
		t.Fatalf("reset did not return to a clean idle state")
	}
}
