package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("already assigned")

type EventStatus string

const (
	StatusDraft     EventStatus = "draft"
	StatusActive    EventStatus = "active"
	StatusDrawing   EventStatus = "drawing"
	StatusCompleted EventStatus = "completed"
	StatusCancelled EventStatus = "cancelled"
)

// ValidTransition reports whether an event may move from one status to
// another. Cancelled is reachable from any non-terminal status.
func ValidTransition(from, to EventStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusActive:
		return from == StatusDraft
	case StatusDrawing:
		return from == StatusActive
	case StatusCompleted:
		return from == StatusDrawing
	case StatusCancelled:
		return from != StatusCompleted && from != StatusCancelled
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s EventStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Event struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Capacity  int         `json:"capacity"`
	Status    EventStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type Participant struct {
	ID       int64     `json:"id"`
	EventID  int64     `json:"event_id"`
	Name     string    `json:"name"`
	Contact  string    `json:"contact,omitempty"` // opaque to the draw core
	JoinedAt time.Time `json:"joined_at"`
}

type Item struct {
	ID        int64  `json:"id"`
	EventID   int64  `json:"event_id"`
	Seq       int    `json:"seq"`
	Name      string `json:"name"`
	Withdrawn bool   `json:"withdrawn"`
}

type Assignment struct {
	ID            int64     `json:"id"`
	EventID       int64     `json:"event_id"`
	ParticipantID int64     `json:"participant_id"`
	ItemID        int64     `json:"item_id"`
	DrawOrder     int       `json:"draw_order"`
	CreatedAt     time.Time `json:"created_at"`
}

// PairRef names one (participant, item) pairing to be committed.
type PairRef struct {
	ParticipantID int64
	ItemID        int64
}
