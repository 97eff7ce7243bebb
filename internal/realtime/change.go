// Package realtime carries committed mutations to observers: the change
// envelope published by draw sessions and the client-side subscriber that
// mirrors it, with a polling fallback when the push channel goes quiet.
package realtime

import "github.com/calcuttalive/sweep-backend/internal/store"

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Kind string

const (
	KindAssignment  Kind = "assignment"
	KindParticipant Kind = "participant"
	KindItem        Kind = "item"
	KindStatus      Kind = "status"
)

// Change is one row-level mutation. Exactly one payload field is set,
// matching Kind.
type Change struct {
	Kind        Kind               `json:"kind"`
	Op          Op                 `json:"op"`
	Assignment  *store.Assignment  `json:"assignment,omitempty"`
	Participant *store.Participant `json:"participant,omitempty"`
	Item        *store.Item        `json:"item,omitempty"`
	Status      store.EventStatus  `json:"status,omitempty"`
}

// Snapshot is the full authoritative state of one event, served on join,
// resync and poll.
type Snapshot struct {
	EventID      int64               `json:"event_id"`
	Status       store.EventStatus   `json:"status"`
	Version      int                 `json:"version"`
	Participants []store.Participant `json:"participants"`
	Items        []store.Item        `json:"items"`
	Assignments  []store.Assignment  `json:"assignments"` // ascending draw_order
}

// Notice is one push-channel message: either a full snapshot (sent on join
// and after reconnect) or an incremental change batch.
type Notice struct {
	Version int       `json:"version"`
	Full    *Snapshot `json:"full,omitempty"`
	Changes []Change  `json:"changes,omitempty"`
}
