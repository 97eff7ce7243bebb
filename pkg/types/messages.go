// Package types holds the JSON request/response shapes of the HTTP API.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/calcuttalive/sweep-backend/internal/draw"
)

// Count is a draw count that accepts either a positive number or the string
// "all" on the wire.
type Count int

const CountAll = Count(draw.All)

func (c *Count) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "all" {
			*c = CountAll
			return nil
		}
		return fmt.Errorf("invalid count %q", s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid count: %w", err)
	}
	*c = Count(n)
	return nil
}

func (c Count) MarshalJSON() ([]byte, error) {
	if c == CountAll {
		return json.Marshal("all")
	}
	return json.Marshal(int(c))
}

type CreateEventRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type ParticipantRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

type ItemRequest struct {
	Name string `json:"name"`
}

type DrawRequest struct {
	Count Count  `json:"count"`
	Seed  string `json:"seed,omitempty"`
}

type ManualAssignRequest struct {
	ParticipantID int64 `json:"participant_id"`
	ItemID        int64 `json:"item_id"`
}

type UndoRequest struct {
	Count  int    `json:"count,omitempty"` // defaults to 1
	Reason string `json:"reason,omitempty"`
}

type UndoResponse struct {
	Undone int `json:"undone"`
}

type ClearResponse struct {
	Cleared int `json:"cleared"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
