package session

import "errors"

var ErrInvalidCount = errors.New("invalid draw count")
var ErrWrongEvent = errors.New("participant or item belongs to another event")
var ErrDrawNotAllowed = errors.New("event status does not allow draw operations")
var ErrInvalidTransition = errors.New("invalid status transition")
var ErrItemWithdrawn = errors.New("item is withdrawn")
var ErrEventClosed = errors.New("event is closed")
