package counting

import (
	"errors"
	"fmt"
)

var (
	// ErrOffline is returned for operations that need a live round trip
	ErrOffline = errors.New("station is offline")
	// ErrUnreachable wraps transport failures talking to the backend
	ErrUnreachable = errors.New("server unreachable")
	// ErrKegNotReady blocks keg saves until the keg summary has loaded
	ErrKegNotReady = errors.New("keg data still loading")
	// ErrInvalidTransition is returned when an action does not apply to the current mode
	ErrInvalidTransition = errors.New("action not allowed in current mode")
	// ErrNoSession is returned when no session is active
	ErrNoSession = errors.New("no active session")
	// ErrUnknownProduct is returned when a product id or code resolves to nothing
	ErrUnknownProduct = errors.New("unknown product")
	// ErrPendingCounts refuses a submit while offline counts could not be replayed
	ErrPendingCounts = errors.New("offline counts not yet synced")
)

// SessionConflictError is returned when another zone already has a session in progress
type SessionConflictError struct {
	ActiveZoneID int64
	Message      string
}

func (e *SessionConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("zone %d already has a count in progress, finish or cancel it first", e.ActiveZoneID)
}

// IsSessionConflict reports whether err is a session conflict
func IsSessionConflict(err error) bool {
	var ce *SessionConflictError
	return errors.As(err, &ce)
}
