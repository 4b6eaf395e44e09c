package store

import "errors"

// Sentinel errors the engine matches with errors.Is and translates to the
// HTTP-facing taxonomy. Kept flat and small, the same way the rest of this
// stack's store packages do it.
var (
	ErrBusinessNotFound = errors.New("store: business not found")
	ErrBusinessInactive = errors.New("store: business inactive")
	ErrHelperNotFound   = errors.New("store: helper not found")
	ErrServiceNotFound  = errors.New("store: service not found")
	ErrUserNotFound     = errors.New("store: registered user not found")
	ErrUserSuspended    = errors.New("store: registered user suspended")
	ErrManualNotFound   = errors.New("store: manual customer not found")
	ErrEntryNotFound    = errors.New("store: queue entry not found")
	ErrEntryTerminal    = errors.New("store: queue entry is terminal")
	ErrNoSuccessor      = errors.New("store: no successor entry in lane")
	ErrNotHead          = errors.New("store: entry is not at the head of its lane")
	ErrHelperIncapable  = errors.New("store: helper cannot perform the requested service")
	ErrHelperInactive   = errors.New("store: helper is not accepted and active")
	ErrNoUndoableEvent  = errors.New("store: no undoable event within the undo window")
	ErrAlreadyHeld      = errors.New("store: entry is already held")
	ErrNotHeld          = errors.New("store: entry is not held")
	ErrRatingSet        = errors.New("store: rating already set")
	ErrNotComplete      = errors.New("store: entry is not completed")
	ErrConflict         = errors.New("store: concurrent writer conflict")
)
