package sentinel

import "errors"

// Sentinel dependency errors. Stores return these (optionally wrapped)
// so the orchestrator can translate them into domain errors exactly once.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
