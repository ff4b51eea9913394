package domain

import "errors"

// Error kinds surfaced at the service boundary.
var (
	ErrAuthMissing         = errors.New("api key missing")
	ErrAuthInvalid         = errors.New("api key invalid")
	ErrInvalidInput        = errors.New("invalid input")
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrSubmissionFailed    = errors.New("finalization submission failed")
)

// Session lifecycle errors.
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionCompleted       = errors.New("session completed")
	ErrFinalizationInProgress = errors.New("finalization in progress")
	ErrAlreadyFinalized       = errors.New("session already finalized")
	// ErrSessionGone means the session was reset or evicted while a
	// collaborator call was outstanding; the late result is discarded.
	ErrSessionGone = errors.New("session gone")
	// ErrVersionConflict means another writer updated the session after it
	// was read. The write was not applied.
	ErrVersionConflict = errors.New("session modified concurrently")
)
