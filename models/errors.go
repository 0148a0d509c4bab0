package models

import "errors"

// Domain errors represent business logic failures. These are distinct from
// infrastructure errors and are matched with errors.Is at the HTTP boundary.
var (
	// ErrInvalidSelection indicates an empty or unknown set of document ids
	// was passed to a query.
	ErrInvalidSelection = errors.New("invalid document selection")

	// ErrServiceUnavailable indicates the embedding/inference endpoint is
	// unreachable.
	ErrServiceUnavailable = errors.New("inference service unavailable")

	// ErrGenerationFailed indicates the inference call returned an error or
	// timed out mid-stream. There are no automatic retries; the user must
	// resubmit.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrSyncConflict indicates a document changed while it was being
	// synced. Sync retries once before returning this.
	ErrSyncConflict = errors.New("document changed during sync")

	// ErrStorageCorrupt indicates the persisted index exists but cannot be
	// parsed. The sync layer self-heals by rebuilding from scratch.
	ErrStorageCorrupt = errors.New("persisted index corrupt")

	// ErrSessionBusy indicates a generation is already in flight for the
	// session. At most one generation runs per session.
	ErrSessionBusy = errors.New("a task is already running for this session")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAuthFailed indicates unknown username or wrong password.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")
)
