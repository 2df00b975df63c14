package sentinel

import "errors"

// Sentinel errors for record-store facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors:
//   - ErrNotFound: record does not exist
//   - ErrConflict: a uniqueness rule rejected the write (one active proposal
//     per group, one group per correlation id)
//   - ErrUnavailable: the backing store cannot be reached
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
