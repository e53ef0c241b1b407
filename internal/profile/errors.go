package profile

import "errors"

var (
	// ErrNotFound indicates no profile exists for the agent.
	ErrNotFound = errors.New("profile not found")

	// ErrInvalidEndorsement indicates an endorsement whose signature failed
	// verification. State is left unchanged.
	ErrInvalidEndorsement = errors.New("invalid endorsement")

	// ErrCorrupted indicates a broken append-only history invariant.
	// Automated updates halt for the agent; the record is never silently
	// repaired.
	ErrCorrupted = errors.New("profile history corrupted")

	// ErrPenaltyNotFound indicates an unknown penalty identifier.
	ErrPenaltyNotFound = errors.New("penalty not found")

	// ErrPenaltyReversed indicates the penalty was already reversed.
	ErrPenaltyReversed = errors.New("penalty already reversed")
)
