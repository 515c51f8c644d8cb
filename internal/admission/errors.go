package admission

import "errors"

var (
	// ErrHalted is returned once repeated storage failures stopped the orchestrator
	ErrHalted = errors.New("admission halted after repeated storage failures")

	// ErrAborted marks a message abandoned by shutdown before any send attempt
	ErrAborted = errors.New("admission aborted before send")

	// ErrEmittedUnrecorded marks a sent message whose fingerprint was not persisted
	ErrEmittedUnrecorded = errors.New("message emitted but fingerprint not recorded")
)

// Rejection reasons for duplicates
const (
	ReasonFingerprint       = "fingerprint"
	ReasonInFlight          = "in-flight"
	ReasonEmittedUnrecorded = "emitted-unrecorded"
	ReasonNearDuplicate     = "near-duplicate"
	ReasonInvalidIdentity   = "invalid-identity"
)
