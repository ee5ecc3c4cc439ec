package payment

import "github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"

// holdDisposition is the webhook dispatch decision for a pending order,
// derived purely from the hold's observed state. Keeping this a pure
// function makes the state table testable without any store.
type holdDisposition int

const (
	dispositionCommit holdDisposition = iota
	dispositionRefund
	dispositionAlreadyApplied
	dispositionConflict
	dispositionGone
)

// classifySuccessHold decides the success-webhook action for a
// pending_payment order given the hold state.
func classifySuccessHold(status string, found bool) holdDisposition {
	if !found {
		return dispositionGone
	}
	switch status {
	case holdregistry.StatusActive:
		return dispositionCommit
	case holdregistry.StatusUsed:
		// Crash recovery fast path: durable state got ahead last time.
		return dispositionAlreadyApplied
	default:
		// payment_failed or anything unrecognized conflicts with success.
		return dispositionConflict
	}
}

// classifyFailureHold decides the failure-webhook action for a
// pending_payment order given the hold state.
func classifyFailureHold(status string, found bool) holdDisposition {
	if !found {
		return dispositionGone
	}
	switch status {
	case holdregistry.StatusActive:
		return dispositionRefund
	default:
		// A used (or otherwise terminal) hold cannot be failed.
		return dispositionConflict
	}
}
