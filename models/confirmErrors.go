package models

import (
	"errors"
	"fmt"
	"time"
)

// Confirmation error taxonomy. Callers branch on these, so the ones carrying
// payload are typed; the handler layer maps each to an HTTP status.

var ErrSessionNotFound = errors.New("shipment session not found")

// InvalidStateError rejects confirmation of a session whose status is outside
// the confirmable set.
type InvalidStateError struct {
	SessionId int
	Status    ValidationStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("shipment session %d is not confirmable in status %s", e.SessionId, e.Status)
}

// InvalidRequestError rejects a confirmation whose inputs cannot produce a
// movement: no resolvable codes, missing warehouse or distributor, or
// warehouse == distributor.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return e.Reason
}

// AlreadyConfirmedError is the idempotency guard: a session is consumed
// exactly once, and a duplicate confirmation gets the prior result back so
// the caller can tell a duplicate click from new work.
type AlreadyConfirmedError struct {
	SessionId      int
	ApprovedBy     *int
	ApprovedAt     *time.Time
	ShippedCodeIds []int
	CasesShipped   int
	UnitsShipped   int
}

func (e *AlreadyConfirmedError) Error() string {
	return fmt.Sprintf("shipment session %d was already confirmed", e.SessionId)
}

// GatewayFailureError reports a failed consolidated movement. Nothing was
// mutated, so the whole call is safe to retry.
type GatewayFailureError struct {
	Err error
}

func (e *GatewayFailureError) Error() string {
	return fmt.Sprintf("inventory movement failed: %v", e.Err)
}

func (e *GatewayFailureError) Unwrap() error {
	return e.Err
}

// PartialReconciliationError reports a failure after the consolidated
// movement committed: inventory accounting is correct but some status flags
// lag. Not retryable via resubmission; surfaced for manual operator
// follow-up.
type PartialReconciliationError struct {
	SessionId int
	Step      string
	Err       error
	Result    *ShipmentResult
}

func (e *PartialReconciliationError) Error() string {
	return fmt.Sprintf("shipment session %d: movement committed but %s failed: %v", e.SessionId, e.Step, e.Err)
}

func (e *PartialReconciliationError) Unwrap() error {
	return e.Err
}
