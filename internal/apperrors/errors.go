// Package apperrors holds the error taxonomy shared by the lifecycle,
// scan, assignment, consolidation and handoff services.
//
// Business errors are rule violations a user can act on (illegal status
// edge, capacity exceeded, wrong consolidation state). Everything else
// (not found, unauthorized, storage failures) is a hard failure.
package apperrors

import (
	"errors"
	"fmt"
)

type NotFoundError struct {
	Entity string
	Key    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.Key)
}

// InvalidTransitionError names the current and requested status of a rejected edge.
type InvalidTransitionError struct {
	ShipmentID uint
	From       string
	To         string
	Reason     string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("shipment %d: invalid transition %s -> %s", e.ShipmentID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

type MisroutedError struct {
	ShipmentID uint
	BranchID   uint
	Reason     string
}

func (e *MisroutedError) Error() string {
	return fmt.Sprintf("shipment %d misrouted at branch %d: %s", e.ShipmentID, e.BranchID, e.Reason)
}

type DuplicateScanError struct {
	TrackingNumber string
	Status         string
}

func (e *DuplicateScanError) Error() string {
	return fmt.Sprintf("shipment %s already %s", e.TrackingNumber, e.Status)
}

type NoAvailableWorkerError struct {
	BranchID uint
	WorkerID uint
}

func (e *NoAvailableWorkerError) Error() string {
	if e.WorkerID != 0 {
		return fmt.Sprintf("worker %d is not available at branch %d", e.WorkerID, e.BranchID)
	}
	return fmt.Sprintf("no active worker available at branch %d", e.BranchID)
}

type MaintenanceBlockedError struct {
	BranchID uint
	AlertID  uint
}

func (e *MaintenanceBlockedError) Error() string {
	return fmt.Sprintf("branch %d is under maintenance (alert %d), assignment blocked", e.BranchID, e.AlertID)
}

// CapacityExceededError names the dimension that would cross its limit.
type CapacityExceededError struct {
	ConsolidationID uint
	Dimension       string
	Limit           float64
	Requested       float64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("consolidation %d: %s capacity exceeded (limit %g, would be %g)",
		e.ConsolidationID, e.Dimension, e.Limit, e.Requested)
}

type InvalidConsolidationStateError struct {
	ConsolidationID uint
	Current         string
	Required        string
	Reason          string
}

func (e *InvalidConsolidationStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("consolidation %d (%s): %s", e.ConsolidationID, e.Current, e.Reason)
	}
	return fmt.Sprintf("consolidation %d is %s, requires %s", e.ConsolidationID, e.Current, e.Required)
}

type InvalidHandoffStateError struct {
	HandoffID uint
	Current   string
	Required  string
}

func (e *InvalidHandoffStateError) Error() string {
	return fmt.Sprintf("handoff %d is %s, requires %s", e.HandoffID, e.Current, e.Required)
}

// MembershipConflictError: the shipment already sits in another live consolidation.
type MembershipConflictError struct {
	ShipmentID      uint
	ConsolidationID uint
}

func (e *MembershipConflictError) Error() string {
	return fmt.Sprintf("shipment %d already belongs to consolidation %d", e.ShipmentID, e.ConsolidationID)
}

type UnauthorizedError struct {
	BranchID uint
	Action   string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("branch %d is not allowed to %s", e.BranchID, e.Action)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsBusiness reports whether err is a user-presentable rule violation
// rather than a hard failure.
func IsBusiness(err error) bool {
	var (
		it  *InvalidTransitionError
		mr  *MisroutedError
		ds  *DuplicateScanError
		nw  *NoAvailableWorkerError
		mb  *MaintenanceBlockedError
		ce  *CapacityExceededError
		cs  *InvalidConsolidationStateError
		hs  *InvalidHandoffStateError
		mc  *MembershipConflictError
		val *ValidationError
	)
	switch {
	case errors.As(err, &it), errors.As(err, &mr), errors.As(err, &ds),
		errors.As(err, &nw), errors.As(err, &mb), errors.As(err, &ce),
		errors.As(err, &cs), errors.As(err, &hs), errors.As(err, &mc),
		errors.As(err, &val):
		return true
	}
	return false
}

// IsNotFound is a shorthand used by handlers and tests.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
