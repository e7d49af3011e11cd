package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestIsBusinessSeparatesRuleViolationsFromHardFailures(t *testing.T) {
	business := []error{
		&InvalidTransitionError{From: "BOOKED", To: "DELIVERED"},
		&CapacityExceededError{Dimension: "pieces"},
		&InvalidConsolidationStateError{Current: "OPEN", Required: "LOCKED"},
		fmt.Errorf("wrapped: %w", &DuplicateScanError{TrackingNumber: "BRK-1"}),
		Validation("mode", "unknown"),
	}
	for _, err := range business {
		if !IsBusiness(err) {
			t.Errorf("IsBusiness(%v) = false, want true", err)
		}
	}

	hard := []error{
		&NotFoundError{Entity: "shipment", Key: 1},
		&UnauthorizedError{BranchID: 2, Action: "approve handoff"},
		errors.New("connection reset"),
	}
	for _, err := range hard {
		if IsBusiness(err) {
			t.Errorf("IsBusiness(%v) = true, want false", err)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&NotFoundError{Entity: "shipment", Key: 7}, fiber.StatusNotFound},
		{&UnauthorizedError{}, fiber.StatusForbidden},
		{&DuplicateScanError{}, fiber.StatusConflict},
		{&MaintenanceBlockedError{}, fiber.StatusLocked},
		{&InvalidTransitionError{}, fiber.StatusUnprocessableEntity},
		{&ValidationError{Message: "bad"}, fiber.StatusBadRequest},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%T) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
