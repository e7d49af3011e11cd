package apperrors

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// HTTPStatus maps an error from the core to the status code a handler returns.
func HTTPStatus(err error) int {
	var (
		nf  *NotFoundError
		un  *UnauthorizedError
		ds  *DuplicateScanError
		mc  *MembershipConflictError
		mb  *MaintenanceBlockedError
		val *ValidationError
	)
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &nf):
		return fiber.StatusNotFound
	case errors.As(err, &un):
		return fiber.StatusForbidden
	case errors.As(err, &ds), errors.As(err, &mc):
		return fiber.StatusConflict
	case errors.As(err, &mb):
		return fiber.StatusLocked
	case errors.As(err, &val):
		return fiber.StatusBadRequest
	case IsBusiness(err):
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

// Fiber converts err into a *fiber.Error for the app-wide ErrorHandler.
// Hard failures are reported without leaking internals.
func Fiber(err error) error {
	code := HTTPStatus(err)
	if code == fiber.StatusInternalServerError {
		return fiber.NewError(code, "internal server error")
	}
	return fiber.NewError(code, err.Error())
}
