package assignment

import (
	"strconv"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
)

type AssignShipmentRequest struct {
	BranchID  *uint `json:"branch_id"`
	WorkerID  *uint `json:"worker_id"`
	VehicleID *uint `json:"vehicle_id"`
}

// POST /api/shipments/:id/assign
func AssignHandler(engine *Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		id, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil || id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz gönderi ID")
		}

		var body AssignShipmentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		res, err := engine.Assign(c.UserContext(), AssignRequest{
			ShipmentID:  uint(id),
			WorkerID:    body.WorkerID,
			VehicleID:   body.VehicleID,
			BranchID:    branchID,
			PerformedBy: actor.UserID,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(res)
	}
}
