package handoff

import (
	"context"
	"strconv"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/auth"
	"courier-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type CreateHandoffRequest struct {
	BranchID     *uint  `json:"branch_id"` // super_admin için gönderen şube
	ShipmentID   uint   `json:"shipment_id"`
	DestBranchID uint   `json:"dest_branch_id"`
	Notes        string `json:"notes"`
}

// POST /api/handoffs
func RequestHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body CreateHandoffRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
		if body.ShipmentID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "shipment_id zorunludur")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		h, err := svc.Request(c.UserContext(), Request{
			ShipmentID:     body.ShipmentID,
			OriginBranchID: branchID,
			DestBranchID:   body.DestBranchID,
			RequestedBy:    actor.UserID,
			Notes:          body.Notes,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(h)
	}
}

// decisionHandler serves approve, complete and reject; the acting branch
// comes from the token or the branch_id query parameter.
func decisionHandler(run func(context.Context, Decision) (*models.BranchHandoff, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil || id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz id")
		}
		actor, branchID, err := auth.ActingBranch(c)
		if err != nil {
			return err
		}
		h, err := run(c.UserContext(), Decision{HandoffID: uint(id), BranchID: branchID, PerformedBy: actor.UserID})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(h)
	}
}

// POST /api/handoffs/:id/approve
func ApproveHandler(svc *Service) fiber.Handler { return decisionHandler(svc.Approve) }

// POST /api/handoffs/:id/complete
func CompleteHandler(svc *Service) fiber.Handler { return decisionHandler(svc.Complete) }

// POST /api/handoffs/:id/reject
func RejectHandler(svc *Service) fiber.Handler { return decisionHandler(svc.Reject) }
