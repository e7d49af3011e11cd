package scan

import (
	"encoding/json"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
)

type RecordScanRequest struct {
	BranchID       *uint           `json:"branch_id"`
	TrackingNumber string          `json:"tracking_number"`
	Mode           string          `json:"mode"`
	Payload        json.RawMessage `json:"payload"`
}

// POST /api/scans
//
// A rejected scan still answers with its stored record so the handheld can
// show why it was refused.
func RecordScanHandler(rec *Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body RecordScanRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		res, err := rec.RecordScan(c.UserContext(), ScanRequest{
			TrackingNumber: body.TrackingNumber,
			Mode:           Mode(body.Mode),
			BranchID:       branchID,
			UserID:         actor.UserID,
			Payload:        body.Payload,
		})
		if err != nil {
			if res != nil && apperrors.IsBusiness(err) {
				return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
					"error": err.Error(),
					"scan":  res.Scan,
				})
			}
			return apperrors.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}
