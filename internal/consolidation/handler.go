package consolidation

import (
	"strconv"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/auth"
	"courier-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type CreateConsolidationRequest struct {
	BranchID               *uint      `json:"branch_id"`
	Type                   string     `json:"type"`
	DestBranchID           *uint      `json:"dest_branch_id"`
	DestinationDescription string     `json:"destination_description"`
	MaxPieces              int        `json:"max_pieces"`
	MaxWeightKg            float64    `json:"max_weight_kg"`
	MaxVolumeCBM           float64    `json:"max_volume_cbm"`
	CutoffTime             *time.Time `json:"cutoff_time"`
}

type AddShipmentRequest struct {
	BranchID   *uint `json:"branch_id"`
	ShipmentID uint  `json:"shipment_id"`
}

type DispatchConsolidationRequest struct {
	BranchID      *uint  `json:"branch_id"`
	AWBNumber     string `json:"awb_number"`
	VehicleNumber string `json:"vehicle_number"`
}

type branchBody struct {
	BranchID *uint `json:"branch_id"`
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Geçersiz "+name)
	}
	return uint(v), nil
}

// actingBranch resolves the branch from an optional JSON body, falling back
// to the branch_id query parameter.
func actingBranch(c *fiber.Ctx) (auth.Actor, uint, error) {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return actor, 0, err
	}
	var body branchBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return actor, 0, fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
	}
	if body.BranchID == nil {
		if q := c.QueryInt("branch_id", 0); q > 0 {
			id := uint(q)
			body.BranchID = &id
		}
	}
	branchID, err := auth.ResolveBranch(actor, body.BranchID)
	return actor, branchID, err
}

// POST /api/consolidations
func CreateHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body CreateConsolidationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		con, err := m.Create(c.UserContext(), CreateRequest{
			Type:                   models.ConsolidationType(body.Type),
			BranchID:               branchID,
			DestBranchID:           body.DestBranchID,
			DestinationDescription: body.DestinationDescription,
			MaxPieces:              body.MaxPieces,
			MaxWeightKg:            body.MaxWeightKg,
			MaxVolumeCBM:           body.MaxVolumeCBM,
			CutoffTime:             body.CutoffTime,
			CreatedBy:              actor.UserID,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(con)
	}
}

// POST /api/consolidations/auto
func AutoConsolidateHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, branchID, err := actingBranch(c)
		if err != nil {
			return err
		}
		res, err := m.AutoConsolidate(c.UserContext(), branchID, actor.UserID)
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(res)
	}
}

// GET /api/consolidations/:id
func GetHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		d, err := m.Get(c.UserContext(), id)
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(d)
	}
}

// POST /api/consolidations/:id/shipments
func AddShipmentHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		var body AddShipmentRequest
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

		con, err := m.AddShipment(c.UserContext(), MemberRequest{
			ConsolidationID: id,
			ShipmentID:      body.ShipmentID,
			BranchID:        branchID,
			PerformedBy:     actor.UserID,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(con)
	}
}

// DELETE /api/consolidations/:id/shipments/:sid
func RemoveShipmentHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		sid, err := paramID(c, "sid")
		if err != nil {
			return err
		}
		actor, branchID, err := auth.ActingBranch(c)
		if err != nil {
			return err
		}

		con, err := m.RemoveShipment(c.UserContext(), MemberRequest{
			ConsolidationID: id,
			ShipmentID:      sid,
			BranchID:        branchID,
			PerformedBy:     actor.UserID,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(con)
	}
}

// stepHandler serves lock, arrive and deconsolidate.
func stepHandler(run func(*Manager, *fiber.Ctx, StepRequest) (*models.Consolidation, error), m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		actor, branchID, err := actingBranch(c)
		if err != nil {
			return err
		}
		con, err := run(m, c, StepRequest{ConsolidationID: id, BranchID: branchID, PerformedBy: actor.UserID})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(con)
	}
}

// POST /api/consolidations/:id/lock
func LockHandler(m *Manager) fiber.Handler {
	return stepHandler(func(m *Manager, c *fiber.Ctx, req StepRequest) (*models.Consolidation, error) {
		return m.Lock(c.UserContext(), req)
	}, m)
}

// POST /api/consolidations/:id/arrive
func ArriveHandler(m *Manager) fiber.Handler {
	return stepHandler(func(m *Manager, c *fiber.Ctx, req StepRequest) (*models.Consolidation, error) {
		return m.MarkArrived(c.UserContext(), req)
	}, m)
}

// POST /api/consolidations/:id/deconsolidate
func DeconsolidateHandler(m *Manager) fiber.Handler {
	return stepHandler(func(m *Manager, c *fiber.Ctx, req StepRequest) (*models.Consolidation, error) {
		return m.StartDeconsolidation(c.UserContext(), req)
	}, m)
}

// POST /api/consolidations/:id/dispatch
func DispatchHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		var body DispatchConsolidationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		con, err := m.Dispatch(c.UserContext(), DispatchRequest{
			StepRequest:   StepRequest{ConsolidationID: id, BranchID: branchID, PerformedBy: actor.UserID},
			AWBNumber:     body.AWBNumber,
			VehicleNumber: body.VehicleNumber,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(con)
	}
}

func babyRequest(c *fiber.Ctx) (BabyRequest, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return BabyRequest{}, err
	}
	sid, err := paramID(c, "sid")
	if err != nil {
		return BabyRequest{}, err
	}
	actor, branchID, err := actingBranch(c)
	if err != nil {
		return BabyRequest{}, err
	}
	return BabyRequest{ConsolidationID: id, ShipmentID: sid, BranchID: branchID, PerformedBy: actor.UserID}, nil
}

// POST /api/consolidations/:id/shipments/:sid/scan
func ScanBabyHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := babyRequest(c)
		if err != nil {
			return err
		}
		item, err := m.ScanBabyShipment(c.UserContext(), req)
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(item)
	}
}

// POST /api/consolidations/:id/shipments/:sid/release
func ReleaseBabyHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := babyRequest(c)
		if err != nil {
			return err
		}
		res, err := m.ReleaseBabyShipment(c.UserContext(), req)
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(res)
	}
}
