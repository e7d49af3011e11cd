package lifecycle

import (
	"strconv"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/auth"
	"courier-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type BookShipmentRequest struct {
	BranchID             *uint           `json:"branch_id"` // super_admin için origin şube
	DestBranchID         uint            `json:"dest_branch_id"`
	PriceAmount          decimal.Decimal `json:"price_amount"`
	Currency             string          `json:"currency"`
	CODAmount            decimal.Decimal `json:"cod_amount"`
	Priority             int             `json:"priority"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date"`
	Pieces               int             `json:"pieces"`
	WeightKg             float64         `json:"weight_kg"`
	VolumeCBM            float64         `json:"volume_cbm"`
}

type TransitionRequest struct {
	BranchID          *uint            `json:"branch_id"`
	Status            string           `json:"status"`
	Force             bool             `json:"force"`
	Reason            string           `json:"reason"`
	CODCollected      *decimal.Decimal `json:"cod_collected_amount"`
	ExceptionCategory string           `json:"exception_category"`
	ExceptionSeverity string           `json:"exception_severity"`
}

type RerouteShipmentRequest struct {
	BranchID     *uint `json:"branch_id"`
	DestBranchID uint  `json:"dest_branch_id"`
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Geçersiz "+name)
	}
	return uint(v), nil
}

// POST /api/shipments
func BookHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body BookShipmentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		sh, err := svc.Book(c.UserContext(), BookRequest{
			OriginBranchID:       branchID,
			DestBranchID:         body.DestBranchID,
			BookedBy:             actor.UserID,
			PriceAmount:          body.PriceAmount,
			Currency:             body.Currency,
			CODAmount:            body.CODAmount,
			Priority:             body.Priority,
			ExpectedDeliveryDate: body.ExpectedDeliveryDate,
			Pieces:               body.Pieces,
			WeightKg:             body.WeightKg,
			VolumeCBM:            body.VolumeCBM,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}

		return c.Status(fiber.StatusCreated).JSON(sh)
	}
}

// GET /api/shipments/track/:tracking
func TrackHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		t, err := svc.Track(c.UserContext(), c.Params("tracking"))
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(t)
	}
}

// GET /api/shipments/at-risk?hours=24
func AtRiskHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, branchID, err := auth.ActingBranch(c)
		if err != nil {
			return err
		}

		hours := c.QueryInt("hours", 24)
		if hours < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "hours negatif olamaz")
		}

		list, err := svc.AtRisk(c.UserContext(), branchID, time.Duration(hours)*time.Hour)
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(list)
	}
}

// POST /api/shipments/:id/transition
func TransitionHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}

		var body TransitionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		// Zorla geçiş yalnızca yöneticilere açık
		if body.Force && actor.Role == models.RoleOperator {
			return fiber.NewError(fiber.StatusForbidden, "Zorla durum değişikliği için yetkiniz yok")
		}
		if body.Force && body.Reason == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Zorla durum değişikliği için reason zorunludur")
		}

		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		sh, err := svc.Transition(c.UserContext(), id, models.ShipmentStatus(body.Status), TransitionContext{
			PerformedBy:       actor.UserID,
			Trigger:           models.TriggerManual,
			LocationType:      models.LocationBranch,
			LocationID:        branchID,
			ActingBranchID:    branchID,
			Force:             body.Force,
			Reason:            body.Reason,
			CODCollected:      body.CODCollected,
			ExceptionCategory: body.ExceptionCategory,
			ExceptionSeverity: body.ExceptionSeverity,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(sh)
	}
}

// POST /api/shipments/:id/reroute
func RerouteHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}

		var body RerouteShipmentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		sh, err := svc.Reroute(c.UserContext(), RerouteRequest{
			ShipmentID:      id,
			NewDestBranchID: body.DestBranchID,
			BranchID:        branchID,
			PerformedBy:     actor.UserID,
		})
		if err != nil {
			return apperrors.Fiber(err)
		}
		return c.JSON(sh)
	}
}
