package audit

import (
	"context"
	"fmt"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/auth"
	"courier-backend/internal/models"
	"courier-backend/internal/store"

	"github.com/gofiber/fiber/v2"
)

type AuditLogResponse struct {
	ID          uint               `json:"id"`
	CreatedAt   string             `json:"created_at"`
	BranchID    *uint              `json:"branch_id"`
	UserID      uint               `json:"user_id"`
	EntityType  string             `json:"entity_type"`
	EntityID    uint               `json:"entity_id"`
	Action      models.AuditAction `json:"action"`
	Description string             `json:"description"`
}

// GET /api/audit-logs?entity_type=consolidation&entity_id=1&branch_id=1
func ListAuditLogsHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		filter := store.AuditFilter{
			EntityType: c.Query("entity_type"),
			Limit:      c.QueryInt("limit", 200),
		}

		// branch kullanıcıları yalnızca kendi şubesini görür
		if actor.Role != models.RoleSuperAdmin {
			if actor.BranchID == nil {
				return fiber.NewError(fiber.StatusForbidden, "branch not resolved")
			}
			filter.BranchID = actor.BranchID
		} else if bidStr := c.Query("branch_id"); bidStr != "" {
			var bid uint
			if _, err := fmt.Sscan(bidStr, &bid); err == nil && bid > 0 {
				filter.BranchID = &bid
			}
		}

		if eidStr := c.Query("entity_id"); eidStr != "" {
			var eid uint
			if _, err := fmt.Sscan(eidStr, &eid); err == nil && eid > 0 {
				filter.EntityID = eid
			}
		}

		logs, err := List(c.UserContext(), st, filter)
		if err != nil {
			return apperrors.Fiber(err)
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			resp = append(resp, AuditLogResponse{
				ID:          l.ID,
				CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
				BranchID:    l.BranchID,
				UserID:      l.UserID,
				EntityType:  l.EntityType,
				EntityID:    l.EntityID,
				Action:      l.Action,
				Description: l.Description,
			})
		}

		return c.JSON(resp)
	}
}

func List(ctx context.Context, st store.Store, filter store.AuditFilter) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := st.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		logs, err = tx.ListAudit(filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}
