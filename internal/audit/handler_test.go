package audit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"courier-backend/internal/auth"
	"courier-backend/internal/models"
	"courier-backend/internal/store"
	"courier-backend/internal/store/memstore"

	"github.com/gofiber/fiber/v2"
)

func TestListAuditLogsScopesBranchUsers(t *testing.T) {
	st := memstore.New()
	ist, ank := uint(1), uint(2)
	err := st.RunInTx(context.Background(), func(tx store.Tx) error {
		for i, b := range []*uint{&ist, &ist, &ank} {
			if err := WriteLog(tx, LogOptions{BranchID: b, UserID: 1, EntityType: "consolidation", EntityID: uint(i + 1), Action: models.AuditActionCreate}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	newApp := func(role models.UserRole, branch *uint) *fiber.App {
		app := fiber.New()
		app.Use(func(c *fiber.Ctx) error {
			c.Locals(auth.CtxUserIDKey, uint(1))
			c.Locals(auth.CtxUserRoleKey, role)
			c.Locals(auth.CtxBranchIDKey, branch)
			return c.Next()
		})
		app.Get("/api/audit-logs", ListAuditLogsHandler(st))
		return app
	}

	cases := []struct {
		name string
		app  *fiber.App
		path string
		want int
	}{
		{"branch admin sees own branch", newApp(models.RoleBranchAdmin, &ank), "/api/audit-logs?branch_id=1", 1},
		{"super admin sees all", newApp(models.RoleSuperAdmin, nil), "/api/audit-logs", 3},
		{"super admin filters by branch", newApp(models.RoleSuperAdmin, nil), "/api/audit-logs?branch_id=1", 2},
		{"entity filter", newApp(models.RoleSuperAdmin, nil), "/api/audit-logs?entity_type=consolidation&entity_id=3", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := tc.app.Test(httptest.NewRequest("GET", tc.path, nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			var got []AuditLogResponse
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if len(got) != tc.want {
				t.Errorf("expected %d entries, got %d", tc.want, len(got))
			}
		})
	}
}
