package admin

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"courier-backend/internal/auth"
	"courier-backend/internal/models"
	"courier-backend/internal/store"
	"courier-backend/internal/store/memstore"

	"github.com/gofiber/fiber/v2"
)

func newApp(st store.Store, role models.UserRole, branchID *uint) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(auth.CtxUserIDKey, uint(1))
		c.Locals(auth.CtxUserRoleKey, role)
		c.Locals(auth.CtxBranchIDKey, branchID)
		return c.Next()
	})
	app.Post("/branches", CreateBranchHandler(st))
	app.Get("/branches", ListBranchesHandler(st))
	app.Post("/users", CreateUserHandler(st))
	app.Post("/workers", CreateWorkerHandler(st))
	app.Get("/workers", ListWorkersHandler(st))
	app.Post("/vehicles", CreateVehicleHandler(st))
	app.Post("/maintenance-alerts", CreateMaintenanceHandler(st))
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw
}

func TestBranchCreateAndList(t *testing.T) {
	st := memstore.New()
	app := newApp(st, models.RoleSuperAdmin, nil)

	code, raw := do(t, app, "POST", "/branches", `{"code":"ist","name":"Istanbul Hub","is_hub":true}`)
	if code != fiber.StatusCreated {
		t.Fatalf("create: %d %s", code, raw)
	}
	var created BranchResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatal(err)
	}
	if created.Code != "IST" || !created.IsHub {
		t.Errorf("unexpected branch %+v", created)
	}

	if code, _ := do(t, app, "POST", "/branches", `{"code":"IST","name":"Başka"}`); code != fiber.StatusConflict {
		t.Errorf("duplicate code: expected 409, got %d", code)
	}
	if code, _ := do(t, app, "POST", "/branches", `{"name":"Kodsuz"}`); code != fiber.StatusBadRequest {
		t.Errorf("missing code: expected 400, got %d", code)
	}

	code, raw = do(t, app, "GET", "/branches", "")
	var list []BranchResponse
	if err := json.Unmarshal(raw, &list); err != nil || code != fiber.StatusOK {
		t.Fatalf("list: %d %v", code, err)
	}
	if len(list) != 1 {
		t.Errorf("expected one branch, got %d", len(list))
	}
}

func TestBranchAdminActsForOwnBranch(t *testing.T) {
	st := memstore.New()
	own := st.AddBranch(models.Branch{Code: "IST", Name: "Istanbul"})
	other := st.AddBranch(models.Branch{Code: "ANK", Name: "Ankara"})
	st.AddWorker(models.Worker{BranchID: other.ID, Name: "Ankara courier", Active: true})
	app := newApp(st, models.RoleBranchAdmin, &own.ID)

	code, raw := do(t, app, "POST", "/workers", `{"name":"Ali","branch_id":2}`)
	if code != fiber.StatusCreated {
		t.Fatalf("create worker: %d %s", code, raw)
	}
	var w models.Worker
	if err := json.Unmarshal(raw, &w); err != nil {
		t.Fatal(err)
	}
	if w.BranchID != own.ID || !w.Active || w.Kind != models.WorkerCourier {
		t.Errorf("worker must land in the admin's branch as an active courier: %+v", w)
	}

	_, raw = do(t, app, "GET", "/workers", "")
	var workers []models.Worker
	if err := json.Unmarshal(raw, &workers); err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 || workers[0].ID != w.ID {
		t.Errorf("branch admin should only see own workers, got %+v", workers)
	}

	if code, _ := do(t, app, "POST", "/users", `{"name":"Veli","email":"veli@example.com","password":"secret","role":"branch_admin"}`); code != fiber.StatusForbidden {
		t.Errorf("branch admin creating an admin: expected 403, got %d", code)
	}
	if code, _ := do(t, app, "POST", "/users", `{"name":"Veli","email":"Veli@Example.com","password":"secret"}`); code != fiber.StatusCreated {
		t.Errorf("operator creation: expected 201, got %d", code)
	}
	if code, _ := do(t, app, "POST", "/users", `{"name":"Veli 2","email":"veli@example.com","password":"secret"}`); code != fiber.StatusBadRequest {
		t.Errorf("duplicate email: expected 400, got %d", code)
	}
}

func TestVehicleAndMaintenanceValidation(t *testing.T) {
	st := memstore.New()
	b := st.AddBranch(models.Branch{Code: "IST", Name: "Istanbul"})
	app := newApp(st, models.RoleSuperAdmin, nil)

	if code, _ := do(t, app, "POST", "/vehicles", `{"plate":"34 abc 12"}`); code != fiber.StatusBadRequest {
		t.Errorf("super admin without branch_id: expected 400, got %d", code)
	}
	if code, raw := do(t, app, "POST", "/vehicles", `{"plate":"34 abc 12","branch_id":1}`); code != fiber.StatusCreated {
		t.Errorf("vehicle: expected 201, got %d %s", code, raw)
	}
	if code, _ := do(t, app, "POST", "/vehicles", `{"plate":"34 ABC 12","branch_id":1}`); code != fiber.StatusConflict {
		t.Errorf("duplicate plate: expected 409, got %d", code)
	}
	if code, _ := do(t, app, "POST", "/vehicles", `{"plate":"06 X 1","branch_id":99}`); code != fiber.StatusNotFound {
		t.Errorf("unknown branch: expected 404, got %d", code)
	}

	bad := `{"branch_id":1,"starts_at":"2025-01-01T00:00:00Z","ends_at":"2025-01-02T00:00:00Z","capacity_factor":120}`
	if code, _ := do(t, app, "POST", "/maintenance-alerts", bad); code != fiber.StatusBadRequest {
		t.Errorf("factor above 100: expected 400, got %d", code)
	}
	inverted := `{"branch_id":1,"starts_at":"2025-01-02T00:00:00Z","ends_at":"2025-01-01T00:00:00Z","capacity_factor":0}`
	if code, _ := do(t, app, "POST", "/maintenance-alerts", inverted); code != fiber.StatusBadRequest {
		t.Errorf("inverted window: expected 400, got %d", code)
	}
	ok := `{"branch_id":1,"starts_at":"2025-01-01T00:00:00Z","ends_at":"2025-01-02T00:00:00Z","capacity_factor":0,"note":"sel"}`
	code, raw := do(t, app, "POST", "/maintenance-alerts", ok)
	if code != fiber.StatusCreated {
		t.Fatalf("maintenance: expected 201, got %d %s", code, raw)
	}
	var m models.MaintenanceAlert
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m.BranchID != b.ID || !m.Active || m.CapacityFactor != 0 {
		t.Errorf("unexpected alert %+v", m)
	}
}
