package admin

import (
	"errors"
	"strings"
	"time"

	"courier-backend/internal/audit"
	"courier-backend/internal/auth"
	"courier-backend/internal/models"
	"courier-backend/internal/store"

	"github.com/gofiber/fiber/v2"
)

type CreateWorkerRequest struct {
	BranchID *uint  `json:"branch_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Kind     string `json:"kind"`
	Active   *bool  `json:"active"` // verilmezse aktif
}

type CreateVehicleRequest struct {
	BranchID *uint  `json:"branch_id"`
	Plate    string `json:"plate"`
	Active   *bool  `json:"active"`
}

type CreateMaintenanceRequest struct {
	BranchID       *uint     `json:"branch_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	CapacityFactor int       `json:"capacity_factor"`
	Note           string    `json:"note"`
}

var errBranchNotFound = errors.New("branch not found")

// createInBranch checks the branch, runs create and appends the audit entry
// in one transaction.
func createInBranch(c *fiber.Ctx, st store.Store, branchID uint, entity string, create func(tx store.Tx) (uint, any, error)) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	return st.RunInTx(c.UserContext(), func(tx store.Tx) error {
		if _, err := tx.GetBranch(branchID); errors.Is(err, store.ErrNotFound) {
			return errBranchNotFound
		} else if err != nil {
			return err
		}
		id, after, err := create(tx)
		if err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			BranchID:    &branchID,
			UserID:      actor.UserID,
			EntityType:  entity,
			EntityID:    id,
			Action:      models.AuditActionCreate,
			Description: entity + " oluşturuldu",
			After:       after,
			At:          time.Now(),
		})
	})
}

func createError(err error, conflictMsg, failMsg string) error {
	switch {
	case errors.Is(err, errBranchNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Şube bulunamadı")
	case errors.Is(err, store.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, conflictMsg)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	return fiber.NewError(fiber.StatusInternalServerError, failMsg)
}

// ----------------------------------------
// ÇALIŞAN (kurye / sürücü)
// ----------------------------------------

// POST /api/admin/workers
func CreateWorkerHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body CreateWorkerRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Çalışan adı boş olamaz")
		}
		kind := models.WorkerKind(body.Kind)
		if kind == "" {
			kind = models.WorkerCourier
		}
		if kind != models.WorkerCourier && kind != models.WorkerDriver {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz çalışan tipi")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		w := models.Worker{
			BranchID: branchID,
			Name:     body.Name,
			Phone:    strings.TrimSpace(body.Phone),
			Kind:     kind,
			Active:   body.Active == nil || *body.Active,
		}
		err = createInBranch(c, st, branchID, "worker", func(tx store.Tx) (uint, any, error) {
			err := tx.CreateWorker(&w)
			return w.ID, w, err
		})
		if err != nil {
			return createError(err, "Çalışan zaten kayıtlı", "Çalışan oluşturulamadı")
		}
		return c.Status(fiber.StatusCreated).JSON(w)
	}
}

// GET /api/admin/workers
func ListWorkersHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		// super_admin filtre vermezse tüm şubeler
		var filter *uint
		if actor.Role == models.RoleSuperAdmin {
			if id := c.QueryInt("branch_id", 0); id > 0 {
				b := uint(id)
				filter = &b
			}
		} else {
			if actor.BranchID == nil {
				return fiber.NewError(fiber.StatusForbidden, "Kullanıcıya şube atanmamış")
			}
			filter = actor.BranchID
		}

		var workers []models.Worker
		err = st.RunInTx(c.UserContext(), func(tx store.Tx) error {
			var err error
			workers, err = tx.ListWorkers(filter)
			return err
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Çalışanlar listelenemedi")
		}
		if workers == nil {
			workers = []models.Worker{}
		}
		return c.JSON(workers)
	}
}

// ----------------------------------------
// ARAÇ
// ----------------------------------------

// POST /api/admin/vehicles
func CreateVehicleHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body CreateVehicleRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}
		body.Plate = strings.ToUpper(strings.TrimSpace(body.Plate))
		if body.Plate == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Plaka boş olamaz")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		v := models.Vehicle{
			BranchID: branchID,
			Plate:    body.Plate,
			Active:   body.Active == nil || *body.Active,
		}
		err = createInBranch(c, st, branchID, "vehicle", func(tx store.Tx) (uint, any, error) {
			err := tx.CreateVehicle(&v)
			return v.ID, v, err
		})
		if err != nil {
			return createError(err, "Bu plaka zaten kayıtlı", "Araç oluşturulamadı")
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	}
}

// ----------------------------------------
// BAKIM UYARISI
// ----------------------------------------

// POST /api/admin/maintenance-alerts
func CreateMaintenanceHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body CreateMaintenanceRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}
		if body.StartsAt.IsZero() || !body.EndsAt.After(body.StartsAt) {
			return fiber.NewError(fiber.StatusBadRequest, "ends_at, starts_at'ten sonra olmalı")
		}
		if body.CapacityFactor < 0 || body.CapacityFactor > 100 {
			return fiber.NewError(fiber.StatusBadRequest, "capacity_factor 0 ile 100 arasında olmalı")
		}
		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		m := models.MaintenanceAlert{
			BranchID:       branchID,
			StartsAt:       body.StartsAt.UTC(),
			EndsAt:         body.EndsAt.UTC(),
			CapacityFactor: body.CapacityFactor,
			Active:         true,
			Note:           strings.TrimSpace(body.Note),
		}
		err = createInBranch(c, st, branchID, "maintenance_alert", func(tx store.Tx) (uint, any, error) {
			err := tx.CreateMaintenance(&m)
			return m.ID, m, err
		})
		if err != nil {
			return createError(err, "Bakım uyarısı zaten kayıtlı", "Bakım uyarısı oluşturulamadı")
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	}
}
