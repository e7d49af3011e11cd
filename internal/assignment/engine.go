package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/audit"
	"courier-backend/internal/lifecycle"
	"courier-backend/internal/models"
	"courier-backend/internal/notify"
	"courier-backend/internal/store"

	"go.uber.org/zap"
)

type AssignRequest struct {
	ShipmentID  uint
	WorkerID    *uint // nil: en az yüklü aktif çalışan seçilir
	VehicleID   *uint
	BranchID    uint
	PerformedBy uint
}

// Advisory reports a partial maintenance window. It is informational only.
type Advisory struct {
	AlertID        uint   `json:"alert_id"`
	CapacityFactor int    `json:"capacity_factor"`
	Note           string `json:"note"`
}

type AssignResult struct {
	Shipment *models.Shipment `json:"shipment"`
	Worker   models.Worker    `json:"worker"`
	Vehicle  *models.Vehicle  `json:"vehicle,omitempty"`
	Advisory *Advisory        `json:"advisory,omitempty"`
}

type Engine struct {
	store     store.Store
	lifecycle *lifecycle.Service
	log       *zap.Logger

	Now func() time.Time
}

func NewEngine(st store.Store, lc *lifecycle.Service, log *zap.Logger) *Engine {
	return &Engine{store: st, lifecycle: lc, log: log, Now: time.Now}
}

func (e *Engine) Assign(ctx context.Context, req AssignRequest) (*AssignResult, error) {
	var (
		res    AssignResult
		events []notify.Event
	)
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		at := e.Now()

		advisory, err := checkMaintenance(tx, req.BranchID, at)
		if err != nil {
			return err
		}
		res.Advisory = advisory

		sh, err := tx.GetShipment(req.ShipmentID, true)
		if errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "shipment", Key: req.ShipmentID}
		}
		if err != nil {
			return fmt.Errorf("load shipment %d: %w", req.ShipmentID, err)
		}
		if !sh.TouchesBranch(req.BranchID) {
			return &apperrors.UnauthorizedError{BranchID: req.BranchID, Action: "assign shipment " + sh.TrackingNumber}
		}
		if sh.Status.IsTerminal() {
			return apperrors.Validation("status", "shipment %s is %s and cannot be assigned", sh.TrackingNumber, sh.Status)
		}

		var worker *models.Worker
		if req.WorkerID != nil {
			worker, err = manualWorker(tx, req.BranchID, *req.WorkerID)
		} else {
			worker, err = leastLoadedWorker(tx, req.BranchID, sh)
		}
		if err != nil {
			return err
		}

		if req.VehicleID != nil {
			v, err := tx.GetVehicle(*req.VehicleID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				return &apperrors.NotFoundError{Entity: "vehicle", Key: *req.VehicleID}
			case err != nil:
				return fmt.Errorf("load vehicle %d: %w", *req.VehicleID, err)
			case v.BranchID != req.BranchID:
				return &apperrors.UnauthorizedError{BranchID: req.BranchID, Action: "use vehicle " + v.Plate}
			case !v.Active:
				return apperrors.Validation("vehicle_id", "vehicle %s is not active", v.Plate)
			}
			res.Vehicle = v
		}

		before := assignmentSnapshot(sh)
		assignedAt := at
		workerID := worker.ID
		sh.AssignedWorkerID = &workerID
		sh.AssignedAt = &assignedAt
		if res.Vehicle != nil {
			vehicleID := res.Vehicle.ID
			sh.AssignedVehicleID = &vehicleID
		}

		if sh.Status == models.StatusBooked {
			out, err := e.lifecycle.Apply(tx, sh, models.StatusPickupScheduled, lifecycle.TransitionContext{
				PerformedBy:  req.PerformedBy,
				Trigger:      models.TriggerSystem,
				LocationType: models.LocationBranch,
				LocationID:   req.BranchID,
				At:           at,
			})
			if err != nil {
				return err
			}
			events = out.Events
		} else if err := tx.SaveShipment(sh); err != nil {
			return fmt.Errorf("save shipment %d: %w", sh.ID, err)
		}

		worker.LastAssignedAt = &assignedAt
		if err := tx.SaveWorker(worker); err != nil {
			return fmt.Errorf("save worker %d: %w", worker.ID, err)
		}

		branch := req.BranchID
		if err := audit.WriteLog(tx, audit.LogOptions{
			BranchID:    &branch,
			UserID:      req.PerformedBy,
			EntityType:  "shipment",
			EntityID:    sh.ID,
			Action:      models.AuditActionAssign,
			Description: fmt.Sprintf("%s -> %s (#%d)", sh.TrackingNumber, worker.Name, worker.ID),
			Before:      before,
			After:       assignmentSnapshot(sh),
			At:          at,
		}); err != nil {
			return err
		}

		res.Shipment = sh
		res.Worker = *worker
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("shipment assigned",
		zap.String("tracking_number", res.Shipment.TrackingNumber),
		zap.Uint("worker_id", res.Worker.ID),
		zap.Bool("auto", req.WorkerID == nil))
	e.lifecycle.Publish(events...)
	return &res, nil
}

// checkMaintenance blocks on a zero-capacity window and reports the most
// restrictive partial one.
func checkMaintenance(tx store.Tx, branchID uint, at time.Time) (*Advisory, error) {
	alerts, err := tx.ListActiveMaintenance(branchID, at)
	if err != nil {
		return nil, fmt.Errorf("list maintenance alerts: %w", err)
	}
	var advisory *Advisory
	for _, a := range alerts {
		if a.CapacityFactor <= 0 {
			return nil, &apperrors.MaintenanceBlockedError{BranchID: branchID, AlertID: a.ID}
		}
		if a.CapacityFactor < 100 && (advisory == nil || a.CapacityFactor < advisory.CapacityFactor) {
			advisory = &Advisory{AlertID: a.ID, CapacityFactor: a.CapacityFactor, Note: a.Note}
		}
	}
	return advisory, nil
}

func manualWorker(tx store.Tx, branchID, workerID uint) (*models.Worker, error) {
	w, err := tx.GetWorker(workerID, true)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apperrors.NotFoundError{Entity: "worker", Key: workerID}
	}
	if err != nil {
		return nil, fmt.Errorf("load worker %d: %w", workerID, err)
	}
	if w.BranchID != branchID {
		return nil, &apperrors.UnauthorizedError{BranchID: branchID, Action: fmt.Sprintf("assign worker %d", workerID)}
	}
	if !w.Active {
		return nil, &apperrors.NoAvailableWorkerError{BranchID: branchID, WorkerID: workerID}
	}
	return w, nil
}

// leastLoadedWorker locks the branch's active workers and picks the one with
// the fewest open shipments; ties go to the worker idle the longest, then to
// the lowest id.
func leastLoadedWorker(tx store.Tx, branchID uint, sh *models.Shipment) (*models.Worker, error) {
	workers, err := tx.ListActiveWorkers(branchID, true)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	if len(workers) == 0 {
		return nil, &apperrors.NoAvailableWorkerError{BranchID: branchID}
	}

	ids := make([]uint, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	loads, err := tx.CountOpenAssignments(ids)
	if err != nil {
		return nil, fmt.Errorf("count open assignments: %w", err)
	}

	var (
		best     *models.Worker
		bestLoad int64
	)
	for i := range workers {
		w := &workers[i]
		load := loads[w.ID]
		// yeniden atamada gönderinin kendisi yük sayılmaz
		if sh.AssignedWorkerID != nil && *sh.AssignedWorkerID == w.ID && load > 0 {
			load--
		}
		if best == nil || load < bestLoad || (load == bestLoad && idleLonger(w, best)) {
			best, bestLoad = w, load
		}
	}
	return best, nil
}

func idleLonger(a, b *models.Worker) bool {
	switch {
	case a.LastAssignedAt == nil && b.LastAssignedAt == nil:
		return a.ID < b.ID
	case a.LastAssignedAt == nil:
		return true
	case b.LastAssignedAt == nil:
		return false
	case a.LastAssignedAt.Equal(*b.LastAssignedAt):
		return a.ID < b.ID
	}
	return a.LastAssignedAt.Before(*b.LastAssignedAt)
}

func assignmentSnapshot(sh *models.Shipment) map[string]any {
	return map[string]any{
		"status":              sh.Status,
		"assigned_worker_id":  sh.AssignedWorkerID,
		"assigned_vehicle_id": sh.AssignedVehicleID,
		"assigned_at":         sh.AssignedAt,
	}
}
