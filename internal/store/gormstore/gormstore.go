// Package gormstore implements store.Store through gorm. PostgreSQL is the
// production database; tests run the same queries on SQLite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier-backend/internal/models"
	"courier-backend/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolation = "23505"

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&tx{db: db})
	})
}

type tx struct {
	db *gorm.DB
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (t *tx) q(lock bool) *gorm.DB {
	if lock {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

// Shipments

func (t *tx) CreateShipment(s *models.Shipment) error {
	return translate(t.db.Create(s).Error)
}

func (t *tx) GetShipment(id uint, lock bool) (*models.Shipment, error) {
	var s models.Shipment
	if err := t.q(lock).First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (t *tx) GetShipmentByTracking(trackingNumber string, lock bool) (*models.Shipment, error) {
	var s models.Shipment
	if err := t.q(lock).Where("tracking_number = ?", trackingNumber).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (t *tx) SaveShipment(s *models.Shipment) error {
	return translate(t.db.Save(s).Error)
}

func (t *tx) CountTrackingPrefix(prefix string) (int64, error) {
	var n int64
	err := t.db.Model(&models.Shipment{}).Where("tracking_number LIKE ?", prefix+"%").Count(&n).Error
	return n, translate(err)
}

func (t *tx) ListConsolidationCandidates(branchID uint, statuses []models.ShipmentStatus) ([]models.Shipment, error) {
	var out []models.Shipment
	err := t.db.
		Where("origin_branch_id = ? AND consolidation_id IS NULL AND status IN ?", branchID, statuses).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, translate(err)
}

func (t *tx) CountOpenAssignments(workerIDs []uint) (map[uint]int64, error) {
	out := map[uint]int64{}
	if len(workerIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		WorkerID  uint
		OpenCount int64
	}
	err := t.db.Model(&models.Shipment{}).
		Select("assigned_worker_id AS worker_id, COUNT(*) AS open_count").
		Where("assigned_worker_id IN ? AND status NOT IN ?", workerIDs, terminalStatuses()).
		Group("assigned_worker_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, r := range rows {
		out[r.WorkerID] = r.OpenCount
	}
	return out, nil
}

func (t *tx) ListAtRisk(branchID uint, before time.Time) ([]models.Shipment, error) {
	var out []models.Shipment
	err := t.db.
		Where("(origin_branch_id = ? OR dest_branch_id = ?)", branchID, branchID).
		Where("status NOT IN ?", terminalStatuses()).
		Where("expected_delivery_date IS NOT NULL AND expected_delivery_date < ?", before).
		Order("expected_delivery_date ASC").
		Find(&out).Error
	return out, translate(err)
}

func terminalStatuses() []models.ShipmentStatus {
	return []models.ShipmentStatus{models.StatusDelivered, models.StatusCancelled, models.StatusReturnedToSender}
}

func (t *tx) AppendStatusHistory(h *models.ShipmentStatusHistory) error {
	return translate(t.db.Create(h).Error)
}

func (t *tx) ListStatusHistory(shipmentID uint) ([]models.ShipmentStatusHistory, error) {
	var out []models.ShipmentStatusHistory
	err := t.db.Where("shipment_id = ?", shipmentID).Order("id ASC").Find(&out).Error
	return out, translate(err)
}

// Scans

func (t *tx) AppendScanEvent(e *models.ScanEvent) error {
	return translate(t.db.Create(e).Error)
}

func (t *tx) ListScanEvents(shipmentID uint) ([]models.ScanEvent, error) {
	var out []models.ScanEvent
	err := t.db.Where("shipment_id = ?", shipmentID).Order("id ASC").Find(&out).Error
	return out, translate(err)
}

// Workforce

func (t *tx) GetBranch(id uint) (*models.Branch, error) {
	var b models.Branch
	if err := t.db.First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (t *tx) GetWorker(id uint, lock bool) (*models.Worker, error) {
	var w models.Worker
	if err := t.q(lock).First(&w, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// ListActiveWorkers with lock=true serialises concurrent auto-assignments at a branch.
func (t *tx) ListActiveWorkers(branchID uint, lock bool) ([]models.Worker, error) {
	var out []models.Worker
	err := t.q(lock).Where("branch_id = ? AND active = ?", branchID, true).Order("id ASC").Find(&out).Error
	return out, translate(err)
}

func (t *tx) SaveWorker(w *models.Worker) error {
	return translate(t.db.Save(w).Error)
}

func (t *tx) GetVehicle(id uint) (*models.Vehicle, error) {
	var v models.Vehicle
	if err := t.db.First(&v, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (t *tx) ListActiveMaintenance(branchID uint, at time.Time) ([]models.MaintenanceAlert, error) {
	var out []models.MaintenanceAlert
	err := t.db.
		Where("branch_id = ? AND active = ? AND starts_at <= ? AND ends_at > ?", branchID, true, at, at).
		Order("id ASC").
		Find(&out).Error
	return out, translate(err)
}

// Consolidations

func (t *tx) CreateConsolidation(c *models.Consolidation) error {
	return translate(t.db.Create(c).Error)
}

func (t *tx) GetConsolidation(id uint, lock bool) (*models.Consolidation, error) {
	var c models.Consolidation
	if err := t.q(lock).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (t *tx) SaveConsolidation(c *models.Consolidation) error {
	return translate(t.db.Save(c).Error)
}

func (t *tx) ListOpenConsolidations(branchID, destBranchID uint) ([]models.Consolidation, error) {
	var out []models.Consolidation
	err := t.db.
		Where("branch_id = ? AND dest_branch_id = ? AND status = ?", branchID, destBranchID, models.ConsolidationOpen).
		Order("id ASC").
		Find(&out).Error
	return out, translate(err)
}

func (t *tx) CountReferencePrefix(prefix string) (int64, error) {
	var n int64
	err := t.db.Model(&models.Consolidation{}).Where("reference LIKE ?", prefix+"%").Count(&n).Error
	return n, translate(err)
}

func (t *tx) AddItem(item *models.ConsolidationItem) error {
	return translate(t.db.Create(item).Error)
}

func (t *tx) GetItem(consolidationID, shipmentID uint) (*models.ConsolidationItem, error) {
	var item models.ConsolidationItem
	err := t.db.Where("consolidation_id = ? AND shipment_id = ?", consolidationID, shipmentID).First(&item).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (t *tx) SaveItem(item *models.ConsolidationItem) error {
	return translate(t.db.Save(item).Error)
}

func (t *tx) DeleteItem(consolidationID, shipmentID uint) error {
	res := t.db.Where("consolidation_id = ? AND shipment_id = ?", consolidationID, shipmentID).
		Delete(&models.ConsolidationItem{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ListItems(consolidationID uint) ([]models.ConsolidationItem, error) {
	var out []models.ConsolidationItem
	err := t.db.Where("consolidation_id = ?", consolidationID).Order("id ASC").Find(&out).Error
	return out, translate(err)
}

func (t *tx) AppendDeconsolidationEvent(e *models.DeconsolidationEvent) error {
	return translate(t.db.Create(e).Error)
}

func (t *tx) ListDeconsolidationEvents(consolidationID uint) ([]models.DeconsolidationEvent, error) {
	var out []models.DeconsolidationEvent
	err := t.db.Where("consolidation_id = ?", consolidationID).Order("id ASC").Find(&out).Error
	return out, translate(err)
}

// Handoffs

func (t *tx) CreateHandoff(h *models.BranchHandoff) error {
	return translate(t.db.Create(h).Error)
}

func (t *tx) GetHandoff(id uint, lock bool) (*models.BranchHandoff, error) {
	var h models.BranchHandoff
	if err := t.q(lock).First(&h, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &h, nil
}

func (t *tx) SaveHandoff(h *models.BranchHandoff) error {
	return translate(t.db.Save(h).Error)
}

func (t *tx) HasPendingHandoff(shipmentID uint) (bool, error) {
	var n int64
	err := t.db.Model(&models.BranchHandoff{}).
		Where("shipment_id = ? AND status = ?", shipmentID, models.HandoffPending).
		Count(&n).Error
	return n > 0, translate(err)
}

// Audit

func (t *tx) AppendAudit(l *models.AuditLog) error {
	return translate(t.db.Create(l).Error)
}

func (t *tx) ListAudit(f store.AuditFilter) ([]models.AuditLog, error) {
	q := t.db.Model(&models.AuditLog{})
	if f.BranchID != nil {
		q = q.Where("branch_id = ?", *f.BranchID)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != 0 {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.AuditLog
	err := q.Order("created_at DESC, id DESC").Find(&out).Error
	return out, translate(err)
}

// Directory

func (t *tx) CreateBranch(b *models.Branch) error {
	return translate(t.db.Create(b).Error)
}

func (t *tx) ListBranches() ([]models.Branch, error) {
	var out []models.Branch
	err := t.db.Order("id").Find(&out).Error
	return out, translate(err)
}

func (t *tx) CreateUser(u *models.User) error {
	return translate(t.db.Create(u).Error)
}

func (t *tx) GetUser(id uint) (*models.User, error) {
	var u models.User
	if err := t.db.First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *tx) GetUserByEmail(email string) (*models.User, error) {
	var u models.User
	if err := t.db.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *tx) CountUsersByRole(role models.UserRole) (int64, error) {
	var n int64
	err := t.db.Model(&models.User{}).Where("role = ?", role).Count(&n).Error
	return n, translate(err)
}

func (t *tx) CreateWorker(w *models.Worker) error {
	return translate(t.db.Create(w).Error)
}

func (t *tx) ListWorkers(branchID *uint) ([]models.Worker, error) {
	var out []models.Worker
	q := t.db.Order("id")
	if branchID != nil {
		q = q.Where("branch_id = ?", *branchID)
	}
	err := q.Find(&out).Error
	return out, translate(err)
}

func (t *tx) CreateVehicle(v *models.Vehicle) error {
	return translate(t.db.Create(v).Error)
}

func (t *tx) CreateMaintenance(m *models.MaintenanceAlert) error {
	return translate(t.db.Create(m).Error)
}
