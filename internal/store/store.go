// Package store defines the persistence boundary used by the core services.
// Every mutation in the core runs inside RunInTx; Tx methods that take a
// lock argument acquire a row lock held until the transaction ends.
package store

import (
	"context"
	"errors"
	"time"

	"courier-backend/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violated")
)

// Store runs units of work atomically: fn's writes commit together or not at all.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	ShipmentRepo
	ScanRepo
	WorkforceRepo
	ConsolidationRepo
	HandoffRepo
	AuditRepo
	DirectoryRepo
}

type ShipmentRepo interface {
	CreateShipment(s *models.Shipment) error
	GetShipment(id uint, lock bool) (*models.Shipment, error)
	GetShipmentByTracking(trackingNumber string, lock bool) (*models.Shipment, error)
	SaveShipment(s *models.Shipment) error
	CountTrackingPrefix(prefix string) (int64, error)
	// ListConsolidationCandidates returns unconsolidated shipments at the origin
	// branch in the given statuses, oldest first.
	ListConsolidationCandidates(branchID uint, statuses []models.ShipmentStatus) ([]models.Shipment, error)
	// CountOpenAssignments returns the number of non-terminal shipments assigned
	// to each of the given workers. Workers without any are absent from the map.
	CountOpenAssignments(workerIDs []uint) (map[uint]int64, error)
	ListAtRisk(branchID uint, before time.Time) ([]models.Shipment, error)

	AppendStatusHistory(h *models.ShipmentStatusHistory) error
	ListStatusHistory(shipmentID uint) ([]models.ShipmentStatusHistory, error)
}

type ScanRepo interface {
	AppendScanEvent(e *models.ScanEvent) error
	ListScanEvents(shipmentID uint) ([]models.ScanEvent, error)
}

type WorkforceRepo interface {
	GetBranch(id uint) (*models.Branch, error)
	GetWorker(id uint, lock bool) (*models.Worker, error)
	ListActiveWorkers(branchID uint, lock bool) ([]models.Worker, error)
	SaveWorker(w *models.Worker) error
	GetVehicle(id uint) (*models.Vehicle, error)
	ListActiveMaintenance(branchID uint, at time.Time) ([]models.MaintenanceAlert, error)
}

type ConsolidationRepo interface {
	CreateConsolidation(c *models.Consolidation) error
	GetConsolidation(id uint, lock bool) (*models.Consolidation, error)
	SaveConsolidation(c *models.Consolidation) error
	ListOpenConsolidations(branchID, destBranchID uint) ([]models.Consolidation, error)
	CountReferencePrefix(prefix string) (int64, error)

	AddItem(item *models.ConsolidationItem) error
	GetItem(consolidationID, shipmentID uint) (*models.ConsolidationItem, error)
	SaveItem(item *models.ConsolidationItem) error
	DeleteItem(consolidationID, shipmentID uint) error
	ListItems(consolidationID uint) ([]models.ConsolidationItem, error)

	AppendDeconsolidationEvent(e *models.DeconsolidationEvent) error
	ListDeconsolidationEvents(consolidationID uint) ([]models.DeconsolidationEvent, error)
}

type HandoffRepo interface {
	CreateHandoff(h *models.BranchHandoff) error
	GetHandoff(id uint, lock bool) (*models.BranchHandoff, error)
	SaveHandoff(h *models.BranchHandoff) error
	HasPendingHandoff(shipmentID uint) (bool, error)
}

type AuditRepo interface {
	AppendAudit(l *models.AuditLog) error
	ListAudit(filter AuditFilter) ([]models.AuditLog, error)
}

type AuditFilter struct {
	BranchID   *uint
	EntityType string
	EntityID   uint
	Limit      int
}

// DirectoryRepo covers the reference data maintained through the admin API.
type DirectoryRepo interface {
	CreateBranch(b *models.Branch) error
	ListBranches() ([]models.Branch, error)
	CreateUser(u *models.User) error
	GetUser(id uint) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	CountUsersByRole(role models.UserRole) (int64, error)
	CreateWorker(w *models.Worker) error
	ListWorkers(branchID *uint) ([]models.Worker, error)
	CreateVehicle(v *models.Vehicle) error
	CreateMaintenance(m *models.MaintenanceAlert) error
}
