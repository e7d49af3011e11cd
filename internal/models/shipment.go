package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shipment: bir gönderi. Rows are never deleted; terminal statuses keep the row for audit.
type Shipment struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	TrackingNumber string         `gorm:"size:32;uniqueIndex;not null" json:"tracking_number"`
	OriginBranchID uint           `gorm:"index;not null" json:"origin_branch_id"`
	DestBranchID   uint           `gorm:"index;not null" json:"dest_branch_id"`
	Status         ShipmentStatus `gorm:"size:32;index;not null" json:"status"`

	AssignedWorkerID  *uint      `gorm:"index" json:"assigned_worker_id"`
	AssignedVehicleID *uint      `gorm:"index" json:"assigned_vehicle_id"`
	AssignedAt        *time.Time `json:"assigned_at"`

	PriceAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"price_amount"`
	Currency    string          `gorm:"size:3;not null;default:'TRY'" json:"currency"`

	CODAmount          decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0" json:"cod_amount"`
	CODCollectedAt     *time.Time       `json:"cod_collected_at"`
	CODCollectedAmount *decimal.Decimal `gorm:"type:decimal(12,2)" json:"cod_collected_amount"`

	HasException        bool       `gorm:"default:false" json:"has_exception"`
	ExceptionCategory   string     `gorm:"size:50" json:"exception_category"`
	ExceptionSeverity   string     `gorm:"size:20" json:"exception_severity"`
	ExceptionResolvedAt *time.Time `json:"exception_resolved_at"`

	Priority             int        `gorm:"not null;default:3" json:"priority"` // 1 = en acil
	ExpectedDeliveryDate *time.Time `gorm:"index" json:"expected_delivery_date"`
	HoldReason           string     `gorm:"size:255" json:"hold_reason"`
	ReroutedFromBranchID *uint      `json:"rerouted_from_branch_id"`

	ConsolidationID *uint `gorm:"index" json:"consolidation_id"`

	Pieces    int     `gorm:"not null;default:1" json:"pieces"`
	WeightKg  float64 `gorm:"type:decimal(10,3);not null;default:0" json:"weight_kg"`
	VolumeCBM float64 `gorm:"type:decimal(10,4);not null;default:0" json:"volume_cbm"`

	BookedAt             *time.Time `json:"booked_at"`
	PickupScheduledAt    *time.Time `json:"pickup_scheduled_at"`
	PickedUpAt           *time.Time `json:"picked_up_at"`
	OriginHubAt          *time.Time `json:"origin_hub_at"`
	BaggedAt             *time.Time `json:"bagged_at"`
	LinehaulDepartedAt   *time.Time `json:"linehaul_departed_at"`
	LinehaulArrivedAt    *time.Time `json:"linehaul_arrived_at"`
	DestinationHubAt     *time.Time `json:"destination_hub_at"`
	OutForDeliveryAt     *time.Time `json:"out_for_delivery_at"`
	DeliveredAt          *time.Time `json:"delivered_at"`
	PartiallyDeliveredAt *time.Time `json:"partially_delivered_at"`
	FailedDeliveryAt     *time.Time `json:"failed_delivery_at"`
	HeldAt               *time.Time `json:"held_at"`
	ExceptionAt          *time.Time `json:"exception_at"`
	ReturnInitiatedAt    *time.Time `json:"return_initiated_at"`
	ReturnedAt           *time.Time `json:"returned_at"`
	CancelledAt          *time.Time `json:"cancelled_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TouchesBranch reports whether the branch is the shipment's origin or destination.
func (s *Shipment) TouchesBranch(branchID uint) bool {
	return s.OriginBranchID == branchID || s.DestBranchID == branchID
}

// ShipmentStatusHistory: her uygulanan durum geçişi için bir satır.
type ShipmentStatusHistory struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ShipmentID   uint           `gorm:"index;not null" json:"shipment_id"`
	FromStatus   ShipmentStatus `gorm:"size:32" json:"from_status"`
	ToStatus     ShipmentStatus `gorm:"size:32;not null" json:"to_status"`
	Trigger      TriggerSource  `gorm:"size:20;not null" json:"trigger"`
	PerformedBy  uint           `gorm:"index" json:"performed_by"`
	ScanEventID  *uint          `json:"scan_event_id"`
	LocationType LocationType   `gorm:"size:20" json:"location_type"`
	LocationID   uint           `json:"location_id"`
	Forced       bool           `gorm:"default:false" json:"forced"`
	Note         string         `gorm:"size:255" json:"note"`
	OccurredAt   time.Time      `gorm:"index;not null" json:"occurred_at"`
}

func (ShipmentStatusHistory) TableName() string {
	return "shipment_status_history"
}
