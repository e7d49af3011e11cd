package models

import "time"

type ConsolidationType string

const (
	ConsolidationBBX ConsolidationType = "BBX" // bagged box
	ConsolidationLBX ConsolidationType = "LBX" // loose box
)

type ConsolidationStatus string

const (
	ConsolidationOpen            ConsolidationStatus = "OPEN"
	ConsolidationLocked          ConsolidationStatus = "LOCKED"
	ConsolidationDispatched      ConsolidationStatus = "DISPATCHED"
	ConsolidationArrived         ConsolidationStatus = "ARRIVED"
	ConsolidationDeconsolidating ConsolidationStatus = "DECONSOLIDATING"
	ConsolidationClosed          ConsolidationStatus = "CLOSED"
)

// HoldsMembers reports whether member shipments may only move with the unit.
// An OPEN unit already holds them; members leave through remove or release.
func (s ConsolidationStatus) HoldsMembers() bool {
	return s != ConsolidationClosed
}

// Consolidation: anne gönderi (torba/koli).
type Consolidation struct {
	ID                     uint                `gorm:"primaryKey" json:"id"`
	Reference              string              `gorm:"size:32;uniqueIndex;not null" json:"reference"`
	Type                   ConsolidationType   `gorm:"size:10;not null" json:"type"`
	BranchID               uint                `gorm:"index;not null" json:"branch_id"`
	DestBranchID           *uint               `gorm:"index" json:"dest_branch_id"`
	DestinationDescription string              `gorm:"size:255" json:"destination_description"`
	Status                 ConsolidationStatus `gorm:"size:20;index;not null" json:"status"`

	MaxPieces    int        `gorm:"not null;default:0" json:"max_pieces"` // 0 = sınırsız
	MaxWeightKg  float64    `gorm:"type:decimal(10,3);not null;default:0" json:"max_weight_kg"`
	MaxVolumeCBM float64    `gorm:"type:decimal(10,4);not null;default:0" json:"max_volume_cbm"`
	CutoffTime   *time.Time `json:"cutoff_time"`

	CreatedBy                uint       `json:"created_by"`
	LockedBy                 *uint      `json:"locked_by"`
	LockedAt                 *time.Time `json:"locked_at"`
	DispatchedBy             *uint      `json:"dispatched_by"`
	DispatchedAt             *time.Time `json:"dispatched_at"`
	AWBNumber                string     `gorm:"size:64" json:"awb_number"`
	VehicleNumber            string     `gorm:"size:32" json:"vehicle_number"`
	ArrivedBy                *uint      `json:"arrived_by"`
	ArrivedAt                *time.Time `json:"arrived_at"`
	DeconsolidationStartedBy *uint      `json:"deconsolidation_started_by"`
	DeconsolidationStartedAt *time.Time `json:"deconsolidation_started_at"`
	ClosedAt                 *time.Time `json:"closed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConsolidationItem is the consolidation's reference to one baby shipment.
type ConsolidationItem struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ConsolidationID uint       `gorm:"uniqueIndex:idx_consolidation_item;not null" json:"consolidation_id"`
	ShipmentID      uint       `gorm:"uniqueIndex:idx_consolidation_item;index;not null" json:"shipment_id"`
	Pieces          int        `json:"pieces"`
	WeightKg        float64    `gorm:"type:decimal(10,3)" json:"weight_kg"`
	VolumeCBM       float64    `gorm:"type:decimal(10,4)" json:"volume_cbm"`
	AddedBy         uint       `json:"added_by"`
	AddedAt         time.Time  `json:"added_at"`
	ScannedAt       *time.Time `json:"scanned_at"`
	ReleasedAt      *time.Time `json:"released_at"`
}

type DeconsolidationAction string

const (
	DeconsolidationScanned  DeconsolidationAction = "scanned"
	DeconsolidationReleased DeconsolidationAction = "released"
)

// DeconsolidationEvent: append-only audit of the unbundling process.
type DeconsolidationEvent struct {
	ID              uint                  `gorm:"primaryKey" json:"id"`
	ConsolidationID uint                  `gorm:"index;not null" json:"consolidation_id"`
	ShipmentID      uint                  `gorm:"index;not null" json:"shipment_id"`
	Action          DeconsolidationAction `gorm:"size:20;not null" json:"action"`
	PerformedBy     uint                  `json:"performed_by"`
	BranchID        uint                  `json:"branch_id"`
	OccurredAt      time.Time             `gorm:"not null" json:"occurred_at"`
}
