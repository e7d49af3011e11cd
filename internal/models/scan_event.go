package models

import (
	"time"

	"gorm.io/datatypes"
)

type ScanType string

const (
	ScanBagged             ScanType = "BAGGED"
	ScanLinehaulDeparted   ScanType = "LINEHAUL_DEPARTED"
	ScanDestinationArrival ScanType = "DESTINATION_ARRIVAL"
	ScanOutForDelivery     ScanType = "OUT_FOR_DELIVERY"
	ScanDeliveryConfirmed  ScanType = "DELIVERY_CONFIRMED"
	ScanReturnInitiated    ScanType = "RETURN_INITIATED"
)

// ScanEvent is an immutable physical scan fact. Rejected scans are stored too.
type ScanEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	EventUID     string         `gorm:"size:36;uniqueIndex;not null" json:"event_uid"`
	Barcode      string         `gorm:"size:64;index;not null" json:"barcode"`
	ShipmentID   uint           `gorm:"index;not null" json:"shipment_id"`
	BranchID     uint           `gorm:"index;not null" json:"branch_id"`
	Mode         string         `gorm:"size:20;not null" json:"mode"`
	ScanType     ScanType       `gorm:"size:32;not null" json:"scan_type"`
	StatusBefore ShipmentStatus `gorm:"size:32" json:"status_before"`
	StatusAfter  ShipmentStatus `gorm:"size:32" json:"status_after"`
	Accepted     bool           `json:"accepted"`
	Rejection    string         `gorm:"size:255" json:"rejection"`
	UserID       uint           `gorm:"index" json:"user_id"`
	OccurredAt   time.Time      `gorm:"index;not null" json:"occurred_at"`
	Payload      datatypes.JSON `json:"payload"`
}
