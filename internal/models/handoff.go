package models

import "time"

type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "PENDING"
	HandoffApproved  HandoffStatus = "APPROVED"
	HandoffCompleted HandoffStatus = "COMPLETED"
	HandoffRejected  HandoffStatus = "REJECTED"
)

// BranchHandoff: tek gönderinin şubeler arası emanet devri kaydı.
type BranchHandoff struct {
	ID                 uint          `gorm:"primaryKey" json:"id"`
	ShipmentID         uint          `gorm:"index;not null" json:"shipment_id"`
	OriginBranchID     uint          `gorm:"index;not null" json:"origin_branch_id"`
	DestBranchID       uint          `gorm:"index;not null" json:"dest_branch_id"`
	RequestedBy        uint          `gorm:"not null" json:"requested_by"`
	Status             HandoffStatus `gorm:"size:20;index;not null" json:"status"`
	ApprovedBy         *uint         `json:"approved_by"`
	ApprovedAt         *time.Time    `json:"approved_at"`
	RejectedBy         *uint         `json:"rejected_by"`
	RejectedAt         *time.Time    `json:"rejected_at"`
	CompletedBy        *uint         `json:"completed_by"`
	HandoffCompletedAt *time.Time    `json:"handoff_completed_at"`
	Notes              string        `gorm:"size:255" json:"notes"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}
