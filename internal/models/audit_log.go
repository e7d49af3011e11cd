package models

import "time"

type AuditAction string

const (
	AuditActionCreate   AuditAction = "create"
	AuditActionUpdate   AuditAction = "update"
	AuditActionAssign   AuditAction = "assign"
	AuditActionLock     AuditAction = "lock"
	AuditActionDispatch AuditAction = "dispatch"
	AuditActionArrive   AuditAction = "arrive"
	AuditActionRelease  AuditAction = "release"
	AuditActionApprove  AuditAction = "approve"
	AuditActionReject   AuditAction = "reject"
	AuditActionComplete AuditAction = "complete"
)

// AuditLog is append-only; entries are never edited after insert.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Hangi şube?
	BranchID *uint `gorm:"index" json:"branch_id"`

	// Hangi kullanıcı?
	UserID uint `json:"user_id"`

	// Hangi entity? (ör: "shipment", "consolidation", "handoff")
	EntityType string `gorm:"size:50;index" json:"entity_type"`
	EntityID   uint   `gorm:"index" json:"entity_id"`

	Action AuditAction `gorm:"size:20" json:"action"`

	// Opsiyonel açıklama (küçük bir özet)
	Description string `gorm:"size:255" json:"description"`

	// Önceki ve sonraki hal (JSON)
	BeforeData string `gorm:"type:jsonb" json:"before_data"`
	AfterData  string `gorm:"type:jsonb" json:"after_data"`
}
