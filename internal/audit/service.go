package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"courier-backend/internal/models"
	"courier-backend/internal/store"
)

type LogOptions struct {
	BranchID    *uint
	UserID      uint
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Before      any
	After       any
	At          time.Time
}

// WriteLog appends an audit entry inside the caller's transaction, so the
// entry commits or rolls back together with the change it describes.
func WriteLog(tx store.AuditRepo, opts LogOptions) error {
	// PostgreSQL jsonb için boş string yerine "null" JSON string'i kullanmalıyız
	beforeStr := "null"
	afterStr := "null"

	if opts.Before != nil {
		if b, err := json.Marshal(opts.Before); err == nil {
			beforeStr = string(b)
		}
	}
	if opts.After != nil {
		if b, err := json.Marshal(opts.After); err == nil {
			afterStr = string(b)
		}
	}

	entry := models.AuditLog{
		CreatedAt:   opts.At,
		BranchID:    opts.BranchID,
		UserID:      opts.UserID,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  beforeStr,
		AfterData:   afterStr,
	}

	if err := tx.AppendAudit(&entry); err != nil {
		return fmt.Errorf("audit log: append %s %d: %w", opts.EntityType, opts.EntityID, err)
	}
	return nil
}
