// Package handoff records ad-hoc custody transfers of a single shipment
// between branches. A handoff is advisory: it never changes the shipment's
// status, which keeps following scans and manual transitions.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/audit"
	"courier-backend/internal/models"
	"courier-backend/internal/store"

	"go.uber.org/zap"
)

type Service struct {
	store store.Store
	log   *zap.Logger

	Now func() time.Time
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log, Now: time.Now}
}

type Request struct {
	ShipmentID     uint
	OriginBranchID uint
	DestBranchID   uint
	RequestedBy    uint
	Notes          string
}

// Request opens a PENDING handoff. Only one PENDING handoff may exist per shipment.
func (s *Service) Request(ctx context.Context, req Request) (*models.BranchHandoff, error) {
	if req.DestBranchID == 0 {
		return nil, apperrors.Validation("dest_branch_id", "is required")
	}
	if req.DestBranchID == req.OriginBranchID {
		return nil, apperrors.Validation("dest_branch_id", "must differ from the origin branch")
	}

	var h *models.BranchHandoff
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		sh, err := tx.GetShipment(req.ShipmentID, true)
		if errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "shipment", Key: req.ShipmentID}
		}
		if err != nil {
			return fmt.Errorf("load shipment %d: %w", req.ShipmentID, err)
		}
		if !sh.TouchesBranch(req.OriginBranchID) {
			return &apperrors.UnauthorizedError{BranchID: req.OriginBranchID, Action: "hand off shipment " + sh.TrackingNumber}
		}
		if sh.Status.IsTerminal() {
			return apperrors.Validation("shipment_id", "shipment %s is %s", sh.TrackingNumber, sh.Status)
		}
		if _, err := tx.GetBranch(req.DestBranchID); errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "branch", Key: req.DestBranchID}
		} else if err != nil {
			return fmt.Errorf("load branch %d: %w", req.DestBranchID, err)
		}

		pending, err := tx.HasPendingHandoff(sh.ID)
		if err != nil {
			return fmt.Errorf("check pending handoffs: %w", err)
		}
		if pending {
			return apperrors.Validation("shipment_id", "shipment %s already has a pending handoff", sh.TrackingNumber)
		}

		h = &models.BranchHandoff{
			ShipmentID:     sh.ID,
			OriginBranchID: req.OriginBranchID,
			DestBranchID:   req.DestBranchID,
			RequestedBy:    req.RequestedBy,
			Status:         models.HandoffPending,
			Notes:          strings.TrimSpace(req.Notes),
		}
		if err := tx.CreateHandoff(h); err != nil {
			return fmt.Errorf("create handoff: %w", err)
		}
		return writeLog(tx, h, req.OriginBranchID, req.RequestedBy, models.AuditActionCreate, nil, s.Now())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("handoff requested",
		zap.Uint("handoff_id", h.ID),
		zap.Uint("shipment_id", h.ShipmentID),
		zap.Uint("dest_branch_id", h.DestBranchID))
	return h, nil
}

type Decision struct {
	HandoffID   uint
	BranchID    uint
	PerformedBy uint
}

// Approve is the receiving branch accepting custody.
func (s *Service) Approve(ctx context.Context, d Decision) (*models.BranchHandoff, error) {
	return s.move(ctx, d, models.HandoffPending, models.AuditActionApprove, func(h *models.BranchHandoff, at time.Time) error {
		if d.BranchID != h.DestBranchID {
			return &apperrors.UnauthorizedError{BranchID: d.BranchID, Action: fmt.Sprintf("approve handoff %d", h.ID)}
		}
		by := d.PerformedBy
		h.Status = models.HandoffApproved
		h.ApprovedBy = &by
		h.ApprovedAt = &at
		return nil
	})
}

func (s *Service) Reject(ctx context.Context, d Decision) (*models.BranchHandoff, error) {
	return s.move(ctx, d, models.HandoffPending, models.AuditActionReject, func(h *models.BranchHandoff, at time.Time) error {
		if d.BranchID != h.DestBranchID {
			return &apperrors.UnauthorizedError{BranchID: d.BranchID, Action: fmt.Sprintf("reject handoff %d", h.ID)}
		}
		by := d.PerformedBy
		h.Status = models.HandoffRejected
		h.RejectedBy = &by
		h.RejectedAt = &at
		return nil
	})
}

// Complete closes an approved handoff from either side of the transfer.
func (s *Service) Complete(ctx context.Context, d Decision) (*models.BranchHandoff, error) {
	return s.move(ctx, d, models.HandoffApproved, models.AuditActionComplete, func(h *models.BranchHandoff, at time.Time) error {
		if d.BranchID != h.OriginBranchID && d.BranchID != h.DestBranchID {
			return &apperrors.UnauthorizedError{BranchID: d.BranchID, Action: fmt.Sprintf("complete handoff %d", h.ID)}
		}
		by := d.PerformedBy
		h.Status = models.HandoffCompleted
		h.CompletedBy = &by
		h.HandoffCompletedAt = &at
		return nil
	})
}

func (s *Service) move(ctx context.Context, d Decision, required models.HandoffStatus, action models.AuditAction,
	apply func(h *models.BranchHandoff, at time.Time) error) (*models.BranchHandoff, error) {
	var h *models.BranchHandoff
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		h, err = tx.GetHandoff(d.HandoffID, true)
		if errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "handoff", Key: d.HandoffID}
		}
		if err != nil {
			return fmt.Errorf("load handoff %d: %w", d.HandoffID, err)
		}

		before := *h
		at := s.Now()
		if err := apply(h, at); err != nil {
			return err
		}
		// yetki kontrolü durumdan önce: başka şube durumu öğrenemesin
		if before.Status != required {
			*h = before
			return &apperrors.InvalidHandoffStateError{HandoffID: h.ID, Current: string(before.Status), Required: string(required)}
		}
		if err := tx.SaveHandoff(h); err != nil {
			return fmt.Errorf("save handoff %d: %w", h.ID, err)
		}
		return writeLog(tx, h, d.BranchID, d.PerformedBy, action, &before, at)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("handoff status changed",
		zap.Uint("handoff_id", h.ID),
		zap.String("status", string(h.Status)))
	return h, nil
}

func writeLog(tx store.Tx, h *models.BranchHandoff, branchID, userID uint, action models.AuditAction, before *models.BranchHandoff, at time.Time) error {
	var b any
	if before != nil {
		b = before
	}
	return audit.WriteLog(tx, audit.LogOptions{
		BranchID:    &branchID,
		UserID:      userID,
		EntityType:  "handoff",
		EntityID:    h.ID,
		Action:      action,
		Description: fmt.Sprintf("gönderi %d: şube %d -> %d (%s)", h.ShipmentID, h.OriginBranchID, h.DestBranchID, h.Status),
		Before:      b,
		After:       h,
		At:          at,
	})
}
