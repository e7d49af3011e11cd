package consolidation

import (
	"context"
	"errors"
	"fmt"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/models"
	"courier-backend/internal/notify"
	"courier-backend/internal/store"

	"go.uber.org/zap"
)

var autoStatuses = []models.ShipmentStatus{models.StatusAtOriginHub, models.StatusBagged}

type AutoFailure struct {
	ShipmentID     uint   `json:"shipment_id"`
	TrackingNumber string `json:"tracking_number"`
	Error          string `json:"error"`
}

type AutoResult struct {
	Consolidated int           `json:"consolidated"`
	Created      int           `json:"created"`
	Touched      []uint        `json:"touched_consolidation_ids"`
	Failures     []AutoFailure `json:"failures"`
}

// AutoConsolidate packs the branch's loose shipments, oldest first, into
// OPEN consolidations bound for the same destination, opening new BBX units
// with default limits when none has room. Each shipment is handled in its
// own transaction; failures are collected and the batch carries on.
func (m *Manager) AutoConsolidate(ctx context.Context, branchID, userID uint) (*AutoResult, error) {
	var candidates []models.Shipment
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := requireBranch(tx, branchID); err != nil {
			return err
		}
		var err error
		candidates, err = tx.ListConsolidationCandidates(branchID, autoStatuses)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("auto consolidate branch %d: %w", branchID, err)
	}

	res := &AutoResult{Touched: []uint{}, Failures: []AutoFailure{}}
	touched := map[uint]bool{}
	// hedef şube -> şu an doldurulan konsolidasyon
	current := map[uint]uint{}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cand := candidates[i]
		if cand.DestBranchID == branchID {
			continue
		}

		var (
			target  uint
			created bool
			events  []notify.Event
		)
		err := m.withReferenceRetry(ctx, func(tx store.Tx) error {
			target, created, events = 0, false, nil
			sh, err := loadShipment(tx, cand.ID)
			if err != nil {
				return err
			}
			at := m.Now()

			c, err := m.pickOpen(tx, branchID, sh.DestBranchID, current[sh.DestBranchID])
			if err != nil {
				return err
			}
			if c != nil {
				events, err = m.add(tx, c, sh, userID, at)
				if !isRetryable(err) {
					target = c.ID
					return err
				}
			}

			dest := sh.DestBranchID
			if c, err = m.create(tx, CreateRequest{
				Type:         models.ConsolidationBBX,
				BranchID:     branchID,
				DestBranchID: &dest,
				CreatedBy:    userID,
			}, at); err != nil {
				return err
			}
			created = true
			target = c.ID
			events, err = m.add(tx, c, sh, userID, at)
			return err
		})
		if err != nil {
			if !apperrors.IsBusiness(err) && !apperrors.IsNotFound(err) {
				return res, err
			}
			m.log.Warn("auto consolidation skipped shipment",
				zap.String("tracking_number", cand.TrackingNumber),
				zap.Error(err))
			res.Failures = append(res.Failures, AutoFailure{ShipmentID: cand.ID, TrackingNumber: cand.TrackingNumber, Error: err.Error()})
			continue
		}

		res.Consolidated++
		if created {
			res.Created++
		}
		current[cand.DestBranchID] = target
		if !touched[target] {
			touched[target] = true
			res.Touched = append(res.Touched, target)
		}
		m.lifecycle.Publish(events...)
	}

	m.log.Info("auto consolidation finished",
		zap.Uint("branch_id", branchID),
		zap.Int("consolidated", res.Consolidated),
		zap.Int("created", res.Created),
		zap.Int("failed", len(res.Failures)))
	return res, nil
}

// pickOpen returns the consolidation being filled for dest, else the oldest
// OPEN one whose cutoff has not passed. nil means a new one is needed.
func (m *Manager) pickOpen(tx store.Tx, branchID, dest, preferred uint) (*models.Consolidation, error) {
	if preferred != 0 {
		c, err := loadConsolidation(tx, preferred)
		if err != nil {
			return nil, err
		}
		if c.Status == models.ConsolidationOpen {
			return c, nil
		}
	}
	open, err := tx.ListOpenConsolidations(branchID, dest)
	if err != nil {
		return nil, fmt.Errorf("list open consolidations: %w", err)
	}
	now := m.Now()
	for _, c := range open {
		if c.CutoffTime != nil && now.After(*c.CutoffTime) {
			continue
		}
		return loadConsolidation(tx, c.ID)
	}
	return nil, nil
}

// isRetryable reports whether the shipment may still fit a fresh consolidation.
func isRetryable(err error) bool {
	var (
		ce *apperrors.CapacityExceededError
		cs *apperrors.InvalidConsolidationStateError
	)
	return errors.As(err, &ce) || errors.As(err, &cs)
}
