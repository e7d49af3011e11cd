// Package consolidation bundles baby shipments into a mother unit (bag or
// box) that is locked, dispatched, received and unbundled as one.
//
// A consolidation references its members by shipment id through
// ConsolidationItem rows; each shipment carries the id of the unit it
// currently sits in. Both sides are resolved through the store.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/audit"
	"courier-backend/internal/lifecycle"
	"courier-backend/internal/models"
	"courier-backend/internal/notify"
	"courier-backend/internal/store"

	"go.uber.org/zap"
)

const referencePrefix = "CON"

// Limits caps a consolidation. A zero field means no limit on that dimension.
type Limits struct {
	MaxPieces    int
	MaxWeightKg  float64
	MaxVolumeCBM float64
}

type Manager struct {
	store     store.Store
	lifecycle *lifecycle.Service
	defaults  Limits
	log       *zap.Logger

	Now func() time.Time
}

func NewManager(st store.Store, lc *lifecycle.Service, defaults Limits, log *zap.Logger) *Manager {
	return &Manager{store: st, lifecycle: lc, defaults: defaults, log: log, Now: time.Now}
}

type CreateRequest struct {
	Type                   models.ConsolidationType
	BranchID               uint
	DestBranchID           *uint
	DestinationDescription string
	MaxPieces              int
	MaxWeightKg            float64
	MaxVolumeCBM           float64
	CutoffTime             *time.Time
	CreatedBy              uint
}

// Detail is a consolidation with its member items and unbundling log.
type Detail struct {
	Consolidation *models.Consolidation         `json:"consolidation"`
	Items         []models.ConsolidationItem    `json:"items"`
	Events        []models.DeconsolidationEvent `json:"deconsolidation_events"`
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Consolidation, error) {
	if req.Type == "" {
		req.Type = models.ConsolidationBBX
	}
	if req.Type != models.ConsolidationBBX && req.Type != models.ConsolidationLBX {
		return nil, apperrors.Validation("type", "unknown consolidation type %q", req.Type)
	}
	if req.DestBranchID == nil && req.DestinationDescription == "" {
		return nil, apperrors.Validation("dest_branch_id", "a destination branch or description is required")
	}
	if req.MaxPieces < 0 || req.MaxWeightKg < 0 || req.MaxVolumeCBM < 0 {
		return nil, apperrors.Validation("limits", "capacity limits must not be negative")
	}

	var c *models.Consolidation
	err := m.withReferenceRetry(ctx, func(tx store.Tx) error {
		if err := requireBranch(tx, req.BranchID); err != nil {
			return err
		}
		if req.DestBranchID != nil {
			if *req.DestBranchID == req.BranchID {
				return apperrors.Validation("dest_branch_id", "destination must differ from origin branch")
			}
			if err := requireBranch(tx, *req.DestBranchID); err != nil {
				return err
			}
		}
		var err error
		c, err = m.create(tx, req, m.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("consolidation created",
		zap.String("reference", c.Reference),
		zap.Uint("branch_id", c.BranchID))
	m.publishStep(c, c.CreatedAt)
	return c, nil
}

// create inserts an OPEN consolidation; zero limits fall back to the defaults.
func (m *Manager) create(tx store.Tx, req CreateRequest, at time.Time) (*models.Consolidation, error) {
	prefix := fmt.Sprintf("%s-%s-", referencePrefix, at.Format("20060102"))
	n, err := tx.CountReferencePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("count references: %w", err)
	}

	c := &models.Consolidation{
		Reference:              fmt.Sprintf("%s%04d", prefix, n+1),
		Type:                   req.Type,
		BranchID:               req.BranchID,
		DestBranchID:           req.DestBranchID,
		DestinationDescription: req.DestinationDescription,
		Status:                 models.ConsolidationOpen,
		MaxPieces:              req.MaxPieces,
		MaxWeightKg:            req.MaxWeightKg,
		MaxVolumeCBM:           req.MaxVolumeCBM,
		CutoffTime:             req.CutoffTime,
		CreatedBy:              req.CreatedBy,
	}
	if c.MaxPieces == 0 {
		c.MaxPieces = m.defaults.MaxPieces
	}
	if c.MaxWeightKg == 0 {
		c.MaxWeightKg = m.defaults.MaxWeightKg
	}
	if c.MaxVolumeCBM == 0 {
		c.MaxVolumeCBM = m.defaults.MaxVolumeCBM
	}
	if err := tx.CreateConsolidation(c); err != nil {
		return nil, fmt.Errorf("create consolidation: %w", err)
	}

	branch := c.BranchID
	if err := audit.WriteLog(tx, audit.LogOptions{
		BranchID:    &branch,
		UserID:      req.CreatedBy,
		EntityType:  "consolidation",
		EntityID:    c.ID,
		Action:      models.AuditActionCreate,
		Description: c.Reference + " oluşturuldu",
		After:       c,
		At:          at,
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// withReferenceRetry retries fn when two writers computed the same reference.
func (m *Manager) withReferenceRetry(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = m.store.RunInTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		m.log.Warn("consolidation reference collision, retrying", zap.Int("attempt", attempt+1))
	}
	return err
}

type MemberRequest struct {
	ConsolidationID uint
	ShipmentID      uint
	BranchID        uint
	PerformedBy     uint
}

// AddShipment puts a shipment into an OPEN consolidation. A shipment still at
// the origin hub is bagged on the way in.
func (m *Manager) AddShipment(ctx context.Context, req MemberRequest) (*models.Consolidation, error) {
	var (
		c      *models.Consolidation
		events []notify.Event
	)
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		if c, err = loadConsolidation(tx, req.ConsolidationID); err != nil {
			return err
		}
		if err := atOrigin(c, req.BranchID, "add shipments to"); err != nil {
			return err
		}
		sh, err := loadShipment(tx, req.ShipmentID)
		if err != nil {
			return err
		}
		events, err = m.add(tx, c, sh, req.PerformedBy, m.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	m.lifecycle.Publish(events...)
	return c, nil
}

func (m *Manager) add(tx store.Tx, c *models.Consolidation, sh *models.Shipment, userID uint, at time.Time) ([]notify.Event, error) {
	if c.Status != models.ConsolidationOpen {
		return nil, stateError(c, models.ConsolidationOpen)
	}
	if c.CutoffTime != nil && at.After(*c.CutoffTime) {
		return nil, &apperrors.InvalidConsolidationStateError{
			ConsolidationID: c.ID,
			Current:         string(c.Status),
			Reason:          "cutoff time " + c.CutoffTime.Format(time.RFC3339) + " has passed",
		}
	}

	if sh.ConsolidationID != nil {
		if *sh.ConsolidationID == c.ID {
			return nil, nil
		}
		other, err := tx.GetConsolidation(*sh.ConsolidationID, false)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load consolidation %d: %w", *sh.ConsolidationID, err)
		case other.Status != models.ConsolidationClosed:
			return nil, &apperrors.MembershipConflictError{ShipmentID: sh.ID, ConsolidationID: other.ID}
		}
	}

	if sh.OriginBranchID != c.BranchID {
		return nil, &apperrors.MisroutedError{ShipmentID: sh.ID, BranchID: c.BranchID, Reason: "shipment does not originate at the consolidation branch"}
	}
	if c.DestBranchID != nil && sh.DestBranchID != *c.DestBranchID {
		return nil, &apperrors.MisroutedError{
			ShipmentID: sh.ID,
			BranchID:   c.BranchID,
			Reason:     fmt.Sprintf("shipment is bound for branch %d, consolidation for %d", sh.DestBranchID, *c.DestBranchID),
		}
	}
	if sh.Status != models.StatusAtOriginHub && sh.Status != models.StatusBagged {
		return nil, apperrors.Validation("status", "shipment %s is %s, must be %s or %s",
			sh.TrackingNumber, sh.Status, models.StatusAtOriginHub, models.StatusBagged)
	}

	items, err := tx.ListItems(c.ID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if err := checkCapacity(c, items, sh); err != nil {
		return nil, err
	}

	item := models.ConsolidationItem{
		ConsolidationID: c.ID,
		ShipmentID:      sh.ID,
		Pieces:          sh.Pieces,
		WeightKg:        sh.WeightKg,
		VolumeCBM:       sh.VolumeCBM,
		AddedBy:         userID,
		AddedAt:         at,
	}
	if err := tx.AddItem(&item); err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}

	cid := c.ID
	sh.ConsolidationID = &cid
	var events []notify.Event
	if sh.Status == models.StatusAtOriginHub {
		out, err := m.lifecycle.Apply(tx, sh, models.StatusBagged, m.memberContext(userID, c.BranchID, at, c.Reference))
		if err != nil {
			return nil, err
		}
		events = out.Events
	} else if err := tx.SaveShipment(sh); err != nil {
		return nil, fmt.Errorf("save shipment %d: %w", sh.ID, err)
	}

	branch := c.BranchID
	if err := audit.WriteLog(tx, audit.LogOptions{
		BranchID:    &branch,
		UserID:      userID,
		EntityType:  "consolidation",
		EntityID:    c.ID,
		Action:      models.AuditActionUpdate,
		Description: fmt.Sprintf("%s eklendi: %s", sh.TrackingNumber, c.Reference),
		After:       item,
		At:          at,
	}); err != nil {
		return nil, err
	}
	return events, nil
}

// checkCapacity fails on the first dimension the new shipment would push past its limit.
func checkCapacity(c *models.Consolidation, items []models.ConsolidationItem, sh *models.Shipment) error {
	var (
		pieces int
		weight float64
		volume float64
	)
	for _, it := range items {
		if it.ReleasedAt != nil {
			continue
		}
		pieces += it.Pieces
		weight += it.WeightKg
		volume += it.VolumeCBM
	}

	const eps = 1e-9
	switch {
	case c.MaxPieces > 0 && pieces+sh.Pieces > c.MaxPieces:
		return &apperrors.CapacityExceededError{ConsolidationID: c.ID, Dimension: "pieces", Limit: float64(c.MaxPieces), Requested: float64(pieces + sh.Pieces)}
	case c.MaxWeightKg > 0 && weight+sh.WeightKg > c.MaxWeightKg+eps:
		return &apperrors.CapacityExceededError{ConsolidationID: c.ID, Dimension: "weight_kg", Limit: c.MaxWeightKg, Requested: weight + sh.WeightKg}
	case c.MaxVolumeCBM > 0 && volume+sh.VolumeCBM > c.MaxVolumeCBM+eps:
		return &apperrors.CapacityExceededError{ConsolidationID: c.ID, Dimension: "volume_cbm", Limit: c.MaxVolumeCBM, Requested: volume + sh.VolumeCBM}
	}
	return nil
}

func (m *Manager) RemoveShipment(ctx context.Context, req MemberRequest) (*models.Consolidation, error) {
	var (
		c      *models.Consolidation
		events []notify.Event
	)
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		if c, err = loadConsolidation(tx, req.ConsolidationID); err != nil {
			return err
		}
		if err := atOrigin(c, req.BranchID, "remove shipments from"); err != nil {
			return err
		}
		if c.Status != models.ConsolidationOpen {
			return stateError(c, models.ConsolidationOpen)
		}
		item, err := loadItem(tx, c, req.ShipmentID)
		if err != nil {
			return err
		}
		sh, err := loadShipment(tx, req.ShipmentID)
		if err != nil {
			return err
		}
		if err := tx.DeleteItem(c.ID, sh.ID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}

		at := m.Now()
		sh.ConsolidationID = nil
		if sh.Status == models.StatusBagged {
			out, err := m.lifecycle.Apply(tx, sh, models.StatusAtOriginHub, m.memberContext(req.PerformedBy, c.BranchID, at, c.Reference))
			if err != nil {
				return err
			}
			events = out.Events
		} else if err := tx.SaveShipment(sh); err != nil {
			return fmt.Errorf("save shipment %d: %w", sh.ID, err)
		}

		branch := c.BranchID
		return audit.WriteLog(tx, audit.LogOptions{
			BranchID:    &branch,
			UserID:      req.PerformedBy,
			EntityType:  "consolidation",
			EntityID:    c.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("%s çıkarıldı: %s", sh.TrackingNumber, c.Reference),
			Before:      item,
			At:          at,
		})
	})
	if err != nil {
		return nil, err
	}
	m.lifecycle.Publish(events...)
	return c, nil
}

type StepRequest struct {
	ConsolidationID uint
	BranchID        uint
	PerformedBy     uint
}

// Lock freezes membership. An empty consolidation cannot be locked. Members
// unbagged at the origin hub are bagged again; a member in any other status
// must be removed first, otherwise the unit could never depart.
func (m *Manager) Lock(ctx context.Context, req StepRequest) (*models.Consolidation, error) {
	return m.step(ctx, req, stepLock, func(tx store.Tx, c *models.Consolidation, at time.Time) ([]notify.Event, error) {
		items, err := tx.ListItems(c.ID)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		if len(items) == 0 {
			return nil, &apperrors.InvalidConsolidationStateError{ConsolidationID: c.ID, Current: string(c.Status), Reason: "cannot lock an empty consolidation"}
		}
		var events []notify.Event
		for _, item := range items {
			sh, err := loadShipment(tx, item.ShipmentID)
			if err != nil {
				return nil, err
			}
			switch sh.Status {
			case models.StatusBagged:
			case models.StatusAtOriginHub:
				out, err := m.lifecycle.Apply(tx, sh, models.StatusBagged, m.memberContext(req.PerformedBy, c.BranchID, at, c.Reference))
				if err != nil {
					return nil, err
				}
				events = append(events, out.Events...)
			default:
				return nil, &apperrors.InvalidConsolidationStateError{
					ConsolidationID: c.ID,
					Current:         string(c.Status),
					Reason:          fmt.Sprintf("member %s is %s; remove it before locking", sh.TrackingNumber, sh.Status),
				}
			}
		}
		by := req.PerformedBy
		c.LockedBy = &by
		c.LockedAt = &at
		return events, nil
	})
}

type DispatchRequest struct {
	StepRequest
	AWBNumber     string
	VehicleNumber string
}

// Dispatch records the physical departure and moves every member to
// LINEHAUL_DEPARTED. A member that cannot legally depart fails the dispatch.
func (m *Manager) Dispatch(ctx context.Context, req DispatchRequest) (*models.Consolidation, error) {
	return m.step(ctx, req.StepRequest, stepDispatch, func(tx store.Tx, c *models.Consolidation, at time.Time) ([]notify.Event, error) {
		by := req.PerformedBy
		c.DispatchedBy = &by
		c.DispatchedAt = &at
		c.AWBNumber = req.AWBNumber
		c.VehicleNumber = req.VehicleNumber
		return m.moveMembers(tx, c, models.StatusLinehaulDeparted, req.PerformedBy, c.BranchID, at, true)
	})
}

// MarkArrived records hub receipt. Members still in LINEHAUL_DEPARTED move to
// LINEHAUL_ARRIVED; a member held or in exception keeps its status.
func (m *Manager) MarkArrived(ctx context.Context, req StepRequest) (*models.Consolidation, error) {
	return m.step(ctx, req, stepArrive, func(tx store.Tx, c *models.Consolidation, at time.Time) ([]notify.Event, error) {
		by := req.PerformedBy
		c.ArrivedBy = &by
		c.ArrivedAt = &at
		return m.moveMembers(tx, c, models.StatusLinehaulArrived, req.PerformedBy, req.BranchID, at, false)
	})
}

func (m *Manager) StartDeconsolidation(ctx context.Context, req StepRequest) (*models.Consolidation, error) {
	return m.step(ctx, req, stepDeconsolidate, func(_ store.Tx, c *models.Consolidation, at time.Time) ([]notify.Event, error) {
		by := req.PerformedBy
		c.DeconsolidationStartedBy = &by
		c.DeconsolidationStartedAt = &at
		return nil, nil
	})
}

type stepKind struct {
	from, to     models.ConsolidationStatus
	action       models.AuditAction
	verb         string
	atDestBranch bool
}

var (
	stepLock          = stepKind{models.ConsolidationOpen, models.ConsolidationLocked, models.AuditActionLock, "lock", false}
	stepDispatch      = stepKind{models.ConsolidationLocked, models.ConsolidationDispatched, models.AuditActionDispatch, "dispatch", false}
	stepArrive        = stepKind{models.ConsolidationDispatched, models.ConsolidationArrived, models.AuditActionArrive, "receive", true}
	stepDeconsolidate = stepKind{models.ConsolidationArrived, models.ConsolidationDeconsolidating, models.AuditActionUpdate, "deconsolidate", true}
)

// step runs one edge of the linear consolidation state machine.
func (m *Manager) step(ctx context.Context, req StepRequest, k stepKind,
	apply func(tx store.Tx, c *models.Consolidation, at time.Time) ([]notify.Event, error)) (*models.Consolidation, error) {
	var (
		c      *models.Consolidation
		at     time.Time
		events []notify.Event
	)
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		if c, err = loadConsolidation(tx, req.ConsolidationID); err != nil {
			return err
		}
		if k.atDestBranch {
			err = atDestination(c, req.BranchID, k.verb)
		} else {
			err = atOrigin(c, req.BranchID, k.verb)
		}
		if err != nil {
			return err
		}
		if c.Status != k.from {
			return stateError(c, k.from)
		}

		before := *c
		at = m.Now()
		c.Status = k.to
		if events, err = apply(tx, c, at); err != nil {
			return err
		}
		if err := tx.SaveConsolidation(c); err != nil {
			return fmt.Errorf("save consolidation %d: %w", c.ID, err)
		}

		branch := req.BranchID
		return audit.WriteLog(tx, audit.LogOptions{
			BranchID:    &branch,
			UserID:      req.PerformedBy,
			EntityType:  "consolidation",
			EntityID:    c.ID,
			Action:      k.action,
			Description: fmt.Sprintf("%s: %s -> %s", c.Reference, k.from, k.to),
			Before:      before,
			After:       c,
			At:          at,
		})
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("consolidation status changed",
		zap.String("reference", c.Reference),
		zap.String("from", string(k.from)),
		zap.String("to", string(k.to)))
	m.lifecycle.Publish(events...)
	m.publishStep(c, at)
	return c, nil
}

// moveMembers carries unreleased members along with the unit. With strict
// set, a member that cannot take the edge aborts the whole step.
func (m *Manager) moveMembers(tx store.Tx, c *models.Consolidation, target models.ShipmentStatus, userID, branchID uint, at time.Time, strict bool) ([]notify.Event, error) {
	items, err := tx.ListItems(c.ID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	var events []notify.Event
	for _, it := range items {
		if it.ReleasedAt != nil {
			continue
		}
		sh, err := loadShipment(tx, it.ShipmentID)
		if err != nil {
			return nil, err
		}
		if !strict && sh.Status != target && !lifecycle.CanTransition(sh.Status, target) {
			m.log.Warn("member left behind",
				zap.String("reference", c.Reference),
				zap.String("tracking_number", sh.TrackingNumber),
				zap.String("status", string(sh.Status)),
				zap.String("target", string(target)))
			continue
		}
		out, err := m.lifecycle.Apply(tx, sh, target, m.memberContext(userID, branchID, at, c.Reference))
		if err != nil {
			return nil, err
		}
		events = append(events, out.Events...)
	}
	return events, nil
}

type BabyRequest struct {
	ConsolidationID uint
	ShipmentID      uint
	BranchID        uint
	PerformedBy     uint
}

// ScanBabyShipment marks a member as physically taken out of the unit. It
// does not change the shipment's status; scanning twice is a no-op.
func (m *Manager) ScanBabyShipment(ctx context.Context, req BabyRequest) (*models.ConsolidationItem, error) {
	var item *models.ConsolidationItem
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		c, err := loadConsolidation(tx, req.ConsolidationID)
		if err != nil {
			return err
		}
		if err := atDestination(c, req.BranchID, "scan members of"); err != nil {
			return err
		}
		if c.Status != models.ConsolidationDeconsolidating {
			return stateError(c, models.ConsolidationDeconsolidating)
		}
		if item, err = loadItem(tx, c, req.ShipmentID); err != nil {
			return err
		}
		if item.ScannedAt != nil {
			return nil
		}

		at := m.Now()
		item.ScannedAt = &at
		if err := tx.SaveItem(item); err != nil {
			return fmt.Errorf("save item: %w", err)
		}
		return tx.AppendDeconsolidationEvent(&models.DeconsolidationEvent{
			ConsolidationID: c.ID,
			ShipmentID:      req.ShipmentID,
			Action:          models.DeconsolidationScanned,
			PerformedBy:     req.PerformedBy,
			BranchID:        req.BranchID,
			OccurredAt:      at,
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

type ReleaseResult struct {
	Consolidation *models.Consolidation `json:"consolidation"`
	Shipment      *models.Shipment      `json:"shipment"`
}

// ReleaseBabyShipment hands a scanned member back to its own lifecycle at
// the destination hub. Releasing the last member closes the consolidation.
func (m *Manager) ReleaseBabyShipment(ctx context.Context, req BabyRequest) (*ReleaseResult, error) {
	var (
		res    ReleaseResult
		events []notify.Event
		closed bool
	)
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		c, err := loadConsolidation(tx, req.ConsolidationID)
		if err != nil {
			return err
		}
		if err := atDestination(c, req.BranchID, "release members of"); err != nil {
			return err
		}
		if c.Status != models.ConsolidationDeconsolidating {
			return stateError(c, models.ConsolidationDeconsolidating)
		}
		item, err := loadItem(tx, c, req.ShipmentID)
		if err != nil {
			return err
		}
		if item.ReleasedAt != nil {
			return apperrors.Validation("shipment_id", "shipment %d already released from %s", req.ShipmentID, c.Reference)
		}
		if item.ScannedAt == nil {
			return apperrors.Validation("shipment_id", "shipment %d must be scanned before release", req.ShipmentID)
		}
		sh, err := loadShipment(tx, req.ShipmentID)
		if err != nil {
			return err
		}

		at := m.Now()
		item.ReleasedAt = &at
		if err := tx.SaveItem(item); err != nil {
			return fmt.Errorf("save item: %w", err)
		}
		if err := tx.AppendDeconsolidationEvent(&models.DeconsolidationEvent{
			ConsolidationID: c.ID,
			ShipmentID:      sh.ID,
			Action:          models.DeconsolidationReleased,
			PerformedBy:     req.PerformedBy,
			BranchID:        req.BranchID,
			OccurredAt:      at,
		}); err != nil {
			return fmt.Errorf("append deconsolidation event: %w", err)
		}

		sh.ConsolidationID = nil
		out, err := m.lifecycle.Apply(tx, sh, models.StatusAtDestinationHub, m.memberContext(req.PerformedBy, req.BranchID, at, c.Reference))
		if err != nil {
			return err
		}
		if !out.Applied {
			if err := tx.SaveShipment(sh); err != nil {
				return fmt.Errorf("save shipment %d: %w", sh.ID, err)
			}
		}
		events = out.Events

		items, err := tx.ListItems(c.ID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		remaining := 0
		for _, it := range items {
			if it.ReleasedAt == nil {
				remaining++
			}
		}

		branch := req.BranchID
		before := *c
		if remaining == 0 {
			c.Status = models.ConsolidationClosed
			c.ClosedAt = &at
			if err := tx.SaveConsolidation(c); err != nil {
				return fmt.Errorf("save consolidation %d: %w", c.ID, err)
			}
			closed = true
		}
		if err := audit.WriteLog(tx, audit.LogOptions{
			BranchID:    &branch,
			UserID:      req.PerformedBy,
			EntityType:  "consolidation",
			EntityID:    c.ID,
			Action:      models.AuditActionRelease,
			Description: fmt.Sprintf("%s serbest bırakıldı: %s (%d kaldı)", sh.TrackingNumber, c.Reference, remaining),
			Before:      before,
			After:       c,
			At:          at,
		}); err != nil {
			return err
		}

		res.Consolidation = c
		res.Shipment = sh
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.lifecycle.Publish(events...)
	if closed {
		m.log.Info("consolidation closed", zap.String("reference", res.Consolidation.Reference))
		m.publishStep(res.Consolidation, *res.Consolidation.ClosedAt)
	}
	return &res, nil
}

func (m *Manager) Get(ctx context.Context, id uint) (*Detail, error) {
	var d Detail
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetConsolidation(id, false)
		if errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "consolidation", Key: id}
		}
		if err != nil {
			return fmt.Errorf("load consolidation %d: %w", id, err)
		}
		d.Consolidation = c
		if d.Items, err = tx.ListItems(id); err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		if d.Events, err = tx.ListDeconsolidationEvents(id); err != nil {
			return fmt.Errorf("list deconsolidation events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (m *Manager) memberContext(userID, branchID uint, at time.Time, reference string) lifecycle.TransitionContext {
	return lifecycle.TransitionContext{
		PerformedBy:  userID,
		Trigger:      models.TriggerConsolidation,
		LocationType: models.LocationBranch,
		LocationID:   branchID,
		At:           at,
		Reason:       reference,
	}
}

func (m *Manager) publishStep(c *models.Consolidation, at time.Time) {
	ev := notify.NewEvent(notify.EventConsolidationStep, at)
	ev.Reference = c.Reference
	ev.BranchID = c.BranchID
	m.lifecycle.Publish(ev)
}

func loadConsolidation(tx store.Tx, id uint) (*models.Consolidation, error) {
	c, err := tx.GetConsolidation(id, true)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apperrors.NotFoundError{Entity: "consolidation", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load consolidation %d: %w", id, err)
	}
	return c, nil
}

func loadShipment(tx store.Tx, id uint) (*models.Shipment, error) {
	sh, err := tx.GetShipment(id, true)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apperrors.NotFoundError{Entity: "shipment", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load shipment %d: %w", id, err)
	}
	return sh, nil
}

func loadItem(tx store.Tx, c *models.Consolidation, shipmentID uint) (*models.ConsolidationItem, error) {
	item, err := tx.GetItem(c.ID, shipmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apperrors.NotFoundError{Entity: "consolidation member", Key: fmt.Sprintf("%s/%d", c.Reference, shipmentID)}
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	return item, nil
}

func requireBranch(tx store.Tx, id uint) error {
	if _, err := tx.GetBranch(id); errors.Is(err, store.ErrNotFound) {
		return &apperrors.NotFoundError{Entity: "branch", Key: id}
	} else if err != nil {
		return fmt.Errorf("load branch %d: %w", id, err)
	}
	return nil
}

func atOrigin(c *models.Consolidation, branchID uint, verb string) error {
	if c.BranchID != branchID {
		return &apperrors.UnauthorizedError{BranchID: branchID, Action: verb + " consolidation " + c.Reference}
	}
	return nil
}

// atDestination gates receiving-side operations. Units bound for an external
// destination have no receiving branch to check.
func atDestination(c *models.Consolidation, branchID uint, verb string) error {
	if c.DestBranchID != nil && *c.DestBranchID != branchID {
		return &apperrors.UnauthorizedError{BranchID: branchID, Action: verb + " consolidation " + c.Reference}
	}
	return nil
}

func stateError(c *models.Consolidation, required models.ConsolidationStatus) error {
	return &apperrors.InvalidConsolidationStateError{
		ConsolidationID: c.ID,
		Current:         string(c.Status),
		Required:        string(required),
	}
}
