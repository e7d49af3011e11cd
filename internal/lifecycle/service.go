package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/audit"
	"courier-backend/internal/models"
	"courier-backend/internal/notify"
	"courier-backend/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const trackingPrefix = "BRK"

// Service owns every status change of a shipment. Other services reuse Apply
// inside their own transactions so that their writes and the status change
// commit together.
type Service struct {
	store    store.Store
	notifier notify.Notifier
	log      *zap.Logger

	Now func() time.Time
}

func NewService(st store.Store, n notify.Notifier, log *zap.Logger) *Service {
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{store: st, notifier: n, log: log, Now: time.Now}
}

type TransitionContext struct {
	PerformedBy uint
	Trigger     models.TriggerSource
	ScanEventID *uint

	LocationType models.LocationType
	LocationID   uint

	// ActingBranchID, when set, must be the shipment's origin or destination.
	ActingBranchID uint

	At     time.Time // zero means now
	Force  bool
	Reason string

	CODCollected      *decimal.Decimal
	ExceptionCategory string
	ExceptionSeverity string
}

// Outcome describes one Apply call. Applied is false for a same-status no-op.
type Outcome struct {
	Shipment *models.Shipment
	From     models.ShipmentStatus
	Applied  bool
	Events   []notify.Event
}

func (s *Service) Transition(ctx context.Context, shipmentID uint, target models.ShipmentStatus, tc TransitionContext) (*models.Shipment, error) {
	var out Outcome
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		sh, err := loadShipment(tx, shipmentID)
		if err != nil {
			return err
		}
		if tc.ActingBranchID != 0 && !sh.TouchesBranch(tc.ActingBranchID) {
			return &apperrors.UnauthorizedError{BranchID: tc.ActingBranchID, Action: "change status of shipment " + sh.TrackingNumber}
		}
		out, err = s.Apply(tx, sh, target, tc)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Publish(out.Events...)
	return out.Shipment, nil
}

// Check runs every rule Apply enforces without writing anything. noop is
// true when sh is already in target.
func (s *Service) Check(tx store.Tx, sh *models.Shipment, target models.ShipmentStatus, tc TransitionContext) (noop bool, err error) {
	from := sh.Status

	if !target.Valid() {
		return false, apperrors.Validation("status", "unknown status %q", target)
	}
	if tc.CODCollected != nil {
		if target != models.StatusDelivered && target != models.StatusPartialDelivered {
			return false, apperrors.Validation("cod_collected_amount", "COD can only be collected on %s or %s",
				models.StatusDelivered, models.StatusPartialDelivered)
		}
		if tc.CODCollected.IsNegative() {
			return false, apperrors.Validation("cod_collected_amount", "must not be negative")
		}
	}
	if from == target {
		return true, nil
	}

	if !tc.Force && !CanTransition(from, target) {
		e := &apperrors.InvalidTransitionError{ShipmentID: sh.ID, From: string(from), To: string(target)}
		if from.IsTerminal() {
			e.Reason = "terminal status"
		}
		return false, e
	}

	if sh.ConsolidationID != nil && tc.Trigger != models.TriggerConsolidation && IsSoloMovement(target) {
		c, err := tx.GetConsolidation(*sh.ConsolidationID, false)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// zayıf referans; konsolidasyon yoksa engel de yok
		case err != nil:
			return false, fmt.Errorf("load consolidation %d: %w", *sh.ConsolidationID, err)
		case c.Status.HoldsMembers():
			return false, &apperrors.InvalidTransitionError{
				ShipmentID: sh.ID,
				From:       string(from),
				To:         string(target),
				Reason:     fmt.Sprintf("member of %s consolidation %s", c.Status, c.Reference),
			}
		}
	}
	return false, nil
}

// Apply validates and performs a status change on sh within tx. The caller
// must have loaded sh with a row lock and must Publish the returned events
// after commit.
func (s *Service) Apply(tx store.Tx, sh *models.Shipment, target models.ShipmentStatus, tc TransitionContext) (Outcome, error) {
	from := sh.Status
	out := Outcome{Shipment: sh, From: from}

	noop, err := s.Check(tx, sh, target, tc)
	if err != nil || noop {
		return out, err
	}

	at := tc.At
	if at.IsZero() {
		at = s.Now()
	}

	sh.Status = target
	stampLifecycle(sh, target, at)
	applySideEffects(sh, from, target, tc, at)

	if err := tx.SaveShipment(sh); err != nil {
		return out, fmt.Errorf("save shipment %d: %w", sh.ID, err)
	}

	trigger := tc.Trigger
	if trigger == "" {
		trigger = models.TriggerManual
	}
	locType := tc.LocationType
	if locType == "" {
		locType = models.LocationBranch
	}
	hist := models.ShipmentStatusHistory{
		ShipmentID:   sh.ID,
		FromStatus:   from,
		ToStatus:     target,
		Trigger:      trigger,
		PerformedBy:  tc.PerformedBy,
		ScanEventID:  tc.ScanEventID,
		LocationType: locType,
		LocationID:   tc.LocationID,
		Forced:       tc.Force,
		Note:         tc.Reason,
		OccurredAt:   at,
	}
	if err := tx.AppendStatusHistory(&hist); err != nil {
		return out, fmt.Errorf("append status history: %w", err)
	}

	ev := notify.NewEvent(notify.EventStatusChanged, at)
	ev.ShipmentID = sh.ID
	ev.TrackingNumber = sh.TrackingNumber
	ev.From = from
	ev.To = target
	ev.BranchID = tc.LocationID
	ev.Forced = tc.Force

	out.Applied = true
	out.Events = []notify.Event{ev}
	return out, nil
}

// Publish hands committed events to the notifier.
func (s *Service) Publish(events ...notify.Event) {
	for _, e := range events {
		s.log.Debug("shipment event",
			zap.String("type", e.Type),
			zap.String("tracking_number", e.TrackingNumber),
			zap.String("from", string(e.From)),
			zap.String("to", string(e.To)))
		s.notifier.Notify(e)
	}
}

func stampLifecycle(sh *models.Shipment, status models.ShipmentStatus, at time.Time) {
	t := at
	switch status {
	case models.StatusBooked:
		sh.BookedAt = &t
	case models.StatusPickupScheduled:
		sh.PickupScheduledAt = &t
	case models.StatusPickedUp:
		sh.PickedUpAt = &t
	case models.StatusAtOriginHub:
		sh.OriginHubAt = &t
	case models.StatusBagged:
		sh.BaggedAt = &t
	case models.StatusLinehaulDeparted:
		sh.LinehaulDepartedAt = &t
	case models.StatusLinehaulArrived:
		sh.LinehaulArrivedAt = &t
	case models.StatusAtDestinationHub:
		sh.DestinationHubAt = &t
	case models.StatusOutForDelivery:
		sh.OutForDeliveryAt = &t
	case models.StatusDelivered:
		sh.DeliveredAt = &t
	case models.StatusPartialDelivered:
		sh.PartiallyDeliveredAt = &t
	case models.StatusFailedDelivery:
		sh.FailedDeliveryAt = &t
	case models.StatusOnHold:
		sh.HeldAt = &t
	case models.StatusException:
		sh.ExceptionAt = &t
	case models.StatusReturnInitiated:
		sh.ReturnInitiatedAt = &t
	case models.StatusReturnedToSender:
		sh.ReturnedAt = &t
	case models.StatusCancelled:
		sh.CancelledAt = &t
	}
}

func applySideEffects(sh *models.Shipment, from, to models.ShipmentStatus, tc TransitionContext, at time.Time) {
	t := at

	switch to {
	case models.StatusDelivered, models.StatusPartialDelivered:
		switch {
		case tc.CODCollected != nil:
			amt := *tc.CODCollected
			sh.CODCollectedAmount = &amt
			sh.CODCollectedAt = &t
		case to == models.StatusDelivered && sh.CODAmount.IsPositive():
			amt := sh.CODAmount
			sh.CODCollectedAmount = &amt
			sh.CODCollectedAt = &t
		}
	case models.StatusException:
		sh.HasException = true
		sh.ExceptionCategory = tc.ExceptionCategory
		if sh.ExceptionCategory == "" {
			sh.ExceptionCategory = "general"
		}
		sh.ExceptionSeverity = tc.ExceptionSeverity
		if sh.ExceptionSeverity == "" {
			sh.ExceptionSeverity = "medium"
		}
		sh.ExceptionResolvedAt = nil
	case models.StatusOnHold:
		sh.HoldReason = tc.Reason
	}

	if (to == models.StatusDelivered || to == models.StatusReturnedToSender) && sh.HasException {
		sh.HasException = false
		sh.ExceptionResolvedAt = &t
	}

	if from == models.StatusOnHold && to != models.StatusOnHold {
		sh.HeldAt = nil
		sh.HoldReason = ""
	}
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

type BookRequest struct {
	OriginBranchID       uint
	DestBranchID         uint
	BookedBy             uint
	PriceAmount          decimal.Decimal
	Currency             string
	CODAmount            decimal.Decimal
	Priority             int
	ExpectedDeliveryDate *time.Time
	Pieces               int
	WeightKg             float64
	VolumeCBM            float64
}

func (r *BookRequest) validate() error {
	switch {
	case r.OriginBranchID == 0:
		return apperrors.Validation("origin_branch_id", "is required")
	case r.DestBranchID == 0:
		return apperrors.Validation("dest_branch_id", "is required")
	case r.PriceAmount.IsNegative():
		return apperrors.Validation("price_amount", "must not be negative")
	case r.CODAmount.IsNegative():
		return apperrors.Validation("cod_amount", "must not be negative")
	case r.Pieces < 0:
		return apperrors.Validation("pieces", "must not be negative")
	case r.WeightKg < 0:
		return apperrors.Validation("weight_kg", "must not be negative")
	case r.VolumeCBM < 0:
		return apperrors.Validation("volume_cbm", "must not be negative")
	case r.Priority < 0 || r.Priority > 5:
		return apperrors.Validation("priority", "must be between 1 and 5, or 0 for the default")
	}
	if r.Pieces == 0 {
		r.Pieces = 1
	}
	if r.Priority == 0 {
		r.Priority = 3
	}
	if r.Currency == "" {
		r.Currency = "TRY"
	}
	return nil
}

// Book creates a BOOKED shipment with the next tracking number of the day.
// Two concurrent bookings may compute the same number; the loser retries.
func (s *Service) Book(ctx context.Context, req BookRequest) (*models.Shipment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		sh  *models.Shipment
		ev  notify.Event
		err error
	)
	for attempt := 0; attempt < 3; attempt++ {
		err = s.store.RunInTx(ctx, func(tx store.Tx) error {
			for _, id := range []uint{req.OriginBranchID, req.DestBranchID} {
				if _, err := tx.GetBranch(id); errors.Is(err, store.ErrNotFound) {
					return &apperrors.NotFoundError{Entity: "branch", Key: id}
				} else if err != nil {
					return fmt.Errorf("load branch %d: %w", id, err)
				}
			}

			at := s.Now()
			prefix := fmt.Sprintf("%s-%s-", trackingPrefix, at.Format("20060102"))
			n, err := tx.CountTrackingPrefix(prefix)
			if err != nil {
				return fmt.Errorf("count tracking numbers: %w", err)
			}

			bookedAt := at
			sh = &models.Shipment{
				TrackingNumber:       fmt.Sprintf("%s%05d", prefix, n+1),
				OriginBranchID:       req.OriginBranchID,
				DestBranchID:         req.DestBranchID,
				Status:               models.StatusBooked,
				PriceAmount:          req.PriceAmount,
				Currency:             req.Currency,
				CODAmount:            req.CODAmount,
				Priority:             req.Priority,
				ExpectedDeliveryDate: req.ExpectedDeliveryDate,
				Pieces:               req.Pieces,
				WeightKg:             req.WeightKg,
				VolumeCBM:            req.VolumeCBM,
				BookedAt:             &bookedAt,
			}
			if err := tx.CreateShipment(sh); err != nil {
				return fmt.Errorf("create shipment: %w", err)
			}

			hist := models.ShipmentStatusHistory{
				ShipmentID:   sh.ID,
				ToStatus:     models.StatusBooked,
				Trigger:      models.TriggerManual,
				PerformedBy:  req.BookedBy,
				LocationType: models.LocationBranch,
				LocationID:   req.OriginBranchID,
				OccurredAt:   at,
			}
			if err := tx.AppendStatusHistory(&hist); err != nil {
				return fmt.Errorf("append status history: %w", err)
			}

			ev = notify.NewEvent(notify.EventStatusChanged, at)
			ev.ShipmentID = sh.ID
			ev.TrackingNumber = sh.TrackingNumber
			ev.To = models.StatusBooked
			ev.BranchID = req.OriginBranchID
			return nil
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		s.log.Warn("tracking number collision, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}

	s.Publish(ev)
	return sh, nil
}

type RerouteRequest struct {
	ShipmentID      uint
	NewDestBranchID uint
	BranchID        uint
	PerformedBy     uint
}

// Reroute points a live shipment at another destination branch. Members of a
// consolidation must be removed from it first.
func (s *Service) Reroute(ctx context.Context, req RerouteRequest) (*models.Shipment, error) {
	if req.NewDestBranchID == 0 {
		return nil, apperrors.Validation("dest_branch_id", "is required")
	}

	var sh *models.Shipment
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		if sh, err = loadShipment(tx, req.ShipmentID); err != nil {
			return err
		}
		if !sh.TouchesBranch(req.BranchID) {
			return &apperrors.UnauthorizedError{BranchID: req.BranchID, Action: "reroute shipment " + sh.TrackingNumber}
		}
		if sh.Status.IsTerminal() {
			return apperrors.Validation("status", "shipment %s is %s", sh.TrackingNumber, sh.Status)
		}
		if sh.DestBranchID == req.NewDestBranchID {
			return apperrors.Validation("dest_branch_id", "shipment already routed to branch %d", req.NewDestBranchID)
		}
		if sh.ConsolidationID != nil {
			return &apperrors.MembershipConflictError{ShipmentID: sh.ID, ConsolidationID: *sh.ConsolidationID}
		}
		if _, err := tx.GetBranch(req.NewDestBranchID); errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "branch", Key: req.NewDestBranchID}
		} else if err != nil {
			return fmt.Errorf("load branch %d: %w", req.NewDestBranchID, err)
		}

		before := *sh
		previous := sh.DestBranchID
		sh.ReroutedFromBranchID = &previous
		sh.DestBranchID = req.NewDestBranchID
		if err := tx.SaveShipment(sh); err != nil {
			return fmt.Errorf("save shipment %d: %w", sh.ID, err)
		}

		branch := req.BranchID
		return audit.WriteLog(tx, audit.LogOptions{
			BranchID:    &branch,
			UserID:      req.PerformedBy,
			EntityType:  "shipment",
			EntityID:    sh.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("%s yönlendirildi: şube %d -> %d", sh.TrackingNumber, previous, req.NewDestBranchID),
			Before:      before,
			After:       sh,
			At:          s.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return sh, nil
}

type Tracking struct {
	Shipment *models.Shipment               `json:"shipment"`
	History  []models.ShipmentStatusHistory `json:"history"`
	Scans    []models.ScanEvent             `json:"scans"`
}

func (s *Service) Track(ctx context.Context, trackingNumber string) (*Tracking, error) {
	var out Tracking
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		sh, err := tx.GetShipmentByTracking(trackingNumber, false)
		if errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "shipment", Key: trackingNumber}
		}
		if err != nil {
			return fmt.Errorf("load shipment %s: %w", trackingNumber, err)
		}
		out.Shipment = sh
		if out.History, err = tx.ListStatusHistory(sh.ID); err != nil {
			return fmt.Errorf("list status history: %w", err)
		}
		if out.Scans, err = tx.ListScanEvents(sh.ID); err != nil {
			return fmt.Errorf("list scan events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AtRisk lists live shipments at the branch whose expected delivery date
// falls before now+window, most overdue first.
func (s *Service) AtRisk(ctx context.Context, branchID uint, window time.Duration) ([]models.Shipment, error) {
	before := s.Now().Add(window)
	var out []models.Shipment
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListAtRisk(branchID, before)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list at-risk shipments: %w", err)
	}
	return out, nil
}
