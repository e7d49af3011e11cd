package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/lifecycle"
	"courier-backend/internal/models"
	"courier-backend/internal/notify"
	"courier-backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Mode string

const (
	ModeBag      Mode = "bag"
	ModeLoad     Mode = "load"
	ModeUnload   Mode = "unload"
	ModeRoute    Mode = "route"
	ModeDelivery Mode = "delivery"
	ModeReturns  Mode = "returns"
)

type rule struct {
	scanType models.ScanType
	target   models.ShipmentStatus
}

var modeTable = map[Mode]rule{
	ModeBag:      {models.ScanBagged, models.StatusBagged},
	ModeLoad:     {models.ScanLinehaulDeparted, models.StatusLinehaulDeparted},
	ModeUnload:   {models.ScanDestinationArrival, models.StatusAtDestinationHub},
	ModeRoute:    {models.ScanOutForDelivery, models.StatusOutForDelivery},
	ModeDelivery: {models.ScanDeliveryConfirmed, models.StatusDelivered},
	ModeReturns:  {models.ScanReturnInitiated, models.StatusReturnInitiated},
}

type ScanRequest struct {
	TrackingNumber string
	Mode           Mode
	BranchID       uint
	UserID         uint
	Payload        json.RawMessage
}

type ScanResult struct {
	Scan     models.ScanEvent `json:"scan"`
	Shipment *models.Shipment `json:"shipment"`
	Forced   bool             `json:"forced"`
}

// Recorder turns physical scans into status changes. Every scan of a known
// shipment is stored, including the ones the lifecycle rejects.
type Recorder struct {
	store     store.Store
	lifecycle *lifecycle.Service
	notifier  notify.Notifier
	log       *zap.Logger

	Now func() time.Time
}

func NewRecorder(st store.Store, lc *lifecycle.Service, n notify.Notifier, log *zap.Logger) *Recorder {
	if n == nil {
		n = notify.Nop{}
	}
	return &Recorder{store: st, lifecycle: lc, notifier: n, log: log, Now: time.Now}
}

// RecordScan returns the stored scan together with the business error that
// caused its rejection, if any.
func (r *Recorder) RecordScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	req.TrackingNumber = strings.TrimSpace(req.TrackingNumber)
	req.Mode = Mode(strings.ToLower(string(req.Mode)))

	if req.TrackingNumber == "" {
		return nil, apperrors.Validation("tracking_number", "is required")
	}
	rl, ok := modeTable[req.Mode]
	if !ok {
		return nil, apperrors.Validation("mode", "unknown scan mode %q", req.Mode)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, apperrors.Validation("payload", "must be valid JSON")
	}

	var (
		res       ScanResult
		rejection error
		events    []notify.Event
	)
	err := r.store.RunInTx(ctx, func(tx store.Tx) error {
		sh, err := tx.GetShipmentByTracking(req.TrackingNumber, true)
		if errors.Is(err, store.ErrNotFound) {
			return &apperrors.NotFoundError{Entity: "shipment", Key: req.TrackingNumber}
		}
		if err != nil {
			return fmt.Errorf("load shipment %s: %w", req.TrackingNumber, err)
		}

		at := r.Now()
		ev := models.ScanEvent{
			EventUID:     uuid.NewString(),
			Barcode:      req.TrackingNumber,
			ShipmentID:   sh.ID,
			BranchID:     req.BranchID,
			Mode:         string(req.Mode),
			ScanType:     rl.scanType,
			StatusBefore: sh.Status,
			StatusAfter:  sh.Status,
			Accepted:     true,
			UserID:       req.UserID,
			OccurredAt:   at,
		}
		if len(req.Payload) > 0 {
			ev.Payload = datatypes.JSON(req.Payload)
		}

		tc := lifecycle.TransitionContext{
			PerformedBy:  req.UserID,
			Trigger:      models.TriggerScan,
			LocationType: models.LocationBranch,
			LocationID:   req.BranchID,
			At:           at,
		}

		var noop bool
		noop, rejection, err = r.precheck(tx, sh, req, rl, &tc)
		if err != nil {
			return err
		}
		if rejection != nil {
			ev.Accepted = false
			ev.Rejection = rejection.Error()
			if err := tx.AppendScanEvent(&ev); err != nil {
				return fmt.Errorf("append scan event: %w", err)
			}
			res = ScanResult{Scan: ev, Shipment: sh}
			return nil
		}

		if !noop {
			ev.StatusAfter = rl.target
		}
		if err := tx.AppendScanEvent(&ev); err != nil {
			return fmt.Errorf("append scan event: %w", err)
		}
		tc.ScanEventID = &ev.ID

		out, err := r.lifecycle.Apply(tx, sh, rl.target, tc)
		if err != nil {
			return err
		}
		res = ScanResult{Scan: ev, Shipment: out.Shipment, Forced: tc.Force}
		events = out.Events
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rejection != nil {
		var dup *apperrors.DuplicateScanError
		if errors.As(rejection, &dup) {
			r.log.Warn("duplicate delivery scan",
				zap.String("tracking_number", req.TrackingNumber),
				zap.Uint("branch_id", req.BranchID),
				zap.Uint("user_id", req.UserID))
			e := notify.NewEvent(notify.EventDuplicateScan, res.Scan.OccurredAt)
			e.ShipmentID = res.Scan.ShipmentID
			e.TrackingNumber = req.TrackingNumber
			e.BranchID = req.BranchID
			r.notifier.Notify(e)
		} else {
			r.log.Info("scan rejected",
				zap.String("tracking_number", req.TrackingNumber),
				zap.String("mode", string(req.Mode)),
				zap.Error(rejection))
		}
		return &res, rejection
	}

	if res.Forced {
		r.log.Warn("returns scan forced past status graph",
			zap.String("tracking_number", req.TrackingNumber),
			zap.String("from", string(res.Scan.StatusBefore)))
	}
	r.lifecycle.Publish(events...)
	return &res, nil
}

// precheck decides whether the scan may drive its transition. Business
// rejections are returned as rejection; err is reserved for hard failures.
func (r *Recorder) precheck(tx store.Tx, sh *models.Shipment, req ScanRequest, rl rule, tc *lifecycle.TransitionContext) (noop bool, rejection, err error) {
	if !sh.TouchesBranch(req.BranchID) {
		return false, &apperrors.MisroutedError{ShipmentID: sh.ID, BranchID: req.BranchID, Reason: "branch is neither origin nor destination"}, nil
	}
	if req.Mode == ModeUnload && req.BranchID != sh.DestBranchID {
		return false, &apperrors.MisroutedError{ShipmentID: sh.ID, BranchID: req.BranchID, Reason: "unload scan outside destination branch"}, nil
	}
	if req.Mode == ModeDelivery && sh.Status == models.StatusDelivered {
		return false, &apperrors.DuplicateScanError{TrackingNumber: sh.TrackingNumber, Status: string(sh.Status)}, nil
	}

	if req.Mode == ModeReturns && sh.Status.IsTerminal() {
		tc.Force = true
		tc.Reason = "returns scan on terminal shipment"
	}

	noop, checkErr := r.lifecycle.Check(tx, sh, rl.target, *tc)
	var it *apperrors.InvalidTransitionError
	if req.Mode == ModeReturns && !tc.Force && errors.As(checkErr, &it) && it.Reason == "" {
		tc.Force = true
		tc.Reason = "returns scan fallback"
		noop, checkErr = r.lifecycle.Check(tx, sh, rl.target, *tc)
	}

	switch {
	case checkErr == nil:
		return noop, nil, nil
	case apperrors.IsBusiness(checkErr):
		return false, checkErr, nil
	default:
		return false, nil, checkErr
	}
}
