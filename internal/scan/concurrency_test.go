package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"courier-backend/internal/apperrors"
	"courier-backend/internal/lifecycle"
	"courier-backend/internal/models"
	"courier-backend/internal/notify"
	"courier-backend/internal/store"
	"courier-backend/internal/store/storetest"

	"go.uber.org/zap"
)

type raceSetup struct {
	rec    *Recorder
	origin models.Branch
	dest   models.Branch
	sh     models.Shipment
}

func newRace(t *testing.T, st store.Store, status models.ShipmentStatus) raceSetup {
	t.Helper()
	at := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return at }

	var r raceSetup
	err := st.RunInTx(context.Background(), func(tx store.Tx) error {
		r.origin = models.Branch{Code: "IST", Name: "Istanbul"}
		r.dest = models.Branch{Code: "ANK", Name: "Ankara"}
		if err := tx.CreateBranch(&r.origin); err != nil {
			return err
		}
		if err := tx.CreateBranch(&r.dest); err != nil {
			return err
		}
		r.sh = models.Shipment{
			TrackingNumber: "BRK-20250101-00001",
			OriginBranchID: r.origin.ID,
			DestBranchID:   r.dest.ID,
			Status:         status,
			Priority:       3,
			Pieces:         1,
		}
		return tx.CreateShipment(&r.sh)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	lc := lifecycle.NewService(st, notify.Nop{}, zap.NewNop())
	lc.Now = clock
	r.rec = NewRecorder(st, lc, notify.Nop{}, zap.NewNop())
	r.rec.Now = clock
	return r
}

func scanConcurrently(r raceSetup, n int, mode Mode, branchID uint) []error {
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.rec.RecordScan(context.Background(), ScanRequest{
				TrackingNumber: r.sh.TrackingNumber,
				Mode:           mode,
				BranchID:       branchID,
				UserID:         uint(100 + i),
			})
		}(i)
	}
	wg.Wait()
	return errs
}

func TestRacingLoadScansMoveShipmentOnce(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		r := newRace(t, st, models.StatusBagged)
		const n = 8
		errs := scanConcurrently(r, n, ModeLoad, r.origin.ID)

		for i, err := range errs {
			var it *apperrors.InvalidTransitionError
			if err != nil && !errors.As(err, &it) {
				t.Errorf("scan %d: expected success or InvalidTransitionError, got %v", i, err)
			}
		}

		err := st.RunInTx(context.Background(), func(tx store.Tx) error {
			sh, err := tx.GetShipment(r.sh.ID, false)
			if err != nil {
				return err
			}
			if sh.Status != models.StatusLinehaulDeparted {
				t.Errorf("expected LINEHAUL_DEPARTED, got %s", sh.Status)
			}
			hist, err := tx.ListStatusHistory(r.sh.ID)
			if err != nil {
				return err
			}
			if len(hist) != 1 || hist[0].FromStatus != models.StatusBagged {
				t.Errorf("expected a single BAGGED -> LINEHAUL_DEPARTED row, got %+v", hist)
			}
			scans, err := tx.ListScanEvents(r.sh.ID)
			if err != nil {
				return err
			}
			if len(scans) != n {
				t.Errorf("expected every scan stored, got %d", len(scans))
			}
			moved := 0
			for _, s := range scans {
				if s.StatusBefore != s.StatusAfter {
					moved++
				}
			}
			if moved != 1 {
				t.Errorf("expected one scan to change status, got %d", moved)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestRacingDeliveryScansHaveOneWinner(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		r := newRace(t, st, models.StatusOutForDelivery)
		const n = 6
		errs := scanConcurrently(r, n, ModeDelivery, r.dest.ID)

		var won, dup int
		for i, err := range errs {
			var d *apperrors.DuplicateScanError
			switch {
			case err == nil:
				won++
			case errors.As(err, &d):
				dup++
			default:
				t.Errorf("scan %d: unexpected error %v", i, err)
			}
		}
		if won != 1 || dup != n-1 {
			t.Fatalf("expected 1 winner and %d duplicates, got %d and %d", n-1, won, dup)
		}

		err := st.RunInTx(context.Background(), func(tx store.Tx) error {
			hist, err := tx.ListStatusHistory(r.sh.ID)
			if err != nil {
				return err
			}
			if len(hist) != 1 || hist[0].ToStatus != models.StatusDelivered {
				return fmt.Errorf("expected one DELIVERED row, got %+v", hist)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}
