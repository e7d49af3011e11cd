package consolidation

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

type race struct {
	st     store.Store
	m      *Manager
	origin models.Branch
	dest   models.Branch
	ships  []models.Shipment
}

// newRace seeds n bagged shipments from IST to ANK through the store API only,
// so it works on every store implementation.
func newRace(t *testing.T, st store.Store, n int) *race {
	t.Helper()
	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	clock := func() time.Time { return at }

	r := &race{st: st}
	err := st.RunInTx(context.Background(), func(tx store.Tx) error {
		r.origin = models.Branch{Code: "IST", Name: "Istanbul"}
		r.dest = models.Branch{Code: "ANK", Name: "Ankara"}
		if err := tx.CreateBranch(&r.origin); err != nil {
			return err
		}
		if err := tx.CreateBranch(&r.dest); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			sh := models.Shipment{
				TrackingNumber: fmt.Sprintf("BRK-20250310-%05d", i+1),
				OriginBranchID: r.origin.ID,
				DestBranchID:   r.dest.ID,
				Status:         models.StatusBagged,
				Priority:       3,
				Pieces:         1,
				WeightKg:       1,
			}
			if err := tx.CreateShipment(&sh); err != nil {
				return err
			}
			r.ships = append(r.ships, sh)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	lc := lifecycle.NewService(st, notify.Nop{}, zap.NewNop())
	lc.Now = clock
	r.m = NewManager(st, lc, Limits{}, zap.NewNop())
	r.m.Now = clock
	return r
}

func (r *race) open(t *testing.T, maxPieces int) *models.Consolidation {
	t.Helper()
	dest := r.dest.ID
	c, err := r.m.Create(context.Background(), CreateRequest{BranchID: r.origin.ID, DestBranchID: &dest, MaxPieces: maxPieces})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestConcurrentAddsRespectMaxPieces(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		const n, limit = 8, 3
		r := newRace(t, st, n)
		c := r.open(t, limit)

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range r.ships {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = r.m.AddShipment(context.Background(), MemberRequest{
					ConsolidationID: c.ID, ShipmentID: r.ships[i].ID, BranchID: r.origin.ID, PerformedBy: 7,
				})
			}(i)
		}
		wg.Wait()

		added := 0
		for i, err := range errs {
			var ce *apperrors.CapacityExceededError
			switch {
			case err == nil:
				added++
			case errors.As(err, &ce):
				if ce.Dimension != "pieces" {
					t.Errorf("add %d: expected pieces limit, got %s", i, ce.Dimension)
				}
			default:
				t.Errorf("add %d: unexpected error %v", i, err)
			}
		}
		if added != limit {
			t.Errorf("expected %d successful adds, got %d", limit, added)
		}

		err := st.RunInTx(context.Background(), func(tx store.Tx) error {
			items, err := tx.ListItems(c.ID)
			if err != nil {
				return err
			}
			if len(items) != limit {
				t.Errorf("expected %d items, got %d", limit, len(items))
			}
			members := 0
			for _, sh := range r.ships {
				got, err := tx.GetShipment(sh.ID, false)
				if err != nil {
					return err
				}
				if got.ConsolidationID != nil {
					members++
				}
			}
			if members != limit {
				t.Errorf("expected %d shipments pointing at the unit, got %d", limit, members)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestShipmentJoinsOnlyOneOfRacingUnits(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		r := newRace(t, st, 1)
		units := []*models.Consolidation{r.open(t, 0), r.open(t, 0)}

		var wg sync.WaitGroup
		errs := make([]error, len(units))
		for i, c := range units {
			wg.Add(1)
			go func(i int, c *models.Consolidation) {
				defer wg.Done()
				_, errs[i] = r.m.AddShipment(context.Background(), MemberRequest{
					ConsolidationID: c.ID, ShipmentID: r.ships[0].ID, BranchID: r.origin.ID,
				})
			}(i, c)
		}
		wg.Wait()

		winner := -1
		for i, err := range errs {
			var mc *apperrors.MembershipConflictError
			switch {
			case err == nil:
				if winner >= 0 {
					t.Fatalf("both units accepted shipment %d", r.ships[0].ID)
				}
				winner = i
			case !errors.As(err, &mc):
				t.Errorf("add %d: expected MembershipConflictError, got %v", i, err)
			}
		}
		if winner < 0 {
			t.Fatal("no unit accepted the shipment")
		}

		err := st.RunInTx(context.Background(), func(tx store.Tx) error {
			sh, err := tx.GetShipment(r.ships[0].ID, false)
			if err != nil {
				return err
			}
			if sh.ConsolidationID == nil || *sh.ConsolidationID != units[winner].ID {
				t.Errorf("expected membership in %d, got %v", units[winner].ID, sh.ConsolidationID)
			}
			loser := units[1-winner]
			items, err := tx.ListItems(loser.ID)
			if err != nil {
				return err
			}
			if len(items) != 0 {
				t.Errorf("losing unit kept %d items", len(items))
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestConcurrentCreatesGetDistinctReferences(t *testing.T) {
	storetest.Each(t, func(t *testing.T, st store.Store) {
		r := newRace(t, st, 0)
		const n = 5

		var wg sync.WaitGroup
		refs := make([]string, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				dest := r.dest.ID
				c, err := r.m.Create(context.Background(), CreateRequest{BranchID: r.origin.ID, DestBranchID: &dest})
				errs[i] = err
				if err == nil {
					refs[i] = c.Reference
				}
			}(i)
		}
		wg.Wait()

		seen := map[string]bool{}
		for i := range refs {
			if errs[i] != nil {
				t.Fatalf("create %d: %v", i, errs[i])
			}
			if seen[refs[i]] {
				t.Errorf("reference %s handed out twice", refs[i])
			}
			seen[refs[i]] = true
		}
	})
}
