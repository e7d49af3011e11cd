package gormstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"courier-backend/internal/models"
	"courier-backend/internal/store"
	"courier-backend/internal/store/gormstore"
	"courier-backend/internal/store/storetest"
)

var day = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type seeder struct {
	t   *testing.T
	st  *gormstore.Store
	seq int
}

func newSeeder(t *testing.T) *seeder {
	return &seeder{t: t, st: storetest.SQLite(t)}
}

func (s *seeder) tx(fn func(tx store.Tx) error) {
	s.t.Helper()
	if err := s.st.RunInTx(context.Background(), fn); err != nil {
		s.t.Fatalf("tx: %v", err)
	}
}

func (s *seeder) branch(code string) models.Branch {
	s.t.Helper()
	b := models.Branch{Code: code, Name: "Şube " + code}
	s.tx(func(tx store.Tx) error { return tx.CreateBranch(&b) })
	return b
}

func (s *seeder) shipment(origin, dest uint, status models.ShipmentStatus, mutate ...func(*models.Shipment)) models.Shipment {
	s.t.Helper()
	s.seq++
	sh := models.Shipment{
		TrackingNumber: fmt.Sprintf("IST-20250310-%05d", s.seq),
		OriginBranchID: origin,
		DestBranchID:   dest,
		Status:         status,
		Priority:       3,
		Pieces:         1,
		CreatedAt:      day.Add(time.Duration(s.seq) * time.Minute),
	}
	for _, m := range mutate {
		m(&sh)
	}
	s.tx(func(tx store.Tx) error { return tx.CreateShipment(&sh) })
	return sh
}

func ids(list []models.Shipment) []uint {
	out := make([]uint, len(list))
	for i, sh := range list {
		out[i] = sh.ID
	}
	return out
}

func sameIDs(got, want []uint) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestListConsolidationCandidates(t *testing.T) {
	s := newSeeder(t)
	ist, ank := s.branch("IST"), s.branch("ANK")

	// created out of order so the query has to sort
	late := s.shipment(ist.ID, ank.ID, models.StatusBagged, func(sh *models.Shipment) {
		sh.CreatedAt = day.Add(3 * time.Hour)
	})
	early := s.shipment(ist.ID, ank.ID, models.StatusAtOriginHub)
	s.shipment(ist.ID, ank.ID, models.StatusPickedUp)
	s.shipment(ank.ID, ist.ID, models.StatusBagged)
	bundled := uint(99)
	s.shipment(ist.ID, ank.ID, models.StatusBagged, func(sh *models.Shipment) { sh.ConsolidationID = &bundled })

	var got []models.Shipment
	s.tx(func(tx store.Tx) error {
		var err error
		got, err = tx.ListConsolidationCandidates(ist.ID, []models.ShipmentStatus{models.StatusAtOriginHub, models.StatusBagged})
		return err
	})
	if want := []uint{early.ID, late.ID}; !sameIDs(ids(got), want) {
		t.Fatalf("expected %v oldest first, got %v", want, ids(got))
	}
}

func TestCountOpenAssignmentsGroupsByWorker(t *testing.T) {
	s := newSeeder(t)
	ist, ank := s.branch("IST"), s.branch("ANK")

	var busy, light, idle models.Worker
	s.tx(func(tx store.Tx) error {
		for _, w := range []*models.Worker{&busy, &light, &idle} {
			w.BranchID = ist.ID
			w.Name = "Kurye"
			w.Active = true
			if err := tx.CreateWorker(w); err != nil {
				return err
			}
		}
		return nil
	})
	assign := func(w models.Worker) func(*models.Shipment) {
		return func(sh *models.Shipment) { sh.AssignedWorkerID = &w.ID }
	}
	s.shipment(ist.ID, ank.ID, models.StatusPickupScheduled, assign(busy))
	s.shipment(ist.ID, ank.ID, models.StatusOutForDelivery, assign(busy))
	s.shipment(ist.ID, ank.ID, models.StatusDelivered, assign(busy))
	s.shipment(ist.ID, ank.ID, models.StatusCancelled, assign(light))
	s.shipment(ist.ID, ank.ID, models.StatusFailedDelivery, assign(light))
	s.shipment(ist.ID, ank.ID, models.StatusReturnedToSender, assign(idle))
	s.shipment(ist.ID, ank.ID, models.StatusBooked)

	var loads map[uint]int64
	s.tx(func(tx store.Tx) error {
		var err error
		loads, err = tx.CountOpenAssignments([]uint{busy.ID, light.ID, idle.ID})
		return err
	})
	if loads[busy.ID] != 2 || loads[light.ID] != 1 {
		t.Errorf("expected busy=2 light=1, got %v", loads)
	}
	if _, ok := loads[idle.ID]; ok {
		t.Errorf("worker with only terminal shipments should be absent, got %v", loads)
	}

	s.tx(func(tx store.Tx) error {
		empty, err := tx.CountOpenAssignments(nil)
		if err != nil {
			return err
		}
		if len(empty) != 0 {
			t.Errorf("expected empty map, got %v", empty)
		}
		return nil
	})
}

func TestListAtRisk(t *testing.T) {
	s := newSeeder(t)
	ist, ank, izm := s.branch("IST"), s.branch("ANK"), s.branch("IZM")
	due := func(d time.Time) func(*models.Shipment) {
		return func(sh *models.Shipment) { sh.ExpectedDeliveryDate = &d }
	}

	outbound := s.shipment(ist.ID, ank.ID, models.StatusLinehaulDeparted, due(day.Add(20*time.Hour)))
	inbound := s.shipment(izm.ID, ist.ID, models.StatusAtDestinationHub, due(day.Add(2*time.Hour)))
	s.shipment(ist.ID, ank.ID, models.StatusDelivered, due(day.Add(time.Hour)))
	s.shipment(ist.ID, ank.ID, models.StatusBooked)
	s.shipment(ist.ID, ank.ID, models.StatusBooked, due(day.Add(48*time.Hour)))
	s.shipment(ank.ID, izm.ID, models.StatusBooked, due(day.Add(time.Hour)))

	var got []models.Shipment
	s.tx(func(tx store.Tx) error {
		var err error
		got, err = tx.ListAtRisk(ist.ID, day.Add(24*time.Hour))
		return err
	})
	if want := []uint{inbound.ID, outbound.ID}; !sameIDs(ids(got), want) {
		t.Fatalf("expected %v soonest first, got %v", want, ids(got))
	}
}

func TestDeleteItem(t *testing.T) {
	s := newSeeder(t)
	ist, ank := s.branch("IST"), s.branch("ANK")
	a := s.shipment(ist.ID, ank.ID, models.StatusBagged)
	b := s.shipment(ist.ID, ank.ID, models.StatusBagged)

	c := models.Consolidation{Reference: "BBX-IST-20250310-0001", Type: models.ConsolidationBBX, BranchID: ist.ID, Status: models.ConsolidationOpen}
	s.tx(func(tx store.Tx) error {
		if err := tx.CreateConsolidation(&c); err != nil {
			return err
		}
		for _, sh := range []models.Shipment{a, b} {
			if err := tx.AddItem(&models.ConsolidationItem{ConsolidationID: c.ID, ShipmentID: sh.ID, Pieces: 1, AddedAt: day}); err != nil {
				return err
			}
		}
		return nil
	})

	s.tx(func(tx store.Tx) error { return tx.DeleteItem(c.ID, a.ID) })

	s.tx(func(tx store.Tx) error {
		items, err := tx.ListItems(c.ID)
		if err != nil {
			return err
		}
		if len(items) != 1 || items[0].ShipmentID != b.ID {
			t.Errorf("expected only shipment %d to remain, got %+v", b.ID, items)
		}
		if _, err := tx.GetItem(c.ID, a.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound for deleted item, got %v", err)
		}
		if err := tx.DeleteItem(c.ID, a.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("second delete: expected ErrNotFound, got %v", err)
		}
		return nil
	})
}

func TestDuplicateItemIsConflict(t *testing.T) {
	s := newSeeder(t)
	ist, ank := s.branch("IST"), s.branch("ANK")
	sh := s.shipment(ist.ID, ank.ID, models.StatusBagged)
	c := models.Consolidation{Reference: "BBX-IST-20250310-0002", Type: models.ConsolidationBBX, BranchID: ist.ID, Status: models.ConsolidationOpen}
	s.tx(func(tx store.Tx) error {
		if err := tx.CreateConsolidation(&c); err != nil {
			return err
		}
		return tx.AddItem(&models.ConsolidationItem{ConsolidationID: c.ID, ShipmentID: sh.ID, AddedAt: day})
	})

	err := s.st.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.AddItem(&models.ConsolidationItem{ConsolidationID: c.ID, ShipmentID: sh.ID, AddedAt: day})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetShipmentMissing(t *testing.T) {
	s := newSeeder(t)
	s.tx(func(tx store.Tx) error {
		if _, err := tx.GetShipment(404, true); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetShipment: expected ErrNotFound, got %v", err)
		}
		if _, err := tx.GetShipmentByTracking("YOK-00000000-00000", false); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetShipmentByTracking: expected ErrNotFound, got %v", err)
		}
		return nil
	})
}

func TestListActiveMaintenanceWindow(t *testing.T) {
	s := newSeeder(t)
	ist := s.branch("IST")
	s.tx(func(tx store.Tx) error {
		alerts := []models.MaintenanceAlert{
			{BranchID: ist.ID, StartsAt: day.Add(-time.Hour), EndsAt: day.Add(time.Hour), CapacityFactor: 50, Active: true, Note: "forklift"},
			{BranchID: ist.ID, StartsAt: day.Add(-time.Hour), EndsAt: day, CapacityFactor: 0, Active: true},
			{BranchID: ist.ID, StartsAt: day.Add(-time.Hour), EndsAt: day.Add(time.Hour), CapacityFactor: 0, Active: false},
		}
		for i := range alerts {
			if err := tx.CreateMaintenance(&alerts[i]); err != nil {
				return err
			}
		}
		return nil
	})

	s.tx(func(tx store.Tx) error {
		got, err := tx.ListActiveMaintenance(ist.ID, day)
		if err != nil {
			return err
		}
		if len(got) != 1 || got[0].Note != "forklift" {
			t.Errorf("expected only the open forklift window, got %+v", got)
		}
		return nil
	})
}
