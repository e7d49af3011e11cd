// Package memstore is an in-process Store used for local runs and tests.
// Transactions are serialised behind one mutex and work on a copy of the
// state that replaces the live state only when fn returns nil.
package memstore

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"courier-backend/internal/models"
	"courier-backend/internal/store"
)

type state struct {
	seq map[string]uint

	branches       map[uint]models.Branch
	users          map[uint]models.User
	workers        map[uint]models.Worker
	vehicles       map[uint]models.Vehicle
	maintenance    map[uint]models.MaintenanceAlert
	shipments      map[uint]models.Shipment
	history        map[uint]models.ShipmentStatusHistory
	scans          map[uint]models.ScanEvent
	consolidations map[uint]models.Consolidation
	items          map[uint]models.ConsolidationItem
	deconEvents    map[uint]models.DeconsolidationEvent
	handoffs       map[uint]models.BranchHandoff
	audit          map[uint]models.AuditLog
}

func newState() *state {
	return &state{
		seq:            map[string]uint{},
		branches:       map[uint]models.Branch{},
		users:          map[uint]models.User{},
		workers:        map[uint]models.Worker{},
		vehicles:       map[uint]models.Vehicle{},
		maintenance:    map[uint]models.MaintenanceAlert{},
		shipments:      map[uint]models.Shipment{},
		history:        map[uint]models.ShipmentStatusHistory{},
		scans:          map[uint]models.ScanEvent{},
		consolidations: map[uint]models.Consolidation{},
		items:          map[uint]models.ConsolidationItem{},
		deconEvents:    map[uint]models.DeconsolidationEvent{},
		handoffs:       map[uint]models.BranchHandoff{},
		audit:          map[uint]models.AuditLog{},
	}
}

func (s *state) clone() *state {
	return &state{
		seq:            maps.Clone(s.seq),
		branches:       maps.Clone(s.branches),
		users:          maps.Clone(s.users),
		workers:        maps.Clone(s.workers),
		vehicles:       maps.Clone(s.vehicles),
		maintenance:    maps.Clone(s.maintenance),
		shipments:      maps.Clone(s.shipments),
		history:        maps.Clone(s.history),
		scans:          maps.Clone(s.scans),
		consolidations: maps.Clone(s.consolidations),
		items:          maps.Clone(s.items),
		deconEvents:    maps.Clone(s.deconEvents),
		handoffs:       maps.Clone(s.handoffs),
		audit:          maps.Clone(s.audit),
	}
}

func (s *state) next(table string) uint {
	s.seq[table]++
	return s.seq[table]
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock makes CreatedAt/UpdatedAt stamps deterministic in tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Seed helpers for reference data, which the core only reads.

func (s *Store) AddBranch(b models.Branch) models.Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.st.next("branches")
	}
	s.st.branches[b.ID] = b
	return b
}

func (s *Store) AddWorker(w models.Worker) models.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == 0 {
		w.ID = s.st.next("workers")
	}
	s.st.workers[w.ID] = w
	return w
}

func (s *Store) AddVehicle(v models.Vehicle) models.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = s.st.next("vehicles")
	}
	s.st.vehicles[v.ID] = v
	return v
}

func (s *Store) AddMaintenance(m models.MaintenanceAlert) models.MaintenanceAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.st.next("maintenance")
	}
	s.st.maintenance[m.ID] = m
	return m
}

type tx struct {
	st  *state
	now func() time.Time
}

func sortedKeys[V any](m map[uint]V) []uint {
	keys := make([]uint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Shipments

func (t *tx) CreateShipment(s *models.Shipment) error {
	for _, existing := range t.st.shipments {
		if existing.TrackingNumber == s.TrackingNumber {
			return store.ErrConflict
		}
	}
	s.ID = t.st.next("shipments")
	now := t.now()
	s.CreatedAt, s.UpdatedAt = now, now
	t.st.shipments[s.ID] = *s
	return nil
}

func (t *tx) GetShipment(id uint, _ bool) (*models.Shipment, error) {
	s, ok := t.st.shipments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (t *tx) GetShipmentByTracking(trackingNumber string, _ bool) (*models.Shipment, error) {
	for _, s := range t.st.shipments {
		if s.TrackingNumber == trackingNumber {
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) SaveShipment(s *models.Shipment) error {
	if _, ok := t.st.shipments[s.ID]; !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = t.now()
	t.st.shipments[s.ID] = *s
	return nil
}

func (t *tx) CountTrackingPrefix(prefix string) (int64, error) {
	var n int64
	for _, s := range t.st.shipments {
		if strings.HasPrefix(s.TrackingNumber, prefix) {
			n++
		}
	}
	return n, nil
}

func (t *tx) ListConsolidationCandidates(branchID uint, statuses []models.ShipmentStatus) ([]models.Shipment, error) {
	var out []models.Shipment
	for _, id := range sortedKeys(t.st.shipments) {
		s := t.st.shipments[id]
		if s.OriginBranchID != branchID || s.ConsolidationID != nil {
			continue
		}
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) CountOpenAssignments(workerIDs []uint) (map[uint]int64, error) {
	wanted := make(map[uint]bool, len(workerIDs))
	for _, id := range workerIDs {
		wanted[id] = true
	}
	out := map[uint]int64{}
	for _, s := range t.st.shipments {
		if s.AssignedWorkerID != nil && wanted[*s.AssignedWorkerID] && !s.Status.IsTerminal() {
			out[*s.AssignedWorkerID]++
		}
	}
	return out, nil
}

func (t *tx) ListAtRisk(branchID uint, before time.Time) ([]models.Shipment, error) {
	var out []models.Shipment
	for _, id := range sortedKeys(t.st.shipments) {
		s := t.st.shipments[id]
		if !s.TouchesBranch(branchID) || s.Status.IsTerminal() || s.ExpectedDeliveryDate == nil {
			continue
		}
		if s.ExpectedDeliveryDate.Before(before) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpectedDeliveryDate.Before(*out[j].ExpectedDeliveryDate)
	})
	return out, nil
}

func (t *tx) AppendStatusHistory(h *models.ShipmentStatusHistory) error {
	h.ID = t.st.next("history")
	t.st.history[h.ID] = *h
	return nil
}

func (t *tx) ListStatusHistory(shipmentID uint) ([]models.ShipmentStatusHistory, error) {
	var out []models.ShipmentStatusHistory
	for _, id := range sortedKeys(t.st.history) {
		if h := t.st.history[id]; h.ShipmentID == shipmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

// Scans

func (t *tx) AppendScanEvent(e *models.ScanEvent) error {
	e.ID = t.st.next("scans")
	t.st.scans[e.ID] = *e
	return nil
}

func (t *tx) ListScanEvents(shipmentID uint) ([]models.ScanEvent, error) {
	var out []models.ScanEvent
	for _, id := range sortedKeys(t.st.scans) {
		if e := t.st.scans[id]; e.ShipmentID == shipmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Workforce

func (t *tx) GetBranch(id uint) (*models.Branch, error) {
	b, ok := t.st.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *tx) GetWorker(id uint, _ bool) (*models.Worker, error) {
	w, ok := t.st.workers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (t *tx) ListActiveWorkers(branchID uint, _ bool) ([]models.Worker, error) {
	var out []models.Worker
	for _, id := range sortedKeys(t.st.workers) {
		if w := t.st.workers[id]; w.BranchID == branchID && w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (t *tx) SaveWorker(w *models.Worker) error {
	if _, ok := t.st.workers[w.ID]; !ok {
		return store.ErrNotFound
	}
	w.UpdatedAt = t.now()
	t.st.workers[w.ID] = *w
	return nil
}

func (t *tx) GetVehicle(id uint) (*models.Vehicle, error) {
	v, ok := t.st.vehicles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (t *tx) ListActiveMaintenance(branchID uint, at time.Time) ([]models.MaintenanceAlert, error) {
	var out []models.MaintenanceAlert
	for _, id := range sortedKeys(t.st.maintenance) {
		m := t.st.maintenance[id]
		if m.BranchID == branchID && m.CoversTime(at) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Consolidations

func (t *tx) CreateConsolidation(c *models.Consolidation) error {
	for _, existing := range t.st.consolidations {
		if existing.Reference == c.Reference {
			return store.ErrConflict
		}
	}
	c.ID = t.st.next("consolidations")
	now := t.now()
	c.CreatedAt, c.UpdatedAt = now, now
	t.st.consolidations[c.ID] = *c
	return nil
}

func (t *tx) GetConsolidation(id uint, _ bool) (*models.Consolidation, error) {
	c, ok := t.st.consolidations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) SaveConsolidation(c *models.Consolidation) error {
	if _, ok := t.st.consolidations[c.ID]; !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = t.now()
	t.st.consolidations[c.ID] = *c
	return nil
}

func (t *tx) ListOpenConsolidations(branchID, destBranchID uint) ([]models.Consolidation, error) {
	var out []models.Consolidation
	for _, id := range sortedKeys(t.st.consolidations) {
		c := t.st.consolidations[id]
		if c.BranchID != branchID || c.Status != models.ConsolidationOpen {
			continue
		}
		if c.DestBranchID == nil || *c.DestBranchID != destBranchID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *tx) CountReferencePrefix(prefix string) (int64, error) {
	var n int64
	for _, c := range t.st.consolidations {
		if strings.HasPrefix(c.Reference, prefix) {
			n++
		}
	}
	return n, nil
}

func (t *tx) AddItem(item *models.ConsolidationItem) error {
	for _, existing := range t.st.items {
		if existing.ConsolidationID == item.ConsolidationID && existing.ShipmentID == item.ShipmentID {
			return store.ErrConflict
		}
	}
	item.ID = t.st.next("items")
	t.st.items[item.ID] = *item
	return nil
}

func (t *tx) GetItem(consolidationID, shipmentID uint) (*models.ConsolidationItem, error) {
	for _, item := range t.st.items {
		if item.ConsolidationID == consolidationID && item.ShipmentID == shipmentID {
			return &item, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) SaveItem(item *models.ConsolidationItem) error {
	if _, ok := t.st.items[item.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.items[item.ID] = *item
	return nil
}

func (t *tx) DeleteItem(consolidationID, shipmentID uint) error {
	for id, item := range t.st.items {
		if item.ConsolidationID == consolidationID && item.ShipmentID == shipmentID {
			delete(t.st.items, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) ListItems(consolidationID uint) ([]models.ConsolidationItem, error) {
	var out []models.ConsolidationItem
	for _, id := range sortedKeys(t.st.items) {
		if item := t.st.items[id]; item.ConsolidationID == consolidationID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (t *tx) AppendDeconsolidationEvent(e *models.DeconsolidationEvent) error {
	e.ID = t.st.next("decon_events")
	t.st.deconEvents[e.ID] = *e
	return nil
}

func (t *tx) ListDeconsolidationEvents(consolidationID uint) ([]models.DeconsolidationEvent, error) {
	var out []models.DeconsolidationEvent
	for _, id := range sortedKeys(t.st.deconEvents) {
		if e := t.st.deconEvents[id]; e.ConsolidationID == consolidationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Handoffs

func (t *tx) CreateHandoff(h *models.BranchHandoff) error {
	h.ID = t.st.next("handoffs")
	now := t.now()
	h.CreatedAt, h.UpdatedAt = now, now
	t.st.handoffs[h.ID] = *h
	return nil
}

func (t *tx) GetHandoff(id uint, _ bool) (*models.BranchHandoff, error) {
	h, ok := t.st.handoffs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &h, nil
}

func (t *tx) SaveHandoff(h *models.BranchHandoff) error {
	if _, ok := t.st.handoffs[h.ID]; !ok {
		return store.ErrNotFound
	}
	h.UpdatedAt = t.now()
	t.st.handoffs[h.ID] = *h
	return nil
}

func (t *tx) HasPendingHandoff(shipmentID uint) (bool, error) {
	for _, h := range t.st.handoffs {
		if h.ShipmentID == shipmentID && h.Status == models.HandoffPending {
			return true, nil
		}
	}
	return false, nil
}

// Audit

func (t *tx) AppendAudit(l *models.AuditLog) error {
	l.ID = t.st.next("audit")
	if l.CreatedAt.IsZero() {
		l.CreatedAt = t.now()
	}
	t.st.audit[l.ID] = *l
	return nil
}

func (t *tx) ListAudit(f store.AuditFilter) ([]models.AuditLog, error) {
	keys := sortedKeys(t.st.audit)
	var out []models.AuditLog
	for i := len(keys) - 1; i >= 0; i-- {
		l := t.st.audit[keys[i]]
		if f.BranchID != nil && (l.BranchID == nil || *l.BranchID != *f.BranchID) {
			continue
		}
		if f.EntityType != "" && l.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != 0 && l.EntityID != f.EntityID {
			continue
		}
		out = append(out, l)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Directory

func (t *tx) CreateBranch(b *models.Branch) error {
	for _, existing := range t.st.branches {
		if existing.Name == b.Name || (b.Code != "" && existing.Code == b.Code) {
			return store.ErrConflict
		}
	}
	b.ID = t.st.next("branches")
	now := t.now()
	b.CreatedAt, b.UpdatedAt = now, now
	t.st.branches[b.ID] = *b
	return nil
}

func (t *tx) ListBranches() ([]models.Branch, error) {
	out := make([]models.Branch, 0, len(t.st.branches))
	for _, id := range sortedKeys(t.st.branches) {
		out = append(out, t.st.branches[id])
	}
	return out, nil
}

func (t *tx) CreateUser(u *models.User) error {
	for _, existing := range t.st.users {
		if existing.Email == u.Email {
			return store.ErrConflict
		}
	}
	u.ID = t.st.next("users")
	now := t.now()
	u.CreatedAt, u.UpdatedAt = now, now
	t.st.users[u.ID] = *u
	return nil
}

func (t *tx) GetUser(id uint) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *tx) GetUserByEmail(email string) (*models.User, error) {
	for _, u := range t.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CountUsersByRole(role models.UserRole) (int64, error) {
	var n int64
	for _, u := range t.st.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (t *tx) CreateWorker(w *models.Worker) error {
	w.ID = t.st.next("workers")
	now := t.now()
	w.CreatedAt, w.UpdatedAt = now, now
	t.st.workers[w.ID] = *w
	return nil
}

func (t *tx) ListWorkers(branchID *uint) ([]models.Worker, error) {
	var out []models.Worker
	for _, id := range sortedKeys(t.st.workers) {
		w := t.st.workers[id]
		if branchID != nil && w.BranchID != *branchID {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (t *tx) CreateVehicle(v *models.Vehicle) error {
	for _, existing := range t.st.vehicles {
		if existing.Plate == v.Plate {
			return store.ErrConflict
		}
	}
	v.ID = t.st.next("vehicles")
	now := t.now()
	v.CreatedAt, v.UpdatedAt = now, now
	t.st.vehicles[v.ID] = *v
	return nil
}

func (t *tx) CreateMaintenance(m *models.MaintenanceAlert) error {
	m.ID = t.st.next("maintenance")
	m.CreatedAt = t.now()
	t.st.maintenance[m.ID] = *m
	return nil
}
