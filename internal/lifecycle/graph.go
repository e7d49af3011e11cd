package lifecycle

import "courier-backend/internal/models"

// Edge is one allowed status change.
type Edge struct {
	From models.ShipmentStatus
	To   models.ShipmentStatus
}

var edgeTable = []Edge{
	// Booking and pickup
	{models.StatusBooked, models.StatusPickupScheduled},
	{models.StatusBooked, models.StatusPickedUp},
	{models.StatusBooked, models.StatusOnHold},
	{models.StatusBooked, models.StatusException},
	{models.StatusBooked, models.StatusCancelled},
	{models.StatusPickupScheduled, models.StatusPickedUp},
	{models.StatusPickupScheduled, models.StatusOnHold},
	{models.StatusPickupScheduled, models.StatusException},
	{models.StatusPickupScheduled, models.StatusCancelled},
	{models.StatusPickedUp, models.StatusAtOriginHub},
	{models.StatusPickedUp, models.StatusOnHold},
	{models.StatusPickedUp, models.StatusException},

	// Origin hub
	{models.StatusAtOriginHub, models.StatusBagged},
	{models.StatusAtOriginHub, models.StatusOnHold},
	{models.StatusAtOriginHub, models.StatusException},
	{models.StatusAtOriginHub, models.StatusReturnInitiated},
	{models.StatusAtOriginHub, models.StatusCancelled},
	{models.StatusBagged, models.StatusLinehaulDeparted},
	{models.StatusBagged, models.StatusAtOriginHub},
	{models.StatusBagged, models.StatusOnHold},
	{models.StatusBagged, models.StatusException},

	// Linehaul
	{models.StatusLinehaulDeparted, models.StatusLinehaulArrived},
	{models.StatusLinehaulDeparted, models.StatusAtDestinationHub},
	{models.StatusLinehaulDeparted, models.StatusException},
	{models.StatusLinehaulArrived, models.StatusAtDestinationHub},
	{models.StatusLinehaulArrived, models.StatusException},

	// Last mile
	{models.StatusAtDestinationHub, models.StatusOutForDelivery},
	{models.StatusAtDestinationHub, models.StatusOnHold},
	{models.StatusAtDestinationHub, models.StatusException},
	{models.StatusAtDestinationHub, models.StatusReturnInitiated},
	{models.StatusOutForDelivery, models.StatusDelivered},
	{models.StatusOutForDelivery, models.StatusPartialDelivered},
	{models.StatusOutForDelivery, models.StatusFailedDelivery},
	{models.StatusOutForDelivery, models.StatusException},
	{models.StatusPartialDelivered, models.StatusOutForDelivery},
	{models.StatusPartialDelivered, models.StatusDelivered},
	{models.StatusPartialDelivered, models.StatusReturnInitiated},
	{models.StatusFailedDelivery, models.StatusOutForDelivery},
	{models.StatusFailedDelivery, models.StatusAtDestinationHub},
	{models.StatusFailedDelivery, models.StatusOnHold},
	{models.StatusFailedDelivery, models.StatusReturnInitiated},

	// Hold and exception recovery
	{models.StatusOnHold, models.StatusPickupScheduled},
	{models.StatusOnHold, models.StatusAtOriginHub},
	{models.StatusOnHold, models.StatusAtDestinationHub},
	{models.StatusOnHold, models.StatusException},
	{models.StatusOnHold, models.StatusReturnInitiated},
	{models.StatusOnHold, models.StatusCancelled},
	{models.StatusException, models.StatusAtOriginHub},
	{models.StatusException, models.StatusAtDestinationHub},
	{models.StatusException, models.StatusOutForDelivery},
	{models.StatusException, models.StatusOnHold},
	{models.StatusException, models.StatusReturnInitiated},
	{models.StatusException, models.StatusCancelled},

	// Returns
	{models.StatusReturnInitiated, models.StatusReturnedToSender},
	{models.StatusReturnInitiated, models.StatusException},
}

var edgeIndex = func() map[models.ShipmentStatus][]models.ShipmentStatus {
	idx := make(map[models.ShipmentStatus][]models.ShipmentStatus)
	for _, e := range edgeTable {
		idx[e.From] = append(idx[e.From], e.To)
	}
	return idx
}()

// Edges returns a copy of the full transition table.
func Edges() []Edge {
	out := make([]Edge, len(edgeTable))
	copy(out, edgeTable)
	return out
}

func CanTransition(from, to models.ShipmentStatus) bool {
	for _, t := range edgeIndex[from] {
		if t == to {
			return true
		}
	}
	return false
}

func Targets(from models.ShipmentStatus) []models.ShipmentStatus {
	out := make([]models.ShipmentStatus, len(edgeIndex[from]))
	copy(out, edgeIndex[from])
	return out
}

// Reachable returns every status reachable from start, start included.
func Reachable(start models.ShipmentStatus) map[models.ShipmentStatus]bool {
	seen := map[models.ShipmentStatus]bool{start: true}
	queue := []models.ShipmentStatus{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edgeIndex[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// progression ranks the forward path. ON_HOLD and EXCEPTION are side
// states and carry no rank.
var progression = map[models.ShipmentStatus]int{
	models.StatusBooked:           0,
	models.StatusPickupScheduled:  1,
	models.StatusPickedUp:         2,
	models.StatusAtOriginHub:      3,
	models.StatusBagged:           4,
	models.StatusLinehaulDeparted: 5,
	models.StatusLinehaulArrived:  6,
	models.StatusAtDestinationHub: 7,
	models.StatusOutForDelivery:   8,
	models.StatusFailedDelivery:   9,
	models.StatusPartialDelivered: 9,
	models.StatusDelivered:        10,
	models.StatusReturnInitiated:  11,
	models.StatusReturnedToSender: 12,
	models.StatusCancelled:        12,
}

func Rank(s models.ShipmentStatus) (int, bool) {
	r, ok := progression[s]
	return r, ok
}

// IsSoloMovement reports whether reaching s means the shipment physically
// moves on its own, which a frozen consolidation member may not do.
func IsSoloMovement(s models.ShipmentStatus) bool {
	switch s {
	case models.StatusLinehaulDeparted,
		models.StatusLinehaulArrived,
		models.StatusAtDestinationHub,
		models.StatusOutForDelivery,
		models.StatusDelivered,
		models.StatusPartialDelivered,
		models.StatusFailedDelivery,
		models.StatusReturnInitiated,
		models.StatusReturnedToSender,
		models.StatusCancelled:
		return true
	}
	return false
}
