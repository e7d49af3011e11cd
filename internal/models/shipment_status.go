package models

// ShipmentStatus is the single typed lifecycle status of a shipment.
type ShipmentStatus string

const (
	StatusBooked           ShipmentStatus = "BOOKED"
	StatusPickupScheduled  ShipmentStatus = "PICKUP_SCHEDULED"
	StatusPickedUp         ShipmentStatus = "PICKED_UP"
	StatusAtOriginHub      ShipmentStatus = "AT_ORIGIN_HUB"
	StatusBagged           ShipmentStatus = "BAGGED"
	StatusLinehaulDeparted ShipmentStatus = "LINEHAUL_DEPARTED"
	StatusLinehaulArrived  ShipmentStatus = "LINEHAUL_ARRIVED"
	StatusAtDestinationHub ShipmentStatus = "AT_DESTINATION_HUB"
	StatusOutForDelivery   ShipmentStatus = "OUT_FOR_DELIVERY"
	StatusDelivered        ShipmentStatus = "DELIVERED"
	StatusPartialDelivered ShipmentStatus = "PARTIAL_DELIVERED"
	StatusFailedDelivery   ShipmentStatus = "FAILED_DELIVERY"
	StatusOnHold           ShipmentStatus = "ON_HOLD"
	StatusException        ShipmentStatus = "EXCEPTION"
	StatusReturnInitiated  ShipmentStatus = "RETURN_INITIATED"
	StatusReturnedToSender ShipmentStatus = "RETURNED_TO_SENDER"
	StatusCancelled        ShipmentStatus = "CANCELLED"
)

// AllStatuses lists every status in graph order.
var AllStatuses = []ShipmentStatus{
	StatusBooked,
	StatusPickupScheduled,
	StatusPickedUp,
	StatusAtOriginHub,
	StatusBagged,
	StatusLinehaulDeparted,
	StatusLinehaulArrived,
	StatusAtDestinationHub,
	StatusOutForDelivery,
	StatusPartialDelivered,
	StatusFailedDelivery,
	StatusDelivered,
	StatusOnHold,
	StatusException,
	StatusReturnInitiated,
	StatusReturnedToSender,
	StatusCancelled,
}

// IsTerminal reports whether the status closes the shipment.
func (s ShipmentStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturnedToSender:
		return true
	}
	return false
}

func (s ShipmentStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// TriggerSource names what caused a status change.
type TriggerSource string

const (
	TriggerManual        TriggerSource = "manual"
	TriggerScan          TriggerSource = "scan"
	TriggerSystem        TriggerSource = "system"
	TriggerConsolidation TriggerSource = "consolidation"
)

// LocationType describes where a status change physically happened.
type LocationType string

const (
	LocationBranch  LocationType = "branch"
	LocationVehicle LocationType = "vehicle"
	LocationRemote  LocationType = "remote"
)
