package enums

import "fmt"

// ShipmentStageStatus tracks a single logistics checkpoint for an order.
type ShipmentStageStatus string

const (
	ShipmentStagePending    ShipmentStageStatus = "pending"
	ShipmentStageInProgress ShipmentStageStatus = "in_progress"
	ShipmentStageCompleted  ShipmentStageStatus = "completed"
)

var validShipmentStageStatuses = []ShipmentStageStatus{
	ShipmentStagePending,
	ShipmentStageInProgress,
	ShipmentStageCompleted,
}

// String implements fmt.Stringer.
func (s ShipmentStageStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShipmentStageStatus.
func (s ShipmentStageStatus) IsValid() bool {
	for _, candidate := range validShipmentStageStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseShipmentStageStatus converts raw input into a ShipmentStageStatus.
func ParseShipmentStageStatus(value string) (ShipmentStageStatus, error) {
	for _, candidate := range validShipmentStageStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment stage status %q", value)
}
