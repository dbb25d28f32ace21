package enums

import "fmt"

// OrderAction names a lifecycle operation an actor can request on an order.
type OrderAction string

const (
	OrderActionApprove       OrderAction = "approve"
	OrderActionReject        OrderAction = "reject"
	OrderActionSetStatus     OrderAction = "set_status"
	OrderActionComplete      OrderAction = "complete"
	OrderActionCancel        OrderAction = "cancel"
	OrderActionDelete        OrderAction = "delete"
	OrderActionUploadReceipt OrderAction = "upload_receipt"
)

var validOrderActions = []OrderAction{
	OrderActionApprove,
	OrderActionReject,
	OrderActionSetStatus,
	OrderActionComplete,
	OrderActionCancel,
	OrderActionDelete,
	OrderActionUploadReceipt,
}

// String implements fmt.Stringer.
func (a OrderAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known OrderAction.
func (a OrderAction) IsValid() bool {
	for _, candidate := range validOrderActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// AdminOnly reports whether only back-office users may request the action.
func (a OrderAction) AdminOnly() bool {
	return a != OrderActionUploadReceipt
}

// ParseOrderAction converts raw input into an OrderAction.
func ParseOrderAction(value string) (OrderAction, error) {
	for _, candidate := range validOrderActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order action %q", value)
}
