package lifecycle

import (
	"swiftride/internal/models"
)

// Event is a lifecycle trigger. Every legal status change is an edge in the
// transitions table below; anything else is rejected before touching storage.
type Event string

const (
	EventGatewaySuccess  Event = "gateway_success"
	EventGatewayFailure  Event = "gateway_failure"
	EventDriverAccept    Event = "driver_accept"
	EventDriverComplete  Event = "driver_complete"
	EventCustomerConfirm Event = "customer_confirm"
	EventDisburse        Event = "disburse"
	EventDispute         Event = "dispute"
	EventRefund          Event = "refund"
)

// transitions maps current status -> event -> next status.
// disputed has no outgoing edges here: it is exited only through
// Manager.ResolveDispute, which is an admin override rather than an event.
var transitions = map[models.OrderStatus]map[Event]models.OrderStatus{
	models.OrderPendingPayment: {
		EventGatewaySuccess: models.OrderPaymentSuccessful,
		EventGatewayFailure: models.OrderFailed,
	},
	models.OrderPaymentSuccessful: {
		EventDriverAccept: models.OrderAccepted,
		EventDispute:      models.OrderDisputed,
		EventRefund:       models.OrderRefunded,
	},
	models.OrderAccepted: {
		EventDriverComplete: models.OrderShipperCompleted,
		EventDispute:        models.OrderDisputed,
	},
	models.OrderShipperCompleted: {
		EventCustomerConfirm: models.OrderUserConfirmed,
		EventDispute:         models.OrderDisputed,
	},
	models.OrderUserConfirmed: {
		EventDisburse: models.OrderDriverPaid,
	},
	models.OrderDriverPaid: {},
	models.OrderDisputed:   {},
	models.OrderFailed:     {},
	models.OrderRefunded:   {},
}

// Next returns the status reached by applying event to from, and whether the
// edge exists.
func Next(from models.OrderStatus, event Event) (models.OrderStatus, bool) {
	edges, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := edges[event]
	return to, ok
}

// IsTerminal reports whether no event can move the order out of status.
// disputed is deliberately not terminal: admin resolution still exits it.
func IsTerminal(status models.OrderStatus) bool {
	switch status {
	case models.OrderDriverPaid, models.OrderFailed, models.OrderRefunded:
		return true
	}
	return false
}
