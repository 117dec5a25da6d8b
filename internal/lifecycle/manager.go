package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swiftride/internal/models"
	"swiftride/internal/pricing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("order modified concurrently")
	ErrDriverRequired    = errors.New("driver id required")
)

// ValidationError carries field-level detail for bad createOrder input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OrderTransition describes a conditional status write: the update applies
// only while the order still holds From, otherwise zero rows are touched and
// the caller sees ErrConflict.
type OrderTransition struct {
	OrderID     string
	From        models.OrderStatus
	To          models.OrderStatus
	Description string
	DriverID    *string // set when a driver accepts
	Now         time.Time
}

// Store is the persistence surface the manager needs. GetOrder returns
// ErrNotFound for unknown ids; ApplyOrderTransition returns the number of
// rows the conditional update touched.
type Store interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ApplyOrderTransition(ctx context.Context, t OrderTransition) (int64, error)
	ListOrders(ctx context.Context, customerID string, status models.OrderStatus, offset, limit int) ([]models.Order, int64, error)
}

// CreditIssuer is implemented by the wallet ledger. The manager calls it
// exactly when an order reaches user_confirmed_completion.
type CreditIssuer interface {
	RecordOrderCredit(ctx context.Context, order *models.Order) error
}

// Notifier pushes status-change notifications. Failures are logged, never
// propagated: notification delivery must not fail a transition.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, order *models.Order)
}

type Manager struct {
	Store      Store
	Credits    CreditIssuer
	Notifier   Notifier
	Pricing    pricing.Service
	PaymentTTL time.Duration
	Log        *zap.Logger
	Now        func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

type CreateOrderInput struct {
	CustomerID     string
	Type           models.OrderType
	PickupAddress  string
	DropoffAddress string
	PriceVND       int64
	DistanceKM     float64
	PickupAfter    *time.Time
	PickupBefore   *time.Time
	ItemWeightKG   *float64
	ItemType       *string
	ItemDimensions *string
}

func (in *CreateOrderInput) validate() error {
	if strings.TrimSpace(in.CustomerID) == "" {
		return &ValidationError{Field: "customer_id", Reason: "required"}
	}
	if in.Type != models.OrderTypeRide && in.Type != models.OrderTypeDelivery {
		return &ValidationError{Field: "type", Reason: "must be order or delivery"}
	}
	if strings.TrimSpace(in.PickupAddress) == "" {
		return &ValidationError{Field: "pickup_address", Reason: "required"}
	}
	if strings.TrimSpace(in.DropoffAddress) == "" {
		return &ValidationError{Field: "dropoff_address", Reason: "required"}
	}
	if in.PriceVND < 0 {
		return &ValidationError{Field: "price_vnd", Reason: "must not be negative"}
	}
	if in.DistanceKM < 0 {
		return &ValidationError{Field: "distance_km", Reason: "must not be negative"}
	}
	if in.Type == models.OrderTypeDelivery {
		if in.ItemWeightKG == nil || *in.ItemWeightKG <= 0 {
			return &ValidationError{Field: "item_weight_kg", Reason: "required for deliveries"}
		}
		if in.ItemType == nil || strings.TrimSpace(*in.ItemType) == "" {
			return &ValidationError{Field: "item_type", Reason: "required for deliveries"}
		}
		if in.ItemDimensions == nil || strings.TrimSpace(*in.ItemDimensions) == "" {
			return &ValidationError{Field: "item_dimensions", Reason: "required for deliveries"}
		}
	}
	return nil
}

// CreateOrder validates the payload and persists a new order in
// pending_payment. A zero price is quoted from distance (and weight for
// deliveries) using the configured tariff.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	price := in.PriceVND
	if price == 0 {
		var weight float64
		if in.ItemWeightKG != nil {
			weight = *in.ItemWeightKG
		}
		price = m.Pricing.Quote(in.DistanceKM, weight)
	}

	now := m.now()
	o := &models.Order{
		OrderID:         uuid.NewString(),
		CustomerID:      strings.TrimSpace(in.CustomerID),
		Type:            in.Type,
		PickupAddress:   strings.TrimSpace(in.PickupAddress),
		DropoffAddress:  strings.TrimSpace(in.DropoffAddress),
		PriceVND:        price,
		DistanceKM:      in.DistanceKM,
		PickupAfter:     in.PickupAfter,
		PickupBefore:    in.PickupBefore,
		ItemWeightKG:    in.ItemWeightKG,
		ItemType:        in.ItemType,
		ItemDimensions:  in.ItemDimensions,
		Status:          models.OrderPendingPayment,
		PaymentDeadline: now.Add(m.PaymentTTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.Store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	m.Log.Info("order created",
		zap.String("order_id", o.OrderID),
		zap.String("type", string(o.Type)),
		zap.Int64("price_vnd", o.PriceVND))
	return o, nil
}

// Transition applies event to the order identified by orderID. It fails with
// ErrInvalidTransition when the current status has no edge for event and with
// ErrConflict when a concurrent write moved the order between read and write.
func (m *Manager) Transition(ctx context.Context, orderID string, event Event) (*models.Order, error) {
	return m.transition(ctx, orderID, event, "", nil)
}

// TransitionWithReason behaves like Transition and records free-text context
// (gateway response codes, failure reasons) on the order.
func (m *Manager) TransitionWithReason(ctx context.Context, orderID string, event Event, reason string) (*models.Order, error) {
	return m.transition(ctx, orderID, event, reason, nil)
}

// Accept assigns the driver and moves the order to accepted in one
// conditional write, keeping the driver-required invariant intact.
func (m *Manager) Accept(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return nil, ErrDriverRequired
	}
	return m.transition(ctx, orderID, EventDriverAccept, "", &driverID)
}

func (m *Manager) transition(ctx context.Context, orderID string, event Event, reason string, driverID *string) (*models.Order, error) {
	o, err := m.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	to, ok := Next(o.Status, event)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not allow %s", ErrInvalidTransition, o.Status, event)
	}

	now := m.now()
	rows, err := m.Store.ApplyOrderTransition(ctx, OrderTransition{
		OrderID:     orderID,
		From:        o.Status,
		To:          to,
		Description: reason,
		DriverID:    driverID,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrConflict
	}

	updated, err := m.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	m.Log.Info("order transitioned",
		zap.String("order_id", orderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
		zap.String("event", string(event)))

	if to == models.OrderUserConfirmed && m.Credits != nil {
		if err := m.Credits.RecordOrderCredit(ctx, updated); err != nil {
			m.Log.Error("credit issuance failed",
				zap.String("order_id", orderID), zap.Error(err))
			return nil, err
		}
	}

	if m.Notifier != nil {
		m.Notifier.OrderStatusChanged(ctx, updated)
	}
	return updated, nil
}

// DisputeOutcome is the admin's verdict on a disputed order.
type DisputeOutcome string

const (
	OutcomeRejected DisputeOutcome = "rejected" // dispute dismissed, order resumes
	OutcomeRefund   DisputeOutcome = "refund"   // customer wins, refund path
	OutcomeFail     DisputeOutcome = "fail"     // order voided without refund
)

// ResolveDispute is the only exit from disputed. A rejected dispute restores
// the status the order was frozen from; refund and fail move it to the
// corresponding terminal.
func (m *Manager) ResolveDispute(ctx context.Context, orderID string, outcome DisputeOutcome, note string) (*models.Order, error) {
	o, err := m.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.OrderDisputed {
		return nil, fmt.Errorf("%w: order is %s, not disputed", ErrInvalidTransition, o.Status)
	}

	var to models.OrderStatus
	switch outcome {
	case OutcomeRejected:
		if o.PriorStatus == nil {
			return nil, fmt.Errorf("%w: disputed order has no prior status", ErrInvalidTransition)
		}
		to = models.OrderStatus(*o.PriorStatus)
	case OutcomeRefund:
		to = models.OrderRefunded
	case OutcomeFail:
		to = models.OrderFailed
	default:
		return nil, fmt.Errorf("%w: unknown dispute outcome %q", ErrInvalidTransition, outcome)
	}

	rows, err := m.Store.ApplyOrderTransition(ctx, OrderTransition{
		OrderID:     orderID,
		From:        models.OrderDisputed,
		To:          to,
		Description: note,
		Now:         m.now(),
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrConflict
	}

	updated, err := m.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	m.Log.Info("dispute resolved",
		zap.String("order_id", orderID),
		zap.String("outcome", string(outcome)),
		zap.String("status", string(updated.Status)))
	if m.Notifier != nil {
		m.Notifier.OrderStatusChanged(ctx, updated)
	}
	return updated, nil
}

func (m *Manager) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrNotFound
	}
	return m.Store.GetOrder(ctx, orderID)
}

func (m *Manager) ListOrders(ctx context.Context, customerID string, status models.OrderStatus, offset, limit int) ([]models.Order, int64, error) {
	return m.Store.ListOrders(ctx, strings.TrimSpace(customerID), status, offset, limit)
}
