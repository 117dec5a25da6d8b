package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swiftride/internal/lifecycle"
	"swiftride/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateCredit and ErrNoPendingCredit flag data-integrity faults,
	// not user errors; handlers surface them as server errors.
	ErrDuplicateCredit  = errors.New("credit already recorded for order")
	ErrNoPendingCredit  = errors.New("no pending credit to disburse")
	ErrAdminRequired    = errors.New("admin id required for payout")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrNotRefundable    = errors.New("order has no successful payment to refund")
	ErrPayoutNotPending = errors.New("payout is not pending")
)

// Store is the ledger's persistence surface. InsertTransaction reports false
// when a row for (order_id, kind) already exists — the unique index is the
// at-most-once guard, not application-level check-then-write.
type Store interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	InsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error)
	CompleteDriverCredit(ctx context.Context, orderID, driverID string, now time.Time) (int64, error)
	CreatePayout(ctx context.Context, p *models.Payout) error
	UpdatePayoutStatus(ctx context.Context, payoutID string, from, to models.PayoutStatus, now time.Time) (int64, error)
	DriverBalance(ctx context.Context, driverID string) (int64, error)
	ListDriverTransactions(ctx context.Context, driverID string) ([]models.Transaction, error)
}

// Lifecycle is the slice of the order manager the ledger drives when money
// movement implies a status change.
type Lifecycle interface {
	Transition(ctx context.Context, orderID string, event lifecycle.Event) (*models.Order, error)
	ResolveDispute(ctx context.Context, orderID string, outcome lifecycle.DisputeOutcome, note string) (*models.Order, error)
}

type Ledger struct {
	Store  Store
	Orders Lifecycle
	FeeBps int64 // platform fee in basis points of the order price
	Log    *zap.Logger
	Now    func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// DriverShare is the order price less the platform fee.
func (l *Ledger) DriverShare(priceVND int64) int64 {
	return priceVND - priceVND*l.FeeBps/10000
}

// RecordOrderCredit creates the pending driver credit for a confirmed order.
// Called by the lifecycle manager exactly when an order reaches
// user_confirmed_completion; a second call for the same order fails with
// ErrDuplicateCredit.
func (l *Ledger) RecordOrderCredit(ctx context.Context, order *models.Order) error {
	if order.DriverID == nil {
		return fmt.Errorf("order %s confirmed without driver", order.OrderID)
	}

	txn := &models.Transaction{
		TxnID:      uuid.NewString(),
		OrderID:    order.OrderID,
		DriverID:   order.DriverID,
		CustomerID: &order.CustomerID,
		Kind:       models.TxnDriverCredit,
		AmountVND:  l.DriverShare(order.PriceVND),
		Status:     models.TxnPending,
		Remarks:    fmt.Sprintf("driver share of order %s", order.OrderID),
		CreatedAt:  l.now(),
	}

	inserted, err := l.Store.InsertTransaction(ctx, txn)
	if err != nil {
		return err
	}
	if !inserted {
		l.Log.Error("duplicate order credit rejected",
			zap.String("order_id", order.OrderID),
			zap.Stringp("driver_id", order.DriverID))
		return ErrDuplicateCredit
	}

	l.Log.Info("order credit recorded",
		zap.String("order_id", order.OrderID),
		zap.Stringp("driver_id", order.DriverID),
		zap.Int64("amount_vnd", txn.AmountVND))
	return nil
}

// Disburse completes the pending credit for (driver, order) and moves the
// order to driver_paid. A missing pending credit is an invariant violation.
func (l *Ledger) Disburse(ctx context.Context, driverID, orderID string) (*models.Order, error) {
	now := l.now()
	rows, err := l.Store.CompleteDriverCredit(ctx, orderID, driverID, now)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		l.Log.Error("disburse without pending credit",
			zap.String("order_id", orderID),
			zap.String("driver_id", driverID))
		return nil, ErrNoPendingCredit
	}

	o, err := l.Orders.Transition(ctx, orderID, lifecycle.EventDisburse)
	if err != nil {
		return nil, err
	}
	l.Log.Info("credit disbursed",
		zap.String("order_id", orderID),
		zap.String("driver_id", driverID))
	return o, nil
}

type AdminPayoutInput struct {
	DriverID  string
	AdminID   string
	AmountVND int64
	Notes     string
	// Pending marks a payout awaiting a driver-initiated request instead of
	// the default immediate completion.
	Pending bool
}

// AdminPayout records a manual out-of-band disbursement. AdminID is
// mandatory; there are no anonymous payouts.
func (l *Ledger) AdminPayout(ctx context.Context, in AdminPayoutInput) (*models.Payout, error) {
	if strings.TrimSpace(in.AdminID) == "" {
		return nil, ErrAdminRequired
	}
	if strings.TrimSpace(in.DriverID) == "" {
		return nil, errors.New("driver id required")
	}
	if in.AmountVND <= 0 {
		return nil, ErrInvalidAmount
	}

	now := l.now()
	status := models.PayoutCompleted
	if in.Pending {
		status = models.PayoutPending
	}
	p := &models.Payout{
		PayoutID:   uuid.NewString(),
		DriverID:   strings.TrimSpace(in.DriverID),
		AdminID:    strings.TrimSpace(in.AdminID),
		AmountVND:  in.AmountVND,
		Status:     status,
		Notes:      in.Notes,
		PayoutDate: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.Store.CreatePayout(ctx, p); err != nil {
		return nil, err
	}
	l.Log.Info("admin payout recorded",
		zap.String("payout_id", p.PayoutID),
		zap.String("driver_id", p.DriverID),
		zap.String("admin_id", p.AdminID),
		zap.Int64("amount_vnd", p.AmountVND),
		zap.String("status", string(p.Status)))
	return p, nil
}

// CompletePayout settles a pending payout; CancelPayout retracts one. Both
// are conditional writes so a completed payout can never be re-issued or
// cancelled.
func (l *Ledger) CompletePayout(ctx context.Context, payoutID string) error {
	return l.flipPayout(ctx, payoutID, models.PayoutCompleted)
}

func (l *Ledger) CancelPayout(ctx context.Context, payoutID string) error {
	return l.flipPayout(ctx, payoutID, models.PayoutCancelled)
}

func (l *Ledger) flipPayout(ctx context.Context, payoutID string, to models.PayoutStatus) error {
	rows, err := l.Store.UpdatePayoutStatus(ctx, payoutID, models.PayoutPending, to, l.now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPayoutNotPending
	}
	return nil
}

// Refund issues a customer refund and moves the order to refunded. Only
// orders whose payment actually succeeded are refundable; for disputed
// orders that means the dispute froze a post-payment status.
func (l *Ledger) Refund(ctx context.Context, orderID, note string) (*models.Order, error) {
	o, err := l.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var updated *models.Order
	switch {
	case o.Status == models.OrderPaymentSuccessful:
		updated, err = l.Orders.Transition(ctx, orderID, lifecycle.EventRefund)
	case o.Status == models.OrderDisputed && o.PriorStatus != nil && paidStatus(models.OrderStatus(*o.PriorStatus)):
		updated, err = l.Orders.ResolveDispute(ctx, orderID, lifecycle.OutcomeRefund, note)
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotRefundable, o.Status)
	}
	if err != nil {
		return nil, err
	}

	now := l.now()
	txn := &models.Transaction{
		TxnID:       uuid.NewString(),
		OrderID:     orderID,
		CustomerID:  &o.CustomerID,
		Kind:        models.TxnCustomerRefund,
		AmountVND:   o.PriceVND,
		Status:      models.TxnCompleted,
		Remarks:     strings.TrimSpace("refund: " + note),
		ProcessedAt: &now,
		CreatedAt:   now,
	}
	inserted, err := l.Store.InsertTransaction(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrDuplicateCredit
	}

	l.Log.Info("order refunded",
		zap.String("order_id", orderID),
		zap.Int64("amount_vnd", o.PriceVND))
	return updated, nil
}

func paidStatus(s models.OrderStatus) bool {
	switch s {
	case models.OrderPaymentSuccessful, models.OrderAccepted, models.OrderShipperCompleted:
		return true
	}
	return false
}

// Balance is computed from the ledger on every call, never cached: completed
// driver credits minus completed payouts.
func (l *Ledger) Balance(ctx context.Context, driverID string) (int64, error) {
	return l.Store.DriverBalance(ctx, driverID)
}

func (l *Ledger) Transactions(ctx context.Context, driverID string) ([]models.Transaction, error) {
	return l.Store.ListDriverTransactions(ctx, driverID)
}
