package lifecycle_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"swiftride/internal/gateway"
	"swiftride/internal/ledger"
	"swiftride/internal/lifecycle"
	"swiftride/internal/models"
	"swiftride/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore backs the full service graph for the happy-path scenario,
// reproducing the conditional-write semantics of the SQL layer.
type memStore struct {
	orders    map[string]*models.Order
	callbacks map[string]models.GatewayCallback
	txns      []models.Transaction
	payouts   map[string]*models.Payout
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]*models.Order),
		callbacks: make(map[string]models.GatewayCallback),
		payouts:   make(map[string]*models.Payout),
	}
}

func (m *memStore) CreateOrder(_ context.Context, o *models.Order) error {
	cp := *o
	m.orders[o.OrderID] = &cp
	return nil
}

func (m *memStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) ApplyOrderTransition(_ context.Context, t lifecycle.OrderTransition) (int64, error) {
	o, ok := m.orders[t.OrderID]
	if !ok || o.Status != t.From {
		return 0, nil
	}
	if t.To == models.OrderDisputed {
		prior := string(o.Status)
		o.PriorStatus = &prior
	} else if o.Status == models.OrderDisputed {
		o.PriorStatus = nil
	}
	if t.DriverID != nil {
		o.DriverID = t.DriverID
	}
	switch t.To {
	case models.OrderAccepted:
		o.AcceptedAt = &t.Now
	case models.OrderShipperCompleted:
		o.CompletedAt = &t.Now
	case models.OrderUserConfirmed:
		o.ConfirmedAt = &t.Now
	case models.OrderDriverPaid:
		o.PaidOutAt = &t.Now
	}
	o.Status = t.To
	if t.Description != "" {
		o.StatusDescription = t.Description
	}
	o.UpdatedAt = t.Now
	return 1, nil
}

func (m *memStore) ListOrders(_ context.Context, customerID string, status models.OrderStatus, _, _ int) ([]models.Order, int64, error) {
	var out []models.Order
	for _, o := range m.orders {
		if customerID != "" && o.CustomerID != customerID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
	}
	return out, int64(len(out)), nil
}

func (m *memStore) RecordCallback(_ context.Context, cb *models.GatewayCallback) (bool, error) {
	key := cb.OrderID + "/" + cb.ProviderTxnID
	if _, ok := m.callbacks[key]; ok {
		return false, nil
	}
	m.callbacks[key] = *cb
	return true, nil
}

func (m *memStore) InsertTransaction(_ context.Context, txn *models.Transaction) (bool, error) {
	for _, existing := range m.txns {
		if existing.OrderID == txn.OrderID && existing.Kind == txn.Kind {
			return false, nil
		}
	}
	m.txns = append(m.txns, *txn)
	return true, nil
}

func (m *memStore) CompleteDriverCredit(_ context.Context, orderID, driverID string, now time.Time) (int64, error) {
	for i := range m.txns {
		t := &m.txns[i]
		if t.OrderID == orderID && t.Kind == models.TxnDriverCredit &&
			t.Status == models.TxnPending && t.DriverID != nil && *t.DriverID == driverID {
			t.Status = models.TxnCompleted
			t.ProcessedAt = &now
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memStore) CreatePayout(_ context.Context, p *models.Payout) error {
	cp := *p
	m.payouts[p.PayoutID] = &cp
	return nil
}

func (m *memStore) UpdatePayoutStatus(_ context.Context, payoutID string, from, to models.PayoutStatus, now time.Time) (int64, error) {
	p, ok := m.payouts[payoutID]
	if !ok || p.Status != from {
		return 0, nil
	}
	p.Status = to
	p.UpdatedAt = now
	return 1, nil
}

func (m *memStore) DriverBalance(_ context.Context, driverID string) (int64, error) {
	var bal int64
	for _, t := range m.txns {
		if t.Kind == models.TxnDriverCredit && t.Status == models.TxnCompleted &&
			t.DriverID != nil && *t.DriverID == driverID {
			bal += t.AmountVND
		}
	}
	for _, p := range m.payouts {
		if p.DriverID == driverID && p.Status == models.PayoutCompleted {
			bal -= p.AmountVND
		}
	}
	return bal, nil
}

func (m *memStore) ListDriverTransactions(_ context.Context, driverID string) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range m.txns {
		if t.DriverID != nil && *t.DriverID == driverID {
			out = append(out, t)
		}
	}
	return out, nil
}

// providerCallback signs params the way the payment provider does: hex
// HMAC-SHA512 over the sorted encoded query.
func providerCallback(secret, orderID, txnID, code string, amountVND int64) map[string]string {
	params := map[string]string{
		"vnp_TmnCode":       "SWIFTRIDE",
		"vnp_Amount":        strconv.FormatInt(amountVND*100, 10),
		"vnp_TxnRef":        orderID,
		"vnp_TransactionNo": txnID,
		"vnp_ResponseCode":  code,
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	params["vnp_SecureHash"] = hex.EncodeToString(mac.Sum(nil))
	return params
}

// TestOrderLifecycleEndToEnd drives one order from creation through payment,
// fulfilment, confirmation and disbursement with the real manager, ledger and
// gateway adapter wired together over an in-memory store.
func TestOrderLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	log := zap.NewNop()
	const secret = "scenario-secret"

	orders := &lifecycle.Manager{
		Store:      st,
		Pricing:    pricing.Service{BaseFareVND: 15000, PerKMVND: 9000, PerKGVND: 2000},
		PaymentTTL: 15 * time.Minute,
		Log:        log,
	}
	wallet := &ledger.Ledger{Store: st, Orders: orders, FeeBps: 1500, Log: log}
	orders.Credits = wallet
	gw := &gateway.Adapter{
		Store:  st,
		Orders: orders,
		Config: gateway.Config{
			TmnCode:   "SWIFTRIDE",
			SecretKey: secret,
			PayURL:    "https://pay.example/vpcpay.html",
			ReturnURL: "https://app.example/return",
		},
		Log: log,
	}

	// Create: zero price is quoted from the tariff.
	o, err := orders.CreateOrder(ctx, lifecycle.CreateOrderInput{
		CustomerID:     "cust-1",
		Type:           models.OrderTypeRide,
		PickupAddress:  "1 Le Loi, Q1",
		DropoffAddress: "15 Nguyen Hue, Q1",
		DistanceKM:     10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(105000), o.PriceVND)
	require.Equal(t, models.OrderPendingPayment, o.Status)

	// Refunds need a successful payment first.
	_, err = wallet.Refund(ctx, o.OrderID, "changed my mind")
	require.ErrorIs(t, err, ledger.ErrNotRefundable)

	redirect, err := gw.InitiatePayment(ctx, o.OrderID, o.PriceVND)
	require.NoError(t, err)
	require.Contains(t, redirect, "vnp_SecureHash=")

	// Provider confirms the payment server-to-server.
	cb := providerCallback(secret, o.OrderID, "VNP001", "00", o.PriceVND)
	res, err := gw.ReconcileCallback(ctx, cb)
	require.NoError(t, err)
	require.True(t, res.Approved)
	require.Equal(t, models.OrderPaymentSuccessful, res.Order.Status)

	// Provider retries are absorbed without a second transition.
	res, err = gw.ReconcileCallback(ctx, cb)
	require.NoError(t, err)
	require.True(t, res.Replayed)
	require.Equal(t, models.OrderPaymentSuccessful, st.orders[o.OrderID].Status)

	// Fulfilment: accept, complete, confirm.
	accepted, err := orders.Accept(ctx, o.OrderID, "drv-1")
	require.NoError(t, err)
	require.Equal(t, models.OrderAccepted, accepted.Status)
	require.NotNil(t, accepted.DriverID)
	require.NotNil(t, accepted.AcceptedAt)

	_, err = orders.Transition(ctx, o.OrderID, lifecycle.EventDriverComplete)
	require.NoError(t, err)

	confirmed, err := orders.Transition(ctx, o.OrderID, lifecycle.EventCustomerConfirm)
	require.NoError(t, err)
	require.Equal(t, models.OrderUserConfirmed, confirmed.Status)

	// Confirmation wrote exactly one pending credit for the driver's share.
	require.Len(t, st.txns, 1)
	share := st.txns[0]
	assert.Equal(t, models.TxnDriverCredit, share.Kind)
	assert.Equal(t, models.TxnPending, share.Status)
	assert.Equal(t, int64(89250), share.AmountVND) // 105000 less 15% fee

	// Nothing is spendable until disbursement.
	bal, err := wallet.Balance(ctx, "drv-1")
	require.NoError(t, err)
	assert.Zero(t, bal)

	paid, err := wallet.Disburse(ctx, "drv-1", o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDriverPaid, paid.Status)
	assert.NotNil(t, paid.PaidOutAt)

	bal, err = wallet.Balance(ctx, "drv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(89250), bal)

	// The order is settled: no second disbursement, no refund.
	_, err = wallet.Disburse(ctx, "drv-1", o.OrderID)
	assert.ErrorIs(t, err, ledger.ErrNoPendingCredit)
	_, err = wallet.Refund(ctx, o.OrderID, "too late")
	assert.ErrorIs(t, err, ledger.ErrNotRefundable)
}

// TestDisputeScenario freezes a paid order via a dispute and refunds it
// through the ledger, exercising the prior-status bookkeeping end to end.
func TestDisputeScenario(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	log := zap.NewNop()

	orders := &lifecycle.Manager{
		Store:      st,
		PaymentTTL: 15 * time.Minute,
		Log:        log,
	}
	wallet := &ledger.Ledger{Store: st, Orders: orders, FeeBps: 1500, Log: log}
	orders.Credits = wallet

	o, err := orders.CreateOrder(ctx, lifecycle.CreateOrderInput{
		CustomerID:     "cust-1",
		Type:           models.OrderTypeRide,
		PickupAddress:  "A",
		DropoffAddress: "B",
		PriceVND:       100000,
	})
	require.NoError(t, err)
	_, err = orders.Transition(ctx, o.OrderID, lifecycle.EventGatewaySuccess)
	require.NoError(t, err)
	_, err = orders.Accept(ctx, o.OrderID, "drv-1")
	require.NoError(t, err)

	disputed, err := orders.TransitionWithReason(ctx, o.OrderID, lifecycle.EventDispute, "customer report")
	require.NoError(t, err)
	require.Equal(t, models.OrderDisputed, disputed.Status)
	require.NotNil(t, disputed.PriorStatus)
	require.Equal(t, string(models.OrderAccepted), *disputed.PriorStatus)

	// Frozen orders take no lifecycle events.
	_, err = orders.Transition(ctx, o.OrderID, lifecycle.EventDriverComplete)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	// Refund during the dispute settles the customer and closes the order.
	refunded, err := wallet.Refund(ctx, o.OrderID, "driver never arrived")
	require.NoError(t, err)
	assert.Equal(t, models.OrderRefunded, refunded.Status)
	assert.Nil(t, refunded.PriorStatus)

	require.Len(t, st.txns, 1)
	assert.Equal(t, models.TxnCustomerRefund, st.txns[0].Kind)
	assert.Equal(t, int64(100000), st.txns[0].AmountVND)
}
