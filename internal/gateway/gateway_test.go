package gateway

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"swiftride/internal/lifecycle"
	"swiftride/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	orders    map[string]*models.Order
	callbacks map[string]models.GatewayCallback
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[string]*models.Order),
		callbacks: make(map[string]models.GatewayCallback),
	}
}

func (f *fakeStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) RecordCallback(_ context.Context, cb *models.GatewayCallback) (bool, error) {
	key := cb.OrderID + "/" + cb.ProviderTxnID
	if _, ok := f.callbacks[key]; ok {
		return false, nil
	}
	f.callbacks[key] = *cb
	return true, nil
}

type fakeLifecycle struct {
	store    *fakeStore
	events   []lifecycle.Event
	failNext error
}

func (f *fakeLifecycle) TransitionWithReason(_ context.Context, orderID string, event lifecycle.Event, reason string) (*models.Order, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	o, ok := f.store.orders[orderID]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	to, allowed := lifecycle.Next(o.Status, event)
	if !allowed {
		return nil, lifecycle.ErrInvalidTransition
	}
	f.events = append(f.events, event)
	o.Status = to
	o.StatusDescription = reason
	cp := *o
	return &cp, nil
}

func newAdapter() (*Adapter, *fakeStore, *fakeLifecycle) {
	st := newFakeStore()
	lc := &fakeLifecycle{store: st}
	a := &Adapter{
		Store:  st,
		Orders: lc,
		Config: Config{
			TmnCode:   "SWIFTRIDE",
			SecretKey: "test-secret",
			PayURL:    "https://pay.example/vpcpay.html",
			ReturnURL: "https://app.example/return",
		},
		Log: zap.NewNop(),
	}
	return a, st, lc
}

func pendingOrder(st *fakeStore, priceVND int64) *models.Order {
	o := &models.Order{
		OrderID:         "ord-1",
		CustomerID:      "cust-1",
		Type:            models.OrderTypeRide,
		PickupAddress:   "A",
		DropoffAddress:  "B",
		PriceVND:        priceVND,
		Status:          models.OrderPendingPayment,
		PaymentDeadline: time.Now().Add(15 * time.Minute),
	}
	st.orders[o.OrderID] = o
	return o
}

// signedCallback builds a provider callback the way the provider would: all
// params signed with the shared secret.
func signedCallback(a *Adapter, orderID, txnID, code string, amountVND int64) map[string]string {
	params := map[string]string{
		paramTmnCode:  a.Config.TmnCode,
		paramAmount:   strconv.FormatInt(amountVND*100, 10),
		paramTxnRef:   orderID,
		paramTxnNo:    txnID,
		paramRespCode: code,
	}
	params[paramSecureHash] = a.sign(canonicalQuery(params))
	return params
}

func TestInitiatePaymentBuildsSignedURL(t *testing.T) {
	a, st, _ := newAdapter()
	pendingOrder(st, 100000)

	redirect, err := a.InitiatePayment(context.Background(), "ord-1", 100000)
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "ord-1", q.Get(paramTxnRef))
	assert.Equal(t, "10000000", q.Get(paramAmount)) // 100000 VND in provider units
	assert.Equal(t, "VND", q.Get(paramCurrency))

	// The embedded hash must verify against the remaining params.
	sig := q.Get(paramSecureHash)
	params := make(map[string]string)
	for k := range q {
		if k == paramSecureHash {
			continue
		}
		params[k] = q.Get(k)
	}
	assert.Equal(t, a.sign(canonicalQuery(params)), sig)
}

func TestInitiatePaymentRejectsTamperedAmount(t *testing.T) {
	a, st, _ := newAdapter()
	pendingOrder(st, 100000)

	_, err := a.InitiatePayment(context.Background(), "ord-1", 1)
	assert.ErrorIs(t, err, ErrAmountMismatch)
}

func TestInitiatePaymentRequiresPendingOrder(t *testing.T) {
	a, st, _ := newAdapter()
	o := pendingOrder(st, 100000)
	o.Status = models.OrderPaymentSuccessful

	_, err := a.InitiatePayment(context.Background(), "ord-1", 100000)
	assert.ErrorIs(t, err, ErrNotPayable)
}

func TestReconcileCallbackSuccess(t *testing.T) {
	a, st, lc := newAdapter()
	pendingOrder(st, 100000)

	res, err := a.ReconcileCallback(context.Background(), signedCallback(a, "ord-1", "VNP123", "00", 100000))
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.False(t, res.Replayed)
	assert.Equal(t, models.OrderPaymentSuccessful, res.Order.Status)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventGatewaySuccess}, lc.events)
}

func TestReconcileCallbackFailureCode(t *testing.T) {
	a, st, lc := newAdapter()
	pendingOrder(st, 100000)

	res, err := a.ReconcileCallback(context.Background(), signedCallback(a, "ord-1", "VNP123", "24", 100000))
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, models.OrderFailed, res.Order.Status)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventGatewayFailure}, lc.events)
	assert.Contains(t, res.Order.StatusDescription, "24")
}

func TestReconcileCallbackBadSignature(t *testing.T) {
	a, st, lc := newAdapter()
	pendingOrder(st, 100000)

	params := signedCallback(a, "ord-1", "VNP123", "00", 100000)
	params[paramAmount] = "1" // tampered after signing

	_, err := a.ReconcileCallback(context.Background(), params)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, lc.events)
	assert.Empty(t, st.callbacks)
	assert.Equal(t, models.OrderPendingPayment, st.orders["ord-1"].Status)
}

func TestReconcileCallbackAmountMismatch(t *testing.T) {
	a, st, lc := newAdapter()
	pendingOrder(st, 100000)

	// Correctly signed, but the amount disagrees with the order.
	_, err := a.ReconcileCallback(context.Background(), signedCallback(a, "ord-1", "VNP123", "00", 99999))
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Empty(t, lc.events)
}

func TestReconcileCallbackReplayIsIdempotent(t *testing.T) {
	a, st, lc := newAdapter()
	pendingOrder(st, 100000)

	params := signedCallback(a, "ord-1", "VNP123", "00", 100000)

	first, err := a.ReconcileCallback(context.Background(), params)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := a.ReconcileCallback(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, second.Replayed)

	// Exactly one transition and one callback row after the replay.
	assert.Equal(t, []lifecycle.Event{lifecycle.EventGatewaySuccess}, lc.events)
	assert.Len(t, st.callbacks, 1)
	assert.Equal(t, models.OrderPaymentSuccessful, st.orders["ord-1"].Status)
}

func TestReconcileCallbackRetryAppliesUnlandedOutcome(t *testing.T) {
	a, st, lc := newAdapter()
	pendingOrder(st, 100000)

	params := signedCallback(a, "ord-1", "VNP123", "00", 100000)

	// First delivery records the callback but the transition fails.
	lc.failNext = errors.New("connection reset")
	_, err := a.ReconcileCallback(context.Background(), params)
	require.Error(t, err)
	require.Len(t, st.callbacks, 1)
	require.Equal(t, models.OrderPendingPayment, st.orders["ord-1"].Status)

	// The provider retries the identical callback: the recorded outcome must
	// reach the order this time, not be absorbed as a no-op.
	res, err := a.ReconcileCallback(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.True(t, res.Approved)
	assert.Equal(t, models.OrderPaymentSuccessful, res.Order.Status)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventGatewaySuccess}, lc.events)
	assert.Len(t, st.callbacks, 1)
}

func TestReconcileCallbackMissingFields(t *testing.T) {
	a, st, _ := newAdapter()
	pendingOrder(st, 100000)

	params := map[string]string{
		paramTxnRef: "ord-1",
		paramAmount: "10000000",
	}
	params[paramSecureHash] = a.sign(canonicalQuery(params))

	_, err := a.ReconcileCallback(context.Background(), params)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestCanonicalQuerySortsAndSkipsEmpty(t *testing.T) {
	q := canonicalQuery(map[string]string{
		"b": "2",
		"a": "1",
		"c": "",
	})
	assert.Equal(t, "a=1&b=2", q)
}
