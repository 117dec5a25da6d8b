package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"swiftride/internal/lifecycle"
	"swiftride/internal/models"

	"go.uber.org/zap"
)

var (
	ErrBadSignature   = errors.New("callback signature mismatch")
	ErrAmountMismatch = errors.New("amount does not match order price")
	ErrNotPayable     = errors.New("order is not awaiting payment")
	ErrMissingField   = errors.New("callback missing required field")
)

// Provider parameter names follow the VNPAY convention: flat query params, a
// hex HMAC-SHA512 over the sorted encoded query appended as vnp_SecureHash.
const (
	paramVersion     = "vnp_Version"
	paramCommand     = "vnp_Command"
	paramTmnCode     = "vnp_TmnCode"
	paramAmount      = "vnp_Amount"
	paramCurrency    = "vnp_CurrCode"
	paramTxnRef      = "vnp_TxnRef"
	paramOrderInfo   = "vnp_OrderInfo"
	paramCreateDate  = "vnp_CreateDate"
	paramExpireDate  = "vnp_ExpireDate"
	paramReturnURL   = "vnp_ReturnUrl"
	paramTxnNo       = "vnp_TransactionNo"
	paramRespCode    = "vnp_ResponseCode"
	paramSecureHash  = "vnp_SecureHash"
	paramHashType    = "vnp_SecureHashType"
	respCodeApproved = "00"

	providerDateLayout = "20060102150405"
)

type Config struct {
	TmnCode   string
	SecretKey string
	PayURL    string
	ReturnURL string
}

// Store is the slice of persistence the adapter needs: order reads and the
// callback dedup insert. RecordCallback reports false when the
// (order_id, provider_txn_id) pair was already recorded.
type Store interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	RecordCallback(ctx context.Context, cb *models.GatewayCallback) (bool, error)
}

// Lifecycle is the part of the order manager the adapter drives. The adapter
// never mutates ledger state; money movement hangs off the transitions.
type Lifecycle interface {
	TransitionWithReason(ctx context.Context, orderID string, event lifecycle.Event, reason string) (*models.Order, error)
}

type Adapter struct {
	Store  Store
	Orders Lifecycle
	Config Config
	Log    *zap.Logger
	Now    func() time.Time
}

func (a *Adapter) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// InitiatePayment builds the signed redirect URL for an order awaiting
// payment. The amount must equal the recorded price; anything else is
// treated as client tampering.
func (a *Adapter) InitiatePayment(ctx context.Context, orderID string, amountVND int64) (string, error) {
	o, err := a.Store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.Status != models.OrderPendingPayment {
		return "", fmt.Errorf("%w: status is %s", ErrNotPayable, o.Status)
	}
	if amountVND != o.PriceVND {
		return "", fmt.Errorf("%w: got %d, order price is %d", ErrAmountMismatch, amountVND, o.PriceVND)
	}

	now := a.now()
	params := map[string]string{
		paramVersion:    "2.1.0",
		paramCommand:    "pay",
		paramTmnCode:    a.Config.TmnCode,
		paramAmount:     strconv.FormatInt(o.PriceVND*100, 10), // provider wants 1/100 VND
		paramCurrency:   "VND",
		paramTxnRef:     o.OrderID,
		paramOrderInfo:  fmt.Sprintf("%s %s -> %s", o.Type, o.PickupAddress, o.DropoffAddress),
		paramCreateDate: now.Format(providerDateLayout),
		paramExpireDate: o.PaymentDeadline.Format(providerDateLayout),
		paramReturnURL:  a.Config.ReturnURL,
	}

	query := canonicalQuery(params)
	sig := a.sign(query)
	return a.Config.PayURL + "?" + query + "&" + paramSecureHash + "=" + sig, nil
}

// CallbackResult reports what reconciliation did with a callback.
type CallbackResult struct {
	OrderID       string
	ProviderTxnID string
	ResponseCode  string
	Approved      bool
	Replayed      bool
	Order         *models.Order
}

// ReconcileCallback verifies and applies a provider server-to-server
// callback. Invalid signatures drop the callback with no mutation. A replay
// of an already-recorded (order, provider txn) pair is reported via Replayed;
// if the recorded outcome never reached the order (the transition failed
// after the dedup insert) the retry re-runs the conditional transition, so
// provider retries converge on the recorded outcome.
func (a *Adapter) ReconcileCallback(ctx context.Context, raw map[string]string) (*CallbackResult, error) {
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == paramSecureHash || k == paramHashType {
			continue
		}
		params[k] = v
	}

	sig := raw[paramSecureHash]
	if sig == "" || !hmac.Equal([]byte(strings.ToLower(sig)), []byte(a.sign(canonicalQuery(params)))) {
		a.Log.Warn("gateway callback dropped: bad signature",
			zap.String("order_id", raw[paramTxnRef]),
			zap.String("provider_txn_id", raw[paramTxnNo]))
		return nil, ErrBadSignature
	}

	orderID := params[paramTxnRef]
	txnID := params[paramTxnNo]
	code := params[paramRespCode]
	if orderID == "" || txnID == "" || code == "" {
		return nil, fmt.Errorf("%w: need %s, %s, %s", ErrMissingField, paramTxnRef, paramTxnNo, paramRespCode)
	}

	o, err := a.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	rawAmount, err := strconv.ParseInt(params[paramAmount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable %s", ErrMissingField, paramAmount)
	}
	amountVND := rawAmount / 100
	if amountVND != o.PriceVND {
		a.Log.Warn("gateway callback dropped: amount mismatch",
			zap.String("order_id", orderID),
			zap.Int64("callback_vnd", amountVND),
			zap.Int64("order_vnd", o.PriceVND))
		return nil, fmt.Errorf("%w: callback %d, order %d", ErrAmountMismatch, amountVND, o.PriceVND)
	}

	inserted, err := a.Store.RecordCallback(ctx, &models.GatewayCallback{
		OrderID:       orderID,
		ProviderTxnID: txnID,
		ResponseCode:  code,
		AmountVND:     amountVND,
		ReceivedAt:    a.now(),
	})
	if err != nil {
		return nil, err
	}

	res := &CallbackResult{
		OrderID:       orderID,
		ProviderTxnID: txnID,
		ResponseCode:  code,
		Approved:      code == respCodeApproved,
	}
	if !inserted {
		res.Replayed = true
		if o.Status != models.OrderPendingPayment {
			res.Order = o
			a.Log.Info("gateway callback replayed",
				zap.String("order_id", orderID),
				zap.String("provider_txn_id", txnID))
			return res, nil
		}
		// Recorded but never applied: the order is still awaiting payment, so
		// the conditional transition below runs again off this retry.
		a.Log.Warn("gateway callback replayed with unapplied outcome",
			zap.String("order_id", orderID),
			zap.String("provider_txn_id", txnID))
	}

	event := lifecycle.EventGatewayFailure
	reason := "provider response code " + code
	if res.Approved {
		event = lifecycle.EventGatewaySuccess
		reason = "provider txn " + txnID
	}
	res.Order, err = a.Orders.TransitionWithReason(ctx, orderID, event, reason)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a *Adapter) sign(query string) string {
	mac := hmac.New(sha512.New, []byte(a.Config.SecretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery encodes params sorted by key, the byte string both sides
// sign. Empty values are skipped, matching provider behaviour.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
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
	return b.String()
}
