package models

import "time"

type OrderStatus string

const (
	OrderPendingPayment    OrderStatus = "pending_payment"
	OrderPaymentSuccessful OrderStatus = "payment_successful"
	OrderAccepted          OrderStatus = "accepted"
	OrderShipperCompleted  OrderStatus = "shipper_completed"
	OrderUserConfirmed     OrderStatus = "user_confirmed_completion"
	OrderDriverPaid        OrderStatus = "driver_paid"
	OrderDisputed          OrderStatus = "disputed"
	OrderFailed            OrderStatus = "failed"
	OrderRefunded          OrderStatus = "refunded"
)

type OrderType string

const (
	OrderTypeRide     OrderType = "order"
	OrderTypeDelivery OrderType = "delivery"
)

// Order is the central lifecycle record. Amounts are whole VND, distances
// kilometres. DriverID stays nil until a driver accepts.
type Order struct {
	OrderID           string
	CustomerID        string
	DriverID          *string
	Type              OrderType
	PickupAddress     string
	DropoffAddress    string
	PriceVND          int64
	DistanceKM        float64
	PickupAfter       *time.Time
	PickupBefore      *time.Time
	ItemWeightKG      *float64
	ItemType          *string
	ItemDimensions    *string
	Status            OrderStatus
	StatusDescription string
	// PriorStatus holds the status the order was frozen from while disputed.
	PriorStatus     *string
	PaymentDeadline time.Time
	AcceptedAt      *time.Time
	CompletedAt     *time.Time
	ConfirmedAt     *time.Time
	PaidOutAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TransactionKind string

const (
	TxnDriverCredit   TransactionKind = "driver_credit"
	TxnCustomerRefund TransactionKind = "customer_refund"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
)

// Transaction is an append-only ledger entry. The only permitted mutation is
// the pending -> completed flip on disbursement.
type Transaction struct {
	TxnID       string
	OrderID     string
	DriverID    *string
	CustomerID  *string
	Kind        TransactionKind
	AmountVND   int64
	Status      TransactionStatus
	Remarks     string
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutCancelled PayoutStatus = "cancelled"
)

// Payout is a manual admin-to-driver disbursement. AdminID is mandatory;
// there are no anonymous payouts.
type Payout struct {
	PayoutID   string
	DriverID   string
	AdminID    string
	AmountVND  int64
	Status     PayoutStatus
	Notes      string
	PayoutDate time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type DriverStatus string

const (
	DriverActive    DriverStatus = "active"
	DriverSuspended DriverStatus = "suspended"
)

type Driver struct {
	DriverID      string
	FullName      string
	Phone         string
	Email         string
	PasswordHash  string
	LicenseNumber string
	VehiclePlate  string
	DocumentURLs  []string
	Status        DriverStatus
	RatingSum     int64
	RatingCount   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Rating returns the aggregate star rating, 0 when unrated.
func (d *Driver) Rating() float64 {
	if d.RatingCount == 0 {
		return 0
	}
	return float64(d.RatingSum) / float64(d.RatingCount)
}

type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportReviewed ReportStatus = "reviewed"
	ReportResolved ReportStatus = "resolved"
	ReportRejected ReportStatus = "rejected"
)

// Report is a dispute filed against an order. At most one open
// (pending/reviewed) report may exist per order.
type Report struct {
	ReportID    string
	OrderID     string
	ReporterID  string
	ReportedID  string
	Type        string
	Description string
	Status      ReportStatus
	AdminID     *string
	AdminNote   string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Notification struct {
	NotificationID string
	RecipientID    string
	OrderID        string
	Kind           string
	Body           string
	Delivered      bool
	CreatedAt      time.Time
}

// GatewayCallback records each provider callback keyed on
// (order_id, provider_txn_id) so replays are detected without re-running
// the transition.
type GatewayCallback struct {
	OrderID       string
	ProviderTxnID string
	ResponseCode  string
	AmountVND     int64
	ReceivedAt    time.Time
}
