package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"swiftride/internal/drivers"
	"swiftride/internal/gateway"
	"swiftride/internal/ledger"
	"swiftride/internal/lifecycle"
	"swiftride/internal/models"
	"swiftride/internal/reports"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	Orders  *lifecycle.Manager
	Gateway *gateway.Adapter
	Ledger  *ledger.Ledger
	Drivers *drivers.Service
	Reports *reports.Service
	Log     *zap.Logger
}

func NewHandler(orders *lifecycle.Manager, gw *gateway.Adapter, ldg *ledger.Ledger, drv *drivers.Service, rpt *reports.Service, log *zap.Logger) *Handler {
	return &Handler{Orders: orders, Gateway: gw, Ledger: ldg, Drivers: drv, Reports: rpt, Log: log}
}

// writeServiceError maps the error taxonomy onto HTTP codes: validation 400,
// not-found 404, transition/conflict 409, invariant violations 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *lifecycle.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "validation failed",
			"field":  vErr.Field,
			"detail": vErr.Reason,
		})
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, drivers.ErrNotFound),
		errors.Is(err, reports.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrConflict),
		errors.Is(err, ledger.ErrNotRefundable),
		errors.Is(err, ledger.ErrPayoutNotPending),
		errors.Is(err, reports.ErrOpenReportExists),
		errors.Is(err, reports.ErrReportClosed),
		errors.Is(err, drivers.ErrAlreadyInStatus):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrAmountMismatch),
		errors.Is(err, gateway.ErrNotPayable),
		errors.Is(err, lifecycle.ErrDriverRequired),
		errors.Is(err, ledger.ErrAdminRequired),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, reports.ErrAdminRequired),
		errors.Is(err, reports.ErrMissingField),
		errors.Is(err, drivers.ErrMissingField),
		errors.Is(err, drivers.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, drivers.ErrBadCredentials),
		errors.Is(err, drivers.ErrDriverSuspended):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, drivers.ErrPhoneAlreadyTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrDuplicateCredit),
		errors.Is(err, ledger.ErrNoPendingCredit):
		// Data-integrity faults, not user errors.
		h.Log.Error("ledger invariant violation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type createOrderRequest struct {
	Type           string   `json:"type"`
	PickupAddress  string   `json:"pickupAddress"`
	DropoffAddress string   `json:"dropoffAddress"`
	PriceVND       int64    `json:"priceVnd"`
	DistanceKM     float64  `json:"distanceKm"`
	PickupAfter    string   `json:"pickupAfter,omitempty"`
	PickupBefore   string   `json:"pickupBefore,omitempty"`
	ItemWeightKG   *float64 `json:"itemWeightKg,omitempty"`
	ItemType       *string  `json:"itemType,omitempty"`
	ItemDimensions *string  `json:"itemDimensions,omitempty"`
}

type orderResponse struct {
	OrderID           string  `json:"orderId"`
	CustomerID        string  `json:"customerId"`
	DriverID          *string `json:"driverId,omitempty"`
	Type              string  `json:"type"`
	PickupAddress     string  `json:"pickupAddress"`
	DropoffAddress    string  `json:"dropoffAddress"`
	PriceVND          int64   `json:"priceVnd"`
	DistanceKM        float64 `json:"distanceKm"`
	Status            string  `json:"status"`
	StatusDescription string  `json:"statusDescription,omitempty"`
	PaymentDeadline   string  `json:"paymentDeadline"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
}

func toOrderResponse(o *models.Order) orderResponse {
	return orderResponse{
		OrderID:           o.OrderID,
		CustomerID:        o.CustomerID,
		DriverID:          o.DriverID,
		Type:              string(o.Type),
		PickupAddress:     o.PickupAddress,
		DropoffAddress:    o.DropoffAddress,
		PriceVND:          o.PriceVND,
		DistanceKM:        o.DistanceKM,
		Status:            string(o.Status),
		StatusDescription: o.StatusDescription,
		PaymentDeadline:   o.PaymentDeadline.Format(time.RFC3339),
		CreatedAt:         o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         o.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	customerID := r.Header.Get("X-User-Id")
	if customerID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	in := lifecycle.CreateOrderInput{
		CustomerID:     customerID,
		Type:           models.OrderType(req.Type),
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		PriceVND:       req.PriceVND,
		DistanceKM:     req.DistanceKM,
		ItemWeightKG:   req.ItemWeightKG,
		ItemType:       req.ItemType,
		ItemDimensions: req.ItemDimensions,
	}
	if req.PickupAfter != "" {
		t, err := time.Parse(time.RFC3339, req.PickupAfter)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pickupAfter")
			return
		}
		in.PickupAfter = &t
	}
	if req.PickupBefore != "" {
		t, err := time.Parse(time.RFC3339, req.PickupBefore)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pickupBefore")
			return
		}
		in.PickupBefore = &t
	}

	o, err := h.Orders.CreateOrder(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset := atoiOr(q.Get("offset"), 0)
	limit := atoiOr(q.Get("limit"), 20)

	orders, total, err := h.Orders.ListOrders(r.Context(),
		q.Get("customer_id"), models.OrderStatus(q.Get("status")), offset, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": items, "total": total})
}

type initiatePaymentRequest struct {
	OrderID   string `json:"orderId"`
	AmountVND int64  `json:"amountVnd"`
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	redirectURL, err := h.Gateway.InitiatePayment(r.Context(), req.OrderID, req.AmountVND)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirectUrl": redirectURL})
}

// PaymentCallback is the provider's server-to-server notification. Responses
// follow the provider convention (RspCode) so its retry loop behaves: bad
// signatures are acknowledged with a reject code and no order is touched.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "99", "Message": "Unparsable"})
		return
	}
	params := make(map[string]string, len(r.Form))
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}

	_, err := h.Gateway.ReconcileCallback(r.Context(), params)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "00", "Message": "Confirm Success"})
	case errors.Is(err, gateway.ErrBadSignature):
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "97", "Message": "Invalid Checksum"})
	case errors.Is(err, lifecycle.ErrNotFound):
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "01", "Message": "Order Not Found"})
	case errors.Is(err, gateway.ErrAmountMismatch):
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "04", "Message": "Invalid Amount"})
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrConflict):
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "02", "Message": "Order Already Confirmed"})
	default:
		h.Log.Error("callback processing failed", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"RspCode": "99", "Message": "Unknown Error"})
	}
}

func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get("X-Driver-Id")
	o, err := h.Orders.Accept(r.Context(), chi.URLParam(r, "orderID"), driverID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Transition(r.Context(), chi.URLParam(r, "orderID"), lifecycle.EventDriverComplete)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) ConfirmCompletion(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Transition(r.Context(), chi.URLParam(r, "orderID"), lifecycle.EventCustomerConfirm)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) DisburseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	o, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if o.DriverID == nil {
		writeError(w, http.StatusConflict, "order has no driver")
		return
	}

	updated, err := h.Ledger.Disburse(r.Context(), *o.DriverID, orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(updated))
}

type refundRequest struct {
	Note string `json:"note"`
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	o, err := h.Ledger.Refund(r.Context(), chi.URLParam(r, "orderID"), req.Note)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type registerDriverRequest struct {
	FullName      string   `json:"fullName"`
	Phone         string   `json:"phone"`
	Email         string   `json:"email"`
	Password      string   `json:"password"`
	LicenseNumber string   `json:"licenseNumber"`
	VehiclePlate  string   `json:"vehiclePlate"`
	DocumentURLs  []string `json:"documentUrls"`
}

type driverResponse struct {
	DriverID      string  `json:"driverId"`
	FullName      string  `json:"fullName"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email,omitempty"`
	LicenseNumber string  `json:"licenseNumber"`
	VehiclePlate  string  `json:"vehiclePlate"`
	Status        string  `json:"status"`
	Rating        float64 `json:"rating"`
}

func toDriverResponse(d *models.Driver) driverResponse {
	return driverResponse{
		DriverID:      d.DriverID,
		FullName:      d.FullName,
		Phone:         d.Phone,
		Email:         d.Email,
		LicenseNumber: d.LicenseNumber,
		VehiclePlate:  d.VehiclePlate,
		Status:        string(d.Status),
		Rating:        d.Rating(),
	}
}

func (h *Handler) RegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	d, err := h.Drivers.Register(r.Context(), drivers.RegisterInput{
		FullName:      req.FullName,
		Phone:         req.Phone,
		Email:         req.Email,
		Password:      req.Password,
		LicenseNumber: req.LicenseNumber,
		VehiclePlate:  req.VehiclePlate,
		DocumentURLs:  req.DocumentURLs,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDriverResponse(d))
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) LoginDriver(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	d, err := h.Drivers.Authenticate(r.Context(), req.Phone, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDriverResponse(d))
}

func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := h.Drivers.Get(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDriverResponse(d))
}

type ratingRequest struct {
	Stars int `json:"stars"`
}

func (h *Handler) RateDriver(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Drivers.AddRating(r.Context(), chi.URLParam(r, "driverID"), req.Stars); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SuspendDriver(w http.ResponseWriter, r *http.Request) {
	if err := h.Drivers.Suspend(r.Context(), chi.URLParam(r, "driverID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (h *Handler) ReinstateDriver(w http.ResponseWriter, r *http.Request) {
	if err := h.Drivers.Reinstate(r.Context(), chi.URLParam(r, "driverID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

type transactionResponse struct {
	TxnID       string `json:"txnId"`
	OrderID     string `json:"orderId"`
	Kind        string `json:"kind"`
	AmountVND   int64  `json:"amountVnd"`
	Status      string `json:"status"`
	Remarks     string `json:"remarks,omitempty"`
	ProcessedAt string `json:"processedAt,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get("X-Driver-Id")
	if driverID == "" {
		writeError(w, http.StatusUnauthorized, "missing driver id")
		return
	}

	balance, err := h.Ledger.Balance(r.Context(), driverID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	txns, err := h.Ledger.Transactions(r.Context(), driverID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		item := transactionResponse{
			TxnID:     t.TxnID,
			OrderID:   t.OrderID,
			Kind:      string(t.Kind),
			AmountVND: t.AmountVND,
			Status:    string(t.Status),
			Remarks:   t.Remarks,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		}
		if t.ProcessedAt != nil {
			item.ProcessedAt = t.ProcessedAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"balanceVnd": balance, "transactions": items})
}

type fileReportRequest struct {
	OrderID     string `json:"orderId"`
	ReportedID  string `json:"reportedId"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (h *Handler) FileReport(w http.ResponseWriter, r *http.Request) {
	var req fileReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	reporterID := r.Header.Get("X-User-Id")
	if reporterID == "" {
		reporterID = r.Header.Get("X-Driver-Id")
	}

	rep, err := h.Reports.File(r.Context(), reports.FileInput{
		OrderID:     req.OrderID,
		ReporterID:  reporterID,
		ReportedID:  req.ReportedID,
		Type:        req.Type,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"reportId": rep.ReportID,
		"status":   string(rep.Status),
	})
}

func (h *Handler) ListOpenReports(w http.ResponseWriter, r *http.Request) {
	open, err := h.Reports.Open(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": open})
}

type resolveReportRequest struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
	Note    string `json:"note,omitempty"`
}

func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
	var req resolveReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	rep, err := h.Reports.Resolve(r.Context(), reports.ResolveInput{
		ReportID: chi.URLParam(r, "reportID"),
		AdminID:  r.Header.Get("X-Admin-Id"),
		Status:   models.ReportStatus(req.Status),
		Note:     req.Note,
		Outcome:  lifecycle.DisputeOutcome(req.Outcome),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"reportId": rep.ReportID,
		"status":   string(rep.Status),
	})
}

type adminPayoutRequest struct {
	DriverID  string `json:"driverId"`
	AmountVND int64  `json:"amountVnd"`
	Notes     string `json:"notes,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
}

func (h *Handler) CreateAdminPayout(w http.ResponseWriter, r *http.Request) {
	var req adminPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	p, err := h.Ledger.AdminPayout(r.Context(), ledger.AdminPayoutInput{
		DriverID:  req.DriverID,
		AdminID:   r.Header.Get("X-Admin-Id"),
		AmountVND: req.AmountVND,
		Notes:     req.Notes,
		Pending:   req.Pending,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"payoutId": p.PayoutID,
		"status":   string(p.Status),
	})
}

func (h *Handler) CompletePayout(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.CompletePayout(r.Context(), chi.URLParam(r, "payoutID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.CancelPayout(r.Context(), chi.URLParam(r, "payoutID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func atoiOr(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	var i int
	for _, r := range v {
		if r < '0' || r > '9' {
			return fallback
		}
		i = i*10 + int(r-'0')
	}
	return i
}
