package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"swiftride/internal/drivers"
	"swiftride/internal/lifecycle"
	"swiftride/internal/models"
	"swiftride/internal/reports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	order_id, customer_id, driver_id, order_type, pickup_address, dropoff_address,
	price_vnd, distance_km, pickup_after, pickup_before,
	item_weight_kg, item_type, item_dimensions,
	status, status_description, prior_status, payment_deadline,
	accepted_at, completed_at, confirmed_at, paid_out_at,
	created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (
			order_id, customer_id, driver_id, order_type, pickup_address, dropoff_address,
			price_vnd, distance_km, pickup_after, pickup_before,
			item_weight_kg, item_type, item_dimensions,
			status, status_description, prior_status, payment_deadline,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		o.OrderID,
		o.CustomerID,
		o.DriverID,
		o.Type,
		o.PickupAddress,
		o.DropoffAddress,
		o.PriceVND,
		o.DistanceKM,
		o.PickupAfter,
		o.PickupBefore,
		o.ItemWeightKG,
		o.ItemType,
		o.ItemDimensions,
		o.Status,
		o.StatusDescription,
		o.PriorStatus,
		o.PaymentDeadline,
		o.CreatedAt,
		o.UpdatedAt,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	var driverID, itemType, itemDims, priorStatus sql.NullString
	var pickupAfter, pickupBefore, acceptedAt, completedAt, confirmedAt, paidOutAt sql.NullTime
	var itemWeight sql.NullFloat64

	err := row.Scan(
		&o.OrderID,
		&o.CustomerID,
		&driverID,
		&o.Type,
		&o.PickupAddress,
		&o.DropoffAddress,
		&o.PriceVND,
		&o.DistanceKM,
		&pickupAfter,
		&pickupBefore,
		&itemWeight,
		&itemType,
		&itemDims,
		&o.Status,
		&o.StatusDescription,
		&priorStatus,
		&o.PaymentDeadline,
		&acceptedAt,
		&completedAt,
		&confirmedAt,
		&paidOutAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		o.DriverID = &driverID.String
	}
	if priorStatus.Valid {
		o.PriorStatus = &priorStatus.String
	}
	if itemType.Valid {
		o.ItemType = &itemType.String
	}
	if itemDims.Valid {
		o.ItemDimensions = &itemDims.String
	}
	if itemWeight.Valid {
		o.ItemWeightKG = &itemWeight.Float64
	}
	if pickupAfter.Valid {
		o.PickupAfter = &pickupAfter.Time
	}
	if pickupBefore.Valid {
		o.PickupBefore = &pickupBefore.Time
	}
	if acceptedAt.Valid {
		o.AcceptedAt = &acceptedAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if confirmedAt.Valid {
		o.ConfirmedAt = &confirmedAt.Time
	}
	if paidOutAt.Valid {
		o.PaidOutAt = &paidOutAt.Time
	}
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// ApplyOrderTransition is the single conditional status write: it applies
// only while the order still holds t.From, stamps the per-status timestamp,
// assigns the driver on accept, and maintains prior_status across the
// disputed freeze/unfreeze.
func (s *Store) ApplyOrderTransition(ctx context.Context, t lifecycle.OrderTransition) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders SET
			status=$3,
			status_description = CASE WHEN $4::text <> '' THEN $4::text ELSE status_description END,
			driver_id = COALESCE($5::text, driver_id),
			prior_status = CASE
				WHEN $3::text = 'disputed' THEN status::text
				WHEN status::text = 'disputed' THEN NULL
				ELSE prior_status END,
			accepted_at  = CASE WHEN $3::text = 'accepted' AND accepted_at IS NULL THEN $6 ELSE accepted_at END,
			completed_at = CASE WHEN $3::text = 'shipper_completed' AND completed_at IS NULL THEN $6 ELSE completed_at END,
			confirmed_at = CASE WHEN $3::text = 'user_confirmed_completion' AND confirmed_at IS NULL THEN $6 ELSE confirmed_at END,
			paid_out_at  = CASE WHEN $3::text = 'driver_paid' AND paid_out_at IS NULL THEN $6 ELSE paid_out_at END,
			updated_at = $6
		WHERE order_id=$1 AND status=$2
	`, t.OrderID, t.From, t.To, t.Description, t.DriverID, t.Now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) ListOrders(ctx context.Context, customerID string, status models.OrderStatus, offset, limit int) ([]models.Order, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	where := ` WHERE ($1 = '' OR customer_id = $1) AND ($2 = '' OR status = $2::text)`

	var total int64
	row := s.Pool.QueryRow(ctx, `SELECT count(*) FROM orders`+where, customerID, string(status))
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT`+orderColumns+` FROM orders`+where+` ORDER BY created_at DESC OFFSET $3 LIMIT $4`,
		customerID, string(status), offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

// FailExpired voids orders whose payment window lapsed without a gateway
// success, in one sweep, and returns the swept orders so the caller can
// notify their parties.
func (s *Store) FailExpired(ctx context.Context, now time.Time) ([]models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE orders
		SET status='failed', status_description='payment window expired', updated_at=$1
		WHERE status='pending_payment' AND payment_deadline < $1
		RETURNING`+orderColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swept []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		swept = append(swept, *o)
	}
	return swept, rows.Err()
}

// RecordCallback inserts the dedup row for a gateway callback. A false
// return means the (order_id, provider_txn_id) pair was already seen.
func (s *Store) RecordCallback(ctx context.Context, cb *models.GatewayCallback) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		INSERT INTO gateway_callbacks (order_id, provider_txn_id, response_code, amount_vnd, received_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (order_id, provider_txn_id) DO NOTHING
	`, cb.OrderID, cb.ProviderTxnID, cb.ResponseCode, cb.AmountVND, cb.ReceivedAt)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// InsertTransaction appends a ledger entry. The unique (order_id, kind)
// index enforces at-most-once per order and kind; a skipped insert returns
// false.
func (s *Store) InsertTransaction(ctx context.Context, t *models.Transaction) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		INSERT INTO transactions (
			txn_id, order_id, driver_id, customer_id, kind,
			amount_vnd, status, remarks, processed_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (order_id, kind) DO NOTHING
	`,
		t.TxnID,
		t.OrderID,
		t.DriverID,
		t.CustomerID,
		t.Kind,
		t.AmountVND,
		t.Status,
		t.Remarks,
		t.ProcessedAt,
		t.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) CompleteDriverCredit(ctx context.Context, orderID, driverID string, now time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE transactions
		SET status='completed', processed_at=$3
		WHERE order_id=$1 AND driver_id=$2 AND kind='driver_credit' AND status='pending'
	`, orderID, driverID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) ListDriverTransactions(ctx context.Context, driverID string) ([]models.Transaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT txn_id, order_id, driver_id, customer_id, kind,
			amount_vnd, status, remarks, processed_at, created_at
		FROM transactions
		WHERE driver_id=$1
		ORDER BY created_at DESC
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var drvID, custID sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(
			&t.TxnID,
			&t.OrderID,
			&drvID,
			&custID,
			&t.Kind,
			&t.AmountVND,
			&t.Status,
			&t.Remarks,
			&processedAt,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		if drvID.Valid {
			t.DriverID = &drvID.String
		}
		if custID.Valid {
			t.CustomerID = &custID.String
		}
		if processedAt.Valid {
			t.ProcessedAt = &processedAt.Time
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// DriverBalance computes completed credits minus completed payouts on every
// call; the balance is never stored.
func (s *Store) DriverBalance(ctx context.Context, driverID string) (int64, error) {
	var balance int64
	row := s.Pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT sum(amount_vnd) FROM transactions
				WHERE driver_id=$1 AND kind='driver_credit' AND status='completed'), 0)
			-
			COALESCE((SELECT sum(amount_vnd) FROM payouts
				WHERE driver_id=$1 AND status='completed'), 0)
	`, driverID)
	err := row.Scan(&balance)
	return balance, err
}

func (s *Store) CreatePayout(ctx context.Context, p *models.Payout) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payouts (
			payout_id, driver_id, admin_id, amount_vnd, status, notes,
			payout_date, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		p.PayoutID,
		p.DriverID,
		p.AdminID,
		p.AmountVND,
		p.Status,
		p.Notes,
		p.PayoutDate,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (s *Store) UpdatePayoutStatus(ctx context.Context, payoutID string, from, to models.PayoutStatus, now time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE payouts
		SET status=$3, payout_date=CASE WHEN $3::text='completed' THEN $4 ELSE payout_date END, updated_at=$4
		WHERE payout_id=$1 AND status=$2
	`, payoutID, from, to, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) CreateDriver(ctx context.Context, d *models.Driver) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		INSERT INTO drivers (
			driver_id, full_name, phone, email, password_hash,
			license_number, vehicle_plate, document_urls, status,
			rating_sum, rating_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (phone) DO NOTHING
	`,
		d.DriverID,
		d.FullName,
		d.Phone,
		d.Email,
		d.PasswordHash,
		d.LicenseNumber,
		d.VehiclePlate,
		d.DocumentURLs,
		d.Status,
		d.RatingSum,
		d.RatingCount,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

const driverColumns = `
	driver_id, full_name, phone, email, password_hash,
	license_number, vehicle_plate, document_urls, status,
	rating_sum, rating_count, created_at, updated_at`

func (s *Store) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	return s.getDriver(ctx, `SELECT`+driverColumns+` FROM drivers WHERE driver_id=$1`, driverID)
}

func (s *Store) GetDriverByPhone(ctx context.Context, phone string) (*models.Driver, error) {
	return s.getDriver(ctx, `SELECT`+driverColumns+` FROM drivers WHERE phone=$1`, phone)
}

func (s *Store) getDriver(ctx context.Context, query, arg string) (*models.Driver, error) {
	row := s.Pool.QueryRow(ctx, query, arg)

	var d models.Driver
	err := row.Scan(
		&d.DriverID,
		&d.FullName,
		&d.Phone,
		&d.Email,
		&d.PasswordHash,
		&d.LicenseNumber,
		&d.VehiclePlate,
		&d.DocumentURLs,
		&d.Status,
		&d.RatingSum,
		&d.RatingCount,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, drivers.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) UpdateDriverStatus(ctx context.Context, driverID string, from, to models.DriverStatus, now time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE drivers SET status=$3, updated_at=$4
		WHERE driver_id=$1 AND status=$2
	`, driverID, from, to, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) AddDriverRating(ctx context.Context, driverID string, stars int, now time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE drivers
		SET rating_sum=rating_sum+$2, rating_count=rating_count+1, updated_at=$3
		WHERE driver_id=$1
	`, driverID, stars, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// CreateReport relies on the partial unique index over open reports: a
// second open report for the same order is skipped and reported as false.
func (s *Store) CreateReport(ctx context.Context, r *models.Report) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		INSERT INTO reports (
			report_id, order_id, reporter_id, reported_id, report_type,
			description, status, admin_id, admin_note, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (order_id) WHERE status IN ('pending','reviewed') DO NOTHING
	`,
		r.ReportID,
		r.OrderID,
		r.ReporterID,
		r.ReportedID,
		r.Type,
		r.Description,
		r.Status,
		r.AdminID,
		r.AdminNote,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

const reportColumns = `
	report_id, order_id, reporter_id, reported_id, report_type,
	description, status, admin_id, admin_note, resolved_at, created_at, updated_at`

func (s *Store) GetReport(ctx context.Context, reportID string) (*models.Report, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+reportColumns+` FROM reports WHERE report_id=$1`, reportID)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reports.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func scanReport(row scanner) (*models.Report, error) {
	var r models.Report
	var adminID sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&r.ReportID,
		&r.OrderID,
		&r.ReporterID,
		&r.ReportedID,
		&r.Type,
		&r.Description,
		&r.Status,
		&adminID,
		&r.AdminNote,
		&resolvedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if adminID.Valid {
		r.AdminID = &adminID.String
	}
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return &r, nil
}

// ResolveReport closes a report; terminal reports are immutable, so the
// write is conditioned on the report still being open.
func (s *Store) ResolveReport(ctx context.Context, reportID, adminID string, to models.ReportStatus, note string, now time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE reports
		SET status=$3, admin_id=$2, admin_note=$4, resolved_at=$5, updated_at=$5
		WHERE report_id=$1 AND status IN ('pending','reviewed')
	`, reportID, adminID, to, note, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) ListOpenReports(ctx context.Context) ([]models.Report, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT`+reportColumns+` FROM reports WHERE status IN ('pending','reviewed') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notifications (notification_id, recipient_id, order_id, kind, body, delivered, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, n.NotificationID, n.RecipientID, n.OrderID, n.Kind, n.Body, n.Delivered, n.CreatedAt)
	return err
}

func (s *Store) ListUndeliveredNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT notification_id, recipient_id, order_id, kind, body, delivered, created_at
		FROM notifications
		WHERE delivered=false
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(
			&n.NotificationID,
			&n.RecipientID,
			&n.OrderID,
			&n.Kind,
			&n.Body,
			&n.Delivered,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationDelivered(ctx context.Context, notificationID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE notifications SET delivered=true WHERE notification_id=$1`, notificationID)
	return err
}
