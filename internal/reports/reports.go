package reports

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
	ErrNotFound         = errors.New("report not found")
	ErrMissingField     = errors.New("missing required field")
	ErrOpenReportExists = errors.New("order already has an open report")
	ErrReportClosed     = errors.New("report already resolved")
	ErrAdminRequired    = errors.New("admin id required")
)

// Store is the report persistence surface. CreateReport reports false when
// the partial unique index (one open report per order) rejects the insert.
type Store interface {
	CreateReport(ctx context.Context, r *models.Report) (bool, error)
	GetReport(ctx context.Context, reportID string) (*models.Report, error)
	ResolveReport(ctx context.Context, reportID, adminID string, to models.ReportStatus, note string, now time.Time) (int64, error)
	ListOpenReports(ctx context.Context) ([]models.Report, error)
}

// Lifecycle lets an escalating report freeze the order and an admin verdict
// unfreeze it.
type Lifecycle interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	TransitionWithReason(ctx context.Context, orderID string, event lifecycle.Event, reason string) (*models.Order, error)
	ResolveDispute(ctx context.Context, orderID string, outcome lifecycle.DisputeOutcome, note string) (*models.Order, error)
}

// Refunder is the ledger path for disputes resolved in the customer's
// favour, so the refund transaction and the status change stay paired.
type Refunder interface {
	Refund(ctx context.Context, orderID, note string) (*models.Order, error)
}

type Service struct {
	Store  Store
	Orders Lifecycle
	Ledger Refunder
	Log    *zap.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type FileInput struct {
	OrderID     string
	ReporterID  string
	ReportedID  string
	Type        string
	Description string
}

// File records a dispute. When the order sits in a freezable status the
// lifecycle is moved to disputed immediately; otherwise the report stays
// open for admin review without touching the order.
func (s *Service) File(ctx context.Context, in FileInput) (*models.Report, error) {
	if strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.ReporterID) == "" {
		return nil, ErrMissingField
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: description", ErrMissingField)
	}

	o, err := s.Orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &models.Report{
		ReportID:    uuid.NewString(),
		OrderID:     o.OrderID,
		ReporterID:  strings.TrimSpace(in.ReporterID),
		ReportedID:  strings.TrimSpace(in.ReportedID),
		Type:        strings.TrimSpace(in.Type),
		Description: strings.TrimSpace(in.Description),
		Status:      models.ReportPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := s.Store.CreateReport(ctx, r)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrOpenReportExists
	}

	if freezable(o.Status) {
		if _, err := s.Orders.TransitionWithReason(ctx, o.OrderID, lifecycle.EventDispute,
			"report "+r.ReportID+": "+r.Type); err != nil {
			// Report stands even if the freeze raced a terminal transition.
			s.Log.Warn("dispute freeze failed",
				zap.String("order_id", o.OrderID),
				zap.String("report_id", r.ReportID),
				zap.Error(err))
		}
	}

	s.Log.Info("report filed",
		zap.String("report_id", r.ReportID),
		zap.String("order_id", r.OrderID),
		zap.String("type", r.Type))
	return r, nil
}

func freezable(status models.OrderStatus) bool {
	_, ok := lifecycle.Next(status, lifecycle.EventDispute)
	return ok
}

type ResolveInput struct {
	ReportID string
	AdminID  string
	// Status must be resolved or rejected; reports are immutable afterwards.
	Status models.ReportStatus
	Note   string
	// Outcome picks the order's exit from disputed: refund, fail, or empty
	// to restore the pre-dispute status.
	Outcome lifecycle.DisputeOutcome
}

// Resolve releases a frozen order per the admin verdict, then closes the
// report. Refund outcomes go through the ledger so the customer credit is
// written alongside the status change.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (*models.Report, error) {
	if strings.TrimSpace(in.AdminID) == "" {
		return nil, ErrAdminRequired
	}
	if in.Status != models.ReportResolved && in.Status != models.ReportRejected {
		return nil, fmt.Errorf("%w: terminal status must be resolved or rejected", ErrMissingField)
	}

	r, err := s.Store.GetReport(ctx, in.ReportID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.ReportPending && r.Status != models.ReportReviewed {
		return nil, ErrReportClosed
	}

	o, err := s.Orders.GetOrder(ctx, r.OrderID)
	if err != nil {
		return nil, err
	}

	// The order is released before the report closes: a closed report is
	// immutable, so a failed release must leave the report open for retry.
	if o.Status == models.OrderDisputed {
		outcome := in.Outcome
		if in.Status == models.ReportRejected || outcome == "" {
			outcome = lifecycle.OutcomeRejected
		}
		switch outcome {
		case lifecycle.OutcomeRefund:
			_, err = s.Ledger.Refund(ctx, r.OrderID, in.Note)
		default:
			_, err = s.Orders.ResolveDispute(ctx, r.OrderID, outcome, in.Note)
		}
		if err != nil {
			return nil, err
		}
	}

	rows, err := s.Store.ResolveReport(ctx, in.ReportID, in.AdminID, in.Status, in.Note, s.now())
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrReportClosed
	}

	return s.Store.GetReport(ctx, in.ReportID)
}

func (s *Service) Open(ctx context.Context) ([]models.Report, error) {
	return s.Store.ListOpenReports(ctx)
}
