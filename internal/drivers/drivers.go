package drivers

import (
	"context"
	"errors"
	"strings"
	"time"

	"swiftride/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound          = errors.New("driver not found")
	ErrMissingField      = errors.New("missing required field")
	ErrBadCredentials    = errors.New("phone or password incorrect")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrAlreadyInStatus   = errors.New("driver already in requested status")
	ErrDriverSuspended   = errors.New("driver is suspended")
	ErrPhoneAlreadyTaken = errors.New("phone already registered")
)

// Store is the driver persistence surface. CreateDriver reports false when
// the phone number is already registered; UpdateDriverStatus and AddRating
// are conditional/atomic writes.
type Store interface {
	CreateDriver(ctx context.Context, d *models.Driver) (bool, error)
	GetDriver(ctx context.Context, driverID string) (*models.Driver, error)
	GetDriverByPhone(ctx context.Context, phone string) (*models.Driver, error)
	UpdateDriverStatus(ctx context.Context, driverID string, from, to models.DriverStatus, now time.Time) (int64, error)
	AddDriverRating(ctx context.Context, driverID string, stars int, now time.Time) (int64, error)
}

type Service struct {
	Store Store
	Log   *zap.Logger
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type RegisterInput struct {
	FullName      string
	Phone         string
	Email         string
	Password      string
	LicenseNumber string
	VehiclePlate  string
	DocumentURLs  []string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Driver, error) {
	for field, v := range map[string]string{
		"full_name":      in.FullName,
		"phone":          in.Phone,
		"password":       in.Password,
		"license_number": in.LicenseNumber,
		"vehicle_plate":  in.VehiclePlate,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, errors.Join(ErrMissingField, errors.New(field))
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	d := &models.Driver{
		DriverID:      uuid.NewString(),
		FullName:      strings.TrimSpace(in.FullName),
		Phone:         strings.TrimSpace(in.Phone),
		Email:         strings.TrimSpace(in.Email),
		PasswordHash:  string(hash),
		LicenseNumber: strings.TrimSpace(in.LicenseNumber),
		VehiclePlate:  strings.TrimSpace(in.VehiclePlate),
		DocumentURLs:  in.DocumentURLs,
		Status:        models.DriverActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inserted, err := s.Store.CreateDriver(ctx, d)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrPhoneAlreadyTaken
	}
	s.Log.Info("driver registered", zap.String("driver_id", d.DriverID))
	return d, nil
}

// Authenticate checks phone + password. Token issuance is the API gateway's
// concern, not this service's.
func (s *Service) Authenticate(ctx context.Context, phone, password string) (*models.Driver, error) {
	d, err := s.Store.GetDriverByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	if d.Status == models.DriverSuspended {
		return nil, ErrDriverSuspended
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, driverID string) (*models.Driver, error) {
	return s.Store.GetDriver(ctx, driverID)
}

func (s *Service) Suspend(ctx context.Context, driverID string) error {
	return s.flipStatus(ctx, driverID, models.DriverActive, models.DriverSuspended)
}

func (s *Service) Reinstate(ctx context.Context, driverID string) error {
	return s.flipStatus(ctx, driverID, models.DriverSuspended, models.DriverActive)
}

func (s *Service) flipStatus(ctx context.Context, driverID string, from, to models.DriverStatus) error {
	rows, err := s.Store.UpdateDriverStatus(ctx, driverID, from, to, s.now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyInStatus
	}
	s.Log.Info("driver status changed",
		zap.String("driver_id", driverID), zap.String("status", string(to)))
	return nil
}

// AddRating folds one 1..5 star rating into the aggregate atomically.
func (s *Service) AddRating(ctx context.Context, driverID string, stars int) error {
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}
	rows, err := s.Store.AddDriverRating(ctx, driverID, stars, s.now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
