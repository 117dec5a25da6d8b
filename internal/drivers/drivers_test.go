package drivers

import (
	"context"
	"testing"
	"time"

	"swiftride/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	drivers map[string]*models.Driver
	byPhone map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		drivers: make(map[string]*models.Driver),
		byPhone: make(map[string]string),
	}
}

func (m *memStore) CreateDriver(_ context.Context, d *models.Driver) (bool, error) {
	if _, taken := m.byPhone[d.Phone]; taken {
		return false, nil
	}
	cp := *d
	m.drivers[d.DriverID] = &cp
	m.byPhone[d.Phone] = d.DriverID
	return true, nil
}

func (m *memStore) GetDriver(_ context.Context, driverID string) (*models.Driver, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) GetDriverByPhone(_ context.Context, phone string) (*models.Driver, error) {
	id, ok := m.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetDriver(context.Background(), id)
}

func (m *memStore) UpdateDriverStatus(_ context.Context, driverID string, from, to models.DriverStatus, now time.Time) (int64, error) {
	d, ok := m.drivers[driverID]
	if !ok || d.Status != from {
		return 0, nil
	}
	d.Status = to
	d.UpdatedAt = now
	return 1, nil
}

func (m *memStore) AddDriverRating(_ context.Context, driverID string, stars int, now time.Time) (int64, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return 0, nil
	}
	d.RatingSum += int64(stars)
	d.RatingCount++
	d.UpdatedAt = now
	return 1, nil
}

func newService() (*Service, *memStore) {
	st := newMemStore()
	return &Service{Store: st, Log: zap.NewNop()}, st
}

func registerInput() RegisterInput {
	return RegisterInput{
		FullName:      "Nguyen Van A",
		Phone:         "0901234567",
		Password:      "s3cret-pw",
		LicenseNumber: "B2-123456",
		VehiclePlate:  "51A-123.45",
	}
}

func TestRegister(t *testing.T) {
	s, st := newService()

	d, err := s.Register(context.Background(), registerInput())
	require.NoError(t, err)
	assert.NotEmpty(t, d.DriverID)
	assert.Equal(t, models.DriverActive, d.Status)

	// The stored hash verifies against the raw password and is not the
	// password itself.
	stored := st.drivers[d.DriverID]
	assert.NotEqual(t, "s3cret-pw", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret-pw")))
}

func TestRegisterDuplicatePhone(t *testing.T) {
	s, _ := newService()

	_, err := s.Register(context.Background(), registerInput())
	require.NoError(t, err)

	in := registerInput()
	in.FullName = "Someone Else"
	_, err = s.Register(context.Background(), in)
	assert.ErrorIs(t, err, ErrPhoneAlreadyTaken)
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newService()

	for _, mutate := range []func(*RegisterInput){
		func(in *RegisterInput) { in.FullName = " " },
		func(in *RegisterInput) { in.Phone = "" },
		func(in *RegisterInput) { in.Password = "" },
		func(in *RegisterInput) { in.LicenseNumber = "" },
		func(in *RegisterInput) { in.VehiclePlate = "" },
	} {
		in := registerInput()
		mutate(&in)
		_, err := s.Register(context.Background(), in)
		assert.ErrorIs(t, err, ErrMissingField)
	}
}

func TestAuthenticate(t *testing.T) {
	s, _ := newService()
	reg, err := s.Register(context.Background(), registerInput())
	require.NoError(t, err)

	d, err := s.Authenticate(context.Background(), "0901234567", "s3cret-pw")
	require.NoError(t, err)
	assert.Equal(t, reg.DriverID, d.DriverID)

	_, err = s.Authenticate(context.Background(), "0901234567", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	// Unknown phone reads the same as a wrong password.
	_, err = s.Authenticate(context.Background(), "0999999999", "s3cret-pw")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestAuthenticateSuspendedDriver(t *testing.T) {
	s, _ := newService()
	d, err := s.Register(context.Background(), registerInput())
	require.NoError(t, err)
	require.NoError(t, s.Suspend(context.Background(), d.DriverID))

	_, err = s.Authenticate(context.Background(), "0901234567", "s3cret-pw")
	assert.ErrorIs(t, err, ErrDriverSuspended)
}

func TestSuspendReinstate(t *testing.T) {
	s, st := newService()
	d, err := s.Register(context.Background(), registerInput())
	require.NoError(t, err)

	require.NoError(t, s.Suspend(context.Background(), d.DriverID))
	assert.Equal(t, models.DriverSuspended, st.drivers[d.DriverID].Status)

	// Suspending twice is a conflict, not a silent no-op.
	assert.ErrorIs(t, s.Suspend(context.Background(), d.DriverID), ErrAlreadyInStatus)

	require.NoError(t, s.Reinstate(context.Background(), d.DriverID))
	assert.Equal(t, models.DriverActive, st.drivers[d.DriverID].Status)
	assert.ErrorIs(t, s.Reinstate(context.Background(), d.DriverID), ErrAlreadyInStatus)
}

func TestAddRating(t *testing.T) {
	s, st := newService()
	d, err := s.Register(context.Background(), registerInput())
	require.NoError(t, err)

	require.NoError(t, s.AddRating(context.Background(), d.DriverID, 5))
	require.NoError(t, s.AddRating(context.Background(), d.DriverID, 4))

	stored := st.drivers[d.DriverID]
	assert.Equal(t, int64(9), stored.RatingSum)
	assert.Equal(t, int64(2), stored.RatingCount)
	assert.InDelta(t, 4.5, stored.Rating(), 0.001)
}

func TestAddRatingValidation(t *testing.T) {
	s, _ := newService()
	d, err := s.Register(context.Background(), registerInput())
	require.NoError(t, err)

	assert.ErrorIs(t, s.AddRating(context.Background(), d.DriverID, 0), ErrInvalidRating)
	assert.ErrorIs(t, s.AddRating(context.Background(), d.DriverID, 6), ErrInvalidRating)
	assert.ErrorIs(t, s.AddRating(context.Background(), "missing", 3), ErrNotFound)
}
