package saga_test

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/nvaziri/seatbook/internal/model"
	"github.com/nvaziri/seatbook/internal/payment"
	"github.com/nvaziri/seatbook/internal/queue"
	"github.com/nvaziri/seatbook/internal/reservation"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type engineMock struct{ mock.Mock }

func (m *engineMock) LockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string, ttl time.Duration) (*reservation.LockResult, error) {
	args := m.Called(ctx, showID, labels, userID, sessionID, ttl)
	if v := args.Get(0); v != nil {
		return v.(*reservation.LockResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *engineMock) UnlockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string) (int, error) {
	args := m.Called(ctx, showID, labels, userID, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *engineMock) ConfirmSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID, bookingID string) (int, error) {
	args := m.Called(ctx, showID, labels, userID, sessionID, bookingID)
	return args.Int(0), args.Error(1)
}

type storeMock struct{ mock.Mock }

func (m *storeMock) CreateWithSeats(ctx context.Context, b *model.Booking, seats []model.BookingSeat) error {
	return m.Called(ctx, b, seats).Error(0)
}

func (m *storeMock) ByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*model.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *storeMock) ByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.(*model.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *storeMock) Seats(ctx context.Context, id uuid.UUID) ([]model.BookingSeat, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.([]model.BookingSeat), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *storeMock) UpdateOutcome(ctx context.Context, b *model.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *storeMock) StaleInitiated(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	args := m.Called(ctx, cutoff, limit)
	if v := args.Get(0); v != nil {
		return v.([]model.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

type showsMock struct{ mock.Mock }

func (m *showsMock) ShowByID(ctx context.Context, showID uint64) (*model.Show, error) {
	args := m.Called(ctx, showID)
	if v := args.Get(0); v != nil {
		return v.(*model.Show), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *showsMock) ApplyConfirmedSeats(ctx context.Context, showID uint64, n int) error {
	return m.Called(ctx, showID, n).Error(0)
}

type paymentsMock struct{ mock.Mock }

func (m *paymentsMock) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Handle, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*payment.Handle), args.Error(1)
	}
	return nil, args.Error(1)
}

type publisherMock struct{ mock.Mock }

func (m *publisherMock) PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error {
	return m.Called(ctx, ev).Error(0)
}
