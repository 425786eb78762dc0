package saga_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nvaziri/seatbook/internal/model"
	"github.com/nvaziri/seatbook/internal/payment"
	"github.com/nvaziri/seatbook/internal/repository"
	"github.com/nvaziri/seatbook/internal/reservation"
	"github.com/nvaziri/seatbook/internal/saga"
)

type pricerStub struct {
	prices map[string]uint32
	err    error
}

func (p *pricerStub) SeatPrices(ctx context.Context, showID uint64, labels []string) (map[string]uint32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.prices, nil
}

func (p *pricerStub) BasePrice() uint32 { return 1000 }

func openShow() *model.Show {
	return &model.Show{
		ID:                7,
		LayoutID:          3,
		BookingEnabled:    true,
		BookingCutoffTime: time.Now().Add(2 * time.Hour),
	}
}

func newOrchestrator(store *storeMock, shows *showsMock, engine *engineMock, pricer saga.SeatPricer, payments *paymentsMock, pub *publisherMock) *saga.Orchestrator {
	return saga.NewOrchestrator(store, shows, engine, pricer, payments, pub,
		saga.Config{LockTTL: 5 * time.Minute}, testLogger())
}

func TestCreateBooking_HappyPath(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	payments, pub := &paymentsMock{}, &publisherMock{}
	pricer := &pricerStub{prices: map[string]uint32{"A1": 1500, "A2": 900}}
	o := newOrchestrator(store, shows, engine, pricer, payments, pub)
	ctx := context.Background()

	store.On("ByIdempotencyKey", ctx, "k1").Return(nil, repository.ErrBookingNotFound).Once()
	shows.On("ShowByID", ctx, uint64(7)).Return(openShow(), nil)
	engine.On("LockSeats", ctx, uint64(7), []string{"A1", "A2"}, uint64(42), mock.AnythingOfType("string"), 5*time.Minute).
		Return(&reservation.LockResult{Seats: []string{"A1", "A2"}}, nil)
	store.On("CreateWithSeats", ctx, mock.MatchedBy(func(b *model.Booking) bool {
		return b.Status == model.BookingInitiated &&
			b.PaymentStatus == model.PaymentPending &&
			b.TotalAmountCents == 2400 &&
			b.IdempotencyKey == "k1"
	}), mock.AnythingOfType("[]model.BookingSeat")).Return(nil)
	payments.On("Initiate", ctx, mock.MatchedBy(func(req payment.InitiateRequest) bool {
		return req.AmountCents == 2400 && req.IdempotencyKey == "k1"
	})).Return(&payment.Handle{PaymentID: "pay-1", Status: "PENDING"}, nil)

	result, err := o.CreateBooking(ctx, saga.CreateBookingRequest{
		IdempotencyKey: "k1", UserID: 42, ShowID: 7, SeatLabels: []string{"A1", "A2"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.BookingInitiated, result.Status)
	assert.Equal(t, model.PaymentPending, result.PaymentStatus)
	assert.Equal(t, uint32(2400), result.TotalAmountCents)

	store.AssertExpectations(t)
	engine.AssertExpectations(t)
	payments.AssertExpectations(t)
}

func TestCreateBooking_IdempotentDuplicateReturnsExistingVerbatim(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	payments, pub := &paymentsMock{}, &publisherMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, payments, pub)
	ctx := context.Background()

	existing := &model.Booking{
		ID:               uuid.New(),
		Status:           model.BookingInitiated,
		PaymentStatus:    model.PaymentPending,
		TotalAmountCents: 3000,
		IdempotencyKey:   "k1",
	}
	store.On("ByIdempotencyKey", ctx, "k1").Return(existing, nil)

	// second submission names a different seat set on purpose
	result, err := o.CreateBooking(ctx, saga.CreateBookingRequest{
		IdempotencyKey: "k1", UserID: 42, ShowID: 7, SeatLabels: []string{"C1", "C2"},
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, result.BookingID)
	assert.Equal(t, uint32(3000), result.TotalAmountCents)

	engine.AssertNotCalled(t, "LockSeats", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestCreateBooking_LockConflictPropagatesWithoutPersist(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	payments, pub := &paymentsMock{}, &publisherMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, payments, pub)
	ctx := context.Background()

	store.On("ByIdempotencyKey", ctx, "k2").Return(nil, repository.ErrBookingNotFound)
	shows.On("ShowByID", ctx, uint64(7)).Return(openShow(), nil)
	engine.On("LockSeats", ctx, uint64(7), []string{"A2", "A3"}, uint64(9), mock.Anything, mock.Anything).
		Return(nil, reservation.ErrSeatAlreadyLocked)

	_, err := o.CreateBooking(ctx, saga.CreateBookingRequest{
		IdempotencyKey: "k2", UserID: 9, ShowID: 7, SeatLabels: []string{"A2", "A3"},
	})
	assert.True(t, errors.Is(err, reservation.ErrSeatAlreadyLocked))
	store.AssertNotCalled(t, "CreateWithSeats", mock.Anything, mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestCreateBooking_ClosedShowRejected(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, &paymentsMock{}, &publisherMock{})
	ctx := context.Background()

	closed := openShow()
	closed.BookingEnabled = false
	store.On("ByIdempotencyKey", ctx, "k3").Return(nil, repository.ErrBookingNotFound)
	shows.On("ShowByID", ctx, uint64(7)).Return(closed, nil)

	_, err := o.CreateBooking(ctx, saga.CreateBookingRequest{
		IdempotencyKey: "k3", UserID: 9, ShowID: 7, SeatLabels: []string{"A1"},
	})
	assert.True(t, errors.Is(err, saga.ErrBookingClosed))
	engine.AssertNotCalled(t, "LockSeats", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateBooking_PaymentInitiationFailureLeavesBookingInitiated(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	payments, pub := &paymentsMock{}, &publisherMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{prices: map[string]uint32{"A1": 1200}}, payments, pub)
	ctx := context.Background()

	store.On("ByIdempotencyKey", ctx, "k4").Return(nil, repository.ErrBookingNotFound)
	shows.On("ShowByID", ctx, uint64(7)).Return(openShow(), nil)
	engine.On("LockSeats", ctx, uint64(7), []string{"A1"}, uint64(9), mock.Anything, mock.Anything).
		Return(&reservation.LockResult{Seats: []string{"A1"}}, nil)
	store.On("CreateWithSeats", ctx, mock.Anything, mock.Anything).Return(nil)
	payments.On("Initiate", ctx, mock.Anything).Return(nil, errors.New("gateway timeout"))

	result, err := o.CreateBooking(ctx, saga.CreateBookingRequest{
		IdempotencyKey: "k4", UserID: 9, ShowID: 7, SeatLabels: []string{"A1"},
	})
	assert.True(t, errors.Is(err, saga.ErrPaymentInitiation))
	require.NotNil(t, result, "booking is surfaced so the client can retry with the same key")
	assert.Equal(t, model.BookingInitiated, result.Status)

	// no rollback: seats stay locked, the reaper owns cleanup
	engine.AssertNotCalled(t, "UnlockSeats", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "UpdateOutcome", mock.Anything, mock.Anything)
}

func TestCreateBooking_PricingFailureDegradesToBasePrice(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	payments, pub := &paymentsMock{}, &publisherMock{}
	pricer := &pricerStub{err: errors.New("pricing down")}
	o := newOrchestrator(store, shows, engine, pricer, payments, pub)
	ctx := context.Background()

	store.On("ByIdempotencyKey", ctx, "k5").Return(nil, repository.ErrBookingNotFound)
	shows.On("ShowByID", ctx, uint64(7)).Return(openShow(), nil)
	engine.On("LockSeats", ctx, uint64(7), []string{"A1", "A2"}, uint64(9), mock.Anything, mock.Anything).
		Return(&reservation.LockResult{Seats: []string{"A1", "A2"}}, nil)
	store.On("CreateWithSeats", ctx, mock.MatchedBy(func(b *model.Booking) bool {
		return b.TotalAmountCents == 2000 // 2 seats at the base price
	}), mock.Anything).Return(nil)
	payments.On("Initiate", ctx, mock.Anything).Return(nil, nil)

	result, err := o.CreateBooking(ctx, saga.CreateBookingRequest{
		IdempotencyKey: "k5", UserID: 9, ShowID: 7, SeatLabels: []string{"A1", "A2"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), result.TotalAmountCents)
}

func TestHandlePaymentUpdate_SuccessConfirmsExactlyOnce(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	payments, pub := &paymentsMock{}, &publisherMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, payments, pub)
	ctx := context.Background()

	id := uuid.New()
	pending := &model.Booking{
		ID: id, UserID: 42, ShowID: 7, SeatSessionID: "sess-1",
		Status: model.BookingInitiated, PaymentStatus: model.PaymentPending,
		TotalAmountCents: 2400,
	}
	seats := []model.BookingSeat{
		{BookingID: id, SeatLabel: "A1", PriceCents: 1500},
		{BookingID: id, SeatLabel: "A2", PriceCents: 900},
	}

	store.On("ByID", ctx, id).Return(pending, nil).Once()
	store.On("Seats", ctx, id).Return(seats, nil).Once()
	engine.On("ConfirmSeats", ctx, uint64(7), []string{"A1", "A2"}, uint64(42), "sess-1", id.String()).
		Return(2, nil).Once()
	shows.On("ApplyConfirmedSeats", ctx, uint64(7), 2).Return(nil).Once()
	store.On("UpdateOutcome", ctx, mock.MatchedBy(func(b *model.Booking) bool {
		return b.Status == model.BookingConfirmed &&
			b.PaymentStatus == model.PaymentSuccess &&
			b.SeatsConfirmed
	})).Return(nil).Once()
	pub.On("PublishBookingConfirmed", ctx, mock.Anything).Return(nil).Once()

	require.NoError(t, o.HandlePaymentUpdate(ctx, id, model.PaymentSuccess, ""))

	// re-delivery of the same outcome: stored payment status matches,
	// nothing runs again
	confirmed := *pending
	confirmed.Status = model.BookingConfirmed
	confirmed.PaymentStatus = model.PaymentSuccess
	confirmed.SeatsConfirmed = true
	store.On("ByID", ctx, id).Return(&confirmed, nil).Once()

	require.NoError(t, o.HandlePaymentUpdate(ctx, id, model.PaymentSuccess, ""))

	engine.AssertNumberOfCalls(t, "ConfirmSeats", 1)
	store.AssertNumberOfCalls(t, "UpdateOutcome", 1)
}

func TestHandlePaymentUpdate_FailureCancelsAndUnlocksBestEffort(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, &paymentsMock{}, &publisherMock{})
	ctx := context.Background()

	id := uuid.New()
	pending := &model.Booking{
		ID: id, UserID: 42, ShowID: 7, SeatSessionID: "sess-1",
		Status: model.BookingInitiated, PaymentStatus: model.PaymentPending,
	}
	store.On("ByID", ctx, id).Return(pending, nil)
	store.On("Seats", ctx, id).Return([]model.BookingSeat{{BookingID: id, SeatLabel: "A1"}}, nil)
	// unlock fails with "nothing held": the TTL already cleaned up,
	// the cancellation must proceed regardless
	engine.On("UnlockSeats", ctx, uint64(7), []string{"A1"}, uint64(42), "sess-1").
		Return(0, reservation.ErrSeatNotLocked)
	store.On("UpdateOutcome", ctx, mock.MatchedBy(func(b *model.Booking) bool {
		return b.Status == model.BookingCancelled &&
			b.PaymentStatus == model.PaymentFailed &&
			b.SeatsUnlocked
	})).Return(nil)

	require.NoError(t, o.HandlePaymentUpdate(ctx, id, model.PaymentFailed, "card declined"))
	store.AssertExpectations(t)
}

func TestHandlePaymentUpdate_PendingUpdateIsNoOp(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	pub := &publisherMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, &paymentsMock{}, pub)
	ctx := context.Background()

	id := uuid.New()
	pending := &model.Booking{
		ID: id, UserID: 42, ShowID: 7, SeatSessionID: "sess-1",
		Status: model.BookingInitiated, PaymentStatus: model.PaymentPending,
	}
	store.On("ByID", ctx, id).Return(pending, nil)

	// payment still in flight: the booking must stay INITIATED and its
	// seats must stay locked
	require.NoError(t, o.HandlePaymentUpdate(ctx, id, model.PaymentPending, ""))

	store.AssertNotCalled(t, "Seats", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "UpdateOutcome", mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "UnlockSeats", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "ConfirmSeats", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// the real outcome arriving afterwards is still honoured
	store.On("Seats", ctx, id).Return([]model.BookingSeat{{BookingID: id, SeatLabel: "A1"}}, nil)
	engine.On("ConfirmSeats", ctx, uint64(7), []string{"A1"}, uint64(42), "sess-1", id.String()).Return(1, nil)
	shows.On("ApplyConfirmedSeats", ctx, uint64(7), 1).Return(nil)
	store.On("UpdateOutcome", ctx, mock.MatchedBy(func(b *model.Booking) bool {
		return b.Status == model.BookingConfirmed && b.PaymentStatus == model.PaymentSuccess
	})).Return(nil)
	pub.On("PublishBookingConfirmed", ctx, mock.Anything).Return(nil)

	require.NoError(t, o.HandlePaymentUpdate(ctx, id, model.PaymentSuccess, ""))
	store.AssertExpectations(t)
}

func TestHandlePaymentUpdate_UnknownStatusTreatedAsFailure(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, &paymentsMock{}, &publisherMock{})
	ctx := context.Background()

	id := uuid.New()
	pending := &model.Booking{
		ID: id, UserID: 1, ShowID: 7, SeatSessionID: "s",
		Status: model.BookingInitiated, PaymentStatus: model.PaymentPending,
	}
	store.On("ByID", ctx, id).Return(pending, nil)
	store.On("Seats", ctx, id).Return([]model.BookingSeat{{BookingID: id, SeatLabel: "B1"}}, nil)
	engine.On("UnlockSeats", ctx, uint64(7), []string{"B1"}, uint64(1), "s").Return(1, nil)
	store.On("UpdateOutcome", ctx, mock.MatchedBy(func(b *model.Booking) bool {
		return b.Status == model.BookingCancelled
	})).Return(nil)

	require.NoError(t, o.HandlePaymentUpdate(ctx, id, model.PaymentStatus("WEIRD"), ""))
}

func TestHandlePaymentUpdate_ConflictingRedeliveryIgnored(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, &paymentsMock{}, &publisherMock{})
	ctx := context.Background()

	id := uuid.New()
	confirmed := &model.Booking{
		ID: id, ShowID: 7, Status: model.BookingConfirmed,
		PaymentStatus: model.PaymentSuccess, SeatsConfirmed: true,
	}
	store.On("ByID", ctx, id).Return(confirmed, nil)

	require.NoError(t, o.HandlePaymentUpdate(ctx, id, model.PaymentFailed, "late failure"))
	store.AssertNotCalled(t, "UpdateOutcome", mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "UnlockSeats", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlePaymentUpdate_UnknownBooking(t *testing.T) {
	store, shows, engine := &storeMock{}, &showsMock{}, &engineMock{}
	o := newOrchestrator(store, shows, engine, &pricerStub{}, &paymentsMock{}, &publisherMock{})
	ctx := context.Background()

	id := uuid.New()
	store.On("ByID", ctx, id).Return(nil, repository.ErrBookingNotFound)

	err := o.HandlePaymentUpdate(ctx, id, model.PaymentSuccess, "")
	assert.True(t, errors.Is(err, repository.ErrBookingNotFound))
}
