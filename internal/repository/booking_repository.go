package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/nvaziri/seatbook/internal/model"
)

// BookingRepo provides data access to the bookings and booking_seats
// tables.  A booking and its seat line items are always written in a
// single transaction so that a partially persisted booking can never
// be observed.  All timestamps are stored and compared in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, user_id, show_id, seat_session_id, total_amount_cents,
       status, payment_status, idempotency_key, seats_confirmed, seats_unlocked, created_at`

// CreateWithSeats inserts the booking and one booking_seats row per
// seat inside one transaction.  A collision on the unique
// idempotency_key index is reported as ErrDuplicateIdempotencyKey so
// the caller can re-read the winning record instead of failing the
// request.
func (r *BookingRepo) CreateWithSeats(ctx context.Context, b *model.Booking, seats []model.BookingSeat) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const insertBooking = `INSERT INTO bookings
        (id, user_id, show_id, seat_session_id, total_amount_cents,
         status, payment_status, idempotency_key, seats_confirmed, seats_unlocked, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, insertBooking,
		b.ID.String(), b.UserID, b.ShowID, b.SeatSessionID, b.TotalAmountCents,
		string(b.Status), string(b.PaymentStatus), b.IdempotencyKey,
		b.SeatsConfirmed, b.SeatsUnlocked, b.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}

	if len(seats) > 0 {
		query := `INSERT INTO booking_seats (booking_id, seat_label, price_cents) VALUES `
		args := make([]interface{}, 0, len(seats)*3)
		for i, s := range seats {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?)"
			args = append(args, b.ID.String(), s.SeatLabel, s.PriceCents)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ByID fetches a booking by its primary key.
func (r *BookingRepo) ByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id.String()))
}

// ByIdempotencyKey fetches the booking created for a client
// idempotency key, if any.  This is the saga's duplicate-submission
// short-circuit.
func (r *BookingRepo) ByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE idempotency_key = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, key))
}

// Seats returns the seat line items of a booking in insertion order.
func (r *BookingRepo) Seats(ctx context.Context, id uuid.UUID) ([]model.BookingSeat, error) {
	const q = `SELECT booking_id, seat_label, price_cents FROM booking_seats WHERE booking_id = ? ORDER BY seat_label`
	rows, err := r.db.QueryContext(ctx, q, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []model.BookingSeat
	for rows.Next() {
		var (
			s     model.BookingSeat
			rawID string
		)
		if err := rows.Scan(&rawID, &s.SeatLabel, &s.PriceCents); err != nil {
			return nil, err
		}
		if s.BookingID, err = uuid.Parse(rawID); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// UpdateOutcome persists the mutable saga fields of a booking:
// status, payment status and the two seat-engine guard flags.  A
// status value the schema cannot store surfaces as
// ErrUnsupportedStatus so the reaper can fall back to CANCELLED.
func (r *BookingRepo) UpdateOutcome(ctx context.Context, b *model.Booking) error {
	const q = `UPDATE bookings
        SET status = ?, payment_status = ?, seats_confirmed = ?, seats_unlocked = ?
        WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q,
		string(b.Status), string(b.PaymentStatus), b.SeatsConfirmed, b.SeatsUnlocked, b.ID.String())
	if err != nil && isTruncatedEnum(err) {
		return ErrUnsupportedStatus
	}
	return err
}

// StaleInitiated lists bookings still INITIATED whose created_at is
// older than the cutoff, oldest first, bounded by limit.  The reaper
// uses this as its sweep query.
func (r *BookingRepo) StaleInitiated(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
        WHERE status = 'INITIATED' AND created_at < ?
        ORDER BY created_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, cutoff.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b         model.Booking
		rawID     string
		status    string
		payStatus string
	)
	err := row.Scan(&rawID, &b.UserID, &b.ShowID, &b.SeatSessionID, &b.TotalAmountCents,
		&status, &payStatus, &b.IdempotencyKey, &b.SeatsConfirmed, &b.SeatsUnlocked, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if b.ID, err = uuid.Parse(rawID); err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.PaymentStatus = model.PaymentStatus(payStatus)
	return &b, nil
}

func (r *BookingRepo) scanOne(row *sql.Row) (*model.Booking, error) {
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// isDuplicateEntry reports whether err is MySQL error 1062
// (ER_DUP_ENTRY).
func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// isTruncatedEnum reports whether err is a MySQL enum/data rejection
// (1265 WARN_DATA_TRUNCATED or 1366 ER_TRUNCATED_WRONG_VALUE_FOR_FIELD).
func isTruncatedEnum(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == 1265 || myErr.Number == 1366
}
