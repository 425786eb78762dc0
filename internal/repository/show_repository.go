package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nvaziri/seatbook/internal/model"
)

// ShowRepo provides read access to shows and their seat layouts, and
// owns the denormalized counter update performed on the seat-confirm
// path.  Show and layout creation belong to an external scheduling
// system and are not exposed here.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo returns a new ShowRepo bound to the provided database.
func NewShowRepo(db *sql.DB) *ShowRepo { return &ShowRepo{db: db} }

// DB exposes the underlying handle for callers that need to compose
// transactions across repositories.
func (r *ShowRepo) DB() *sql.DB { return r.db }

// ShowByID fetches a show with its pricing and counters.
func (r *ShowRepo) ShowByID(ctx context.Context, showID uint64) (*model.Show, error) {
	const q = `SELECT id, layout_id, title,
               price_standard_cents, price_premium_cents, price_vip_cents, price_recliner_cents,
               total_seats, available_seats, booked_seats,
               booking_cutoff_time, booking_enabled, created_at
        FROM shows WHERE id = ?`

	var s model.Show
	err := r.db.QueryRowContext(ctx, q, showID).Scan(
		&s.ID, &s.LayoutID, &s.Title,
		&s.Pricing.StandardCents, &s.Pricing.PremiumCents, &s.Pricing.VIPCents, &s.Pricing.ReclinerCents,
		&s.TotalSeats, &s.AvailableSeats, &s.BookedSeats,
		&s.BookingCutoffTime, &s.BookingEnabled, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LayoutByShow loads the seat layout referenced by a show and decodes
// its JSON rows.  Layouts are immutable once a show references them,
// which is what allows callers to cache the derived seat map.
func (r *ShowRepo) LayoutByShow(ctx context.Context, showID uint64) (*model.SeatLayout, error) {
	const q = `SELECT l.id, l.name, l.rows
        FROM seat_layouts l
        JOIN shows s ON s.layout_id = l.id
        WHERE s.id = ?`

	var (
		layout model.SeatLayout
		raw    []byte
	)
	err := r.db.QueryRowContext(ctx, q, showID).Scan(&layout.ID, &layout.Name, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	if layout.Rows, err = model.ParseLayoutRows(raw); err != nil {
		return nil, err
	}
	return &layout, nil
}

// ApplyConfirmedSeats moves n seats from available to booked on the
// show's denormalized counters.  The counters are an eventually
// consistent cache of the booked bitmap; available_seats is clamped
// at zero rather than allowed to wrap.
func (r *ShowRepo) ApplyConfirmedSeats(ctx context.Context, showID uint64, n int) error {
	const q = `UPDATE shows
        SET booked_seats = booked_seats + ?,
            available_seats = IF(available_seats >= ?, available_seats - ?, 0)
        WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, n, n, n, showID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrShowNotFound
	}
	return nil
}
