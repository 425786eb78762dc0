package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The three engine operations that touch shared state run as Lua
// scripts so the check-and-mutate sequence is a single indivisible
// step on the Redis side.  Implementing them as separate check/set
// round-trips would open a race where two overlapping requests both
// pass the check and both take locks.

// lockScript checks every requested seat against the booked bitmap
// and the lock table, then creates all locks or none.
// KEYS[1] = booked bitmap, KEYS[2..] = lock keys.
// ARGV[1] = owner, ARGV[2] = ttl millis, ARGV[3..] = seat indices.
var lockScript = redis.NewScript(`
local n = #KEYS - 1
for i = 1, n do
    if redis.call('GETBIT', KEYS[1], tonumber(ARGV[i+2])) == 1 then
        return {'booked', tonumber(ARGV[i+2])}
    end
end
for i = 1, n do
    if redis.call('EXISTS', KEYS[i+1]) == 1 then
        return {'locked', tonumber(ARGV[i+2])}
    end
end
for i = 1, n do
    redis.call('SET', KEYS[i+1], ARGV[1], 'PX', tonumber(ARGV[2]))
end
return {'ok'}
`)

// unlockScript deletes each lock only when it is held by the caller;
// non-matching seats are skipped.  Returns the number of deleted locks.
// KEYS = lock keys, ARGV[1] = owner.
var unlockScript = redis.NewScript(`
local count = 0
for i = 1, #KEYS do
    if redis.call('GET', KEYS[i]) == ARGV[1] then
        redis.call('DEL', KEYS[i])
        count = count + 1
    end
end
return count
`)

// confirmScript turns locks into booked bits.  Validation is
// deliberately relaxed: a seat passes when the caller holds the lock,
// or when the lock has expired and nobody else booked or re-locked
// the seat.  It fails only on a set booked bit or a foreign lock.
// The booking-id marker makes retried confirmations a no-op.
// KEYS[1] = processed marker, KEYS[2] = booked bitmap, KEYS[3..] = lock keys.
// ARGV[1] = owner, ARGV[2] = marker ttl seconds, ARGV[3..] = seat indices.
var confirmScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return {'dup'}
end
local n = #KEYS - 2
for i = 1, n do
    local idx = tonumber(ARGV[i+2])
    if redis.call('GETBIT', KEYS[2], idx) == 1 then
        return {'booked', idx}
    end
    local holder = redis.call('GET', KEYS[i+2])
    if holder and holder ~= ARGV[1] then
        return {'locked', idx}
    end
end
for i = 1, n do
    redis.call('SETBIT', KEYS[2], tonumber(ARGV[i+2]), 1)
    redis.call('DEL', KEYS[i+2])
end
redis.call('SET', KEYS[1], '1', 'EX', tonumber(ARGV[2]))
return {'ok', n}
`)

// SeatState is the externally visible state of one seat.
type SeatState string

const (
	SeatFree   SeatState = "FREE"
	SeatLocked SeatState = "LOCKED"
	SeatBooked SeatState = "BOOKED"
)

// SeatStatus pairs a seat label with its current state.
type SeatStatus struct {
	Label string    `json:"label"`
	State SeatState `json:"state"`
}

// LockResult reports a successful multi-seat lock.
type LockResult struct {
	Seats     []string  `json:"seats"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config carries the engine's operational limits.
type Config struct {
	// MaxSeatsPerRequest bounds how many seats one lock request may
	// cover.
	MaxSeatsPerRequest int
	// ConfirmMarkerTTL is how long a booking's processed marker is
	// retained, i.e. the window during which a retried confirm is
	// recognised as a duplicate.  Should comfortably exceed the
	// payment processor's retry horizon.
	ConfirmMarkerTTL time.Duration
}

// Engine composes the seat index map, the booked bitmap and the lock
// table into the lock/unlock/confirm/expire operations.  All shared
// state lives in Redis; the engine itself is stateless apart from the
// seat map cache and is safe for concurrent use.
type Engine struct {
	rdb  *redis.Client
	maps *SeatMapCache
	cfg  Config
	now  func() time.Time
}

// NewEngine returns an engine backed by the given Redis client and
// seat map cache.
func NewEngine(rdb *redis.Client, maps *SeatMapCache, cfg Config) *Engine {
	if cfg.MaxSeatsPerRequest <= 0 {
		cfg.MaxSeatsPerRequest = 10
	}
	if cfg.ConfirmMarkerTTL <= 0 {
		cfg.ConfirmMarkerTTL = 24 * time.Hour
	}
	return &Engine{rdb: rdb, maps: maps, cfg: cfg, now: time.Now}
}

func bookedKey(showID uint64) string {
	return fmt.Sprintf("seat:booked:%d", showID)
}

func lockKey(showID uint64, idx int) string {
	return fmt.Sprintf("seat:lock:%d:%d", showID, idx)
}

func markerKey(bookingID string) string {
	return fmt.Sprintf("booking:confirmed:%s", bookingID)
}

// lockOwner is the value stored in a lock entry.  Owner equality is
// what unlock and confirm check, so both userID and sessionID take
// part.
func lockOwner(userID uint64, sessionID string) string {
	return fmt.Sprintf("%d:%s", userID, sessionID)
}

// resolve validates the request shape and translates labels to
// indices.  No Redis round-trip happens before validation passes.
func (e *Engine) resolve(ctx context.Context, showID uint64, labels []string) (*SeatMap, []int, error) {
	if len(labels) == 0 {
		return nil, nil, ErrInvalidSeat
	}
	if len(labels) > e.cfg.MaxSeatsPerRequest {
		return nil, nil, ErrTooManySeats
	}
	m, err := e.maps.SeatMap(ctx, showID)
	if err != nil {
		return nil, nil, err
	}
	indices, err := m.Indices(labels)
	if err != nil {
		return nil, nil, err
	}
	return m, indices, nil
}

// LockSeats attempts an atomic, all-or-nothing lock of the requested
// seats.  On success every seat carries an independently expiring
// lock with the given TTL.  On any conflict no lock is created and a
// SeatError naming the offending seat is returned.
func (e *Engine) LockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string, ttl time.Duration) (*LockResult, error) {
	m, indices, err := e.resolve(ctx, showID, labels)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(indices)+1)
	keys = append(keys, bookedKey(showID))
	args := make([]interface{}, 0, len(indices)+2)
	args = append(args, lockOwner(userID, sessionID), ttl.Milliseconds())
	for _, idx := range indices {
		keys = append(keys, lockKey(showID, idx))
		args = append(args, idx)
	}

	res, err := lockScript.Run(ctx, e.rdb, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("lock script: %w", err)
	}
	if err := e.conflictFrom(res, m); err != nil {
		return nil, err
	}

	lockedAt := e.now().UTC()
	return &LockResult{
		Seats:     labels,
		LockedAt:  lockedAt,
		ExpiresAt: lockedAt.Add(ttl),
	}, nil
}

// UnlockSeats releases every requested seat whose lock is held by the
// given owner and returns how many were actually released.  Seats
// held by others or already expired are skipped silently; when
// nothing at all was released the call reports ErrSeatNotLocked so
// callers can tell a late unlock from a successful one.
func (e *Engine) UnlockSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID string) (int, error) {
	_, indices, err := e.resolve(ctx, showID, labels)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(indices))
	for _, idx := range indices {
		keys = append(keys, lockKey(showID, idx))
	}

	count, err := unlockScript.Run(ctx, e.rdb, keys, lockOwner(userID, sessionID)).Int()
	if err != nil {
		return 0, fmt.Errorf("unlock script: %w", err)
	}
	if count == 0 {
		return 0, ErrSeatNotLocked
	}
	return count, nil
}

// ConfirmSeats sets the availability bit for every seat, removes any
// remaining locks and records the booking's processed marker.  The
// call is idempotent per bookingID: a retried confirmation returns
// (0, nil) without touching seat state.  The engine does not decide
// booking status; that is the caller's job after this returns.
func (e *Engine) ConfirmSeats(ctx context.Context, showID uint64, labels []string, userID uint64, sessionID, bookingID string) (int, error) {
	m, indices, err := e.resolve(ctx, showID, labels)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(indices)+2)
	keys = append(keys, markerKey(bookingID), bookedKey(showID))
	args := make([]interface{}, 0, len(indices)+2)
	args = append(args, lockOwner(userID, sessionID), int(e.cfg.ConfirmMarkerTTL.Seconds()))
	for _, idx := range indices {
		keys = append(keys, lockKey(showID, idx))
		args = append(args, idx)
	}

	res, err := confirmScript.Run(ctx, e.rdb, keys, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("confirm script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) == 0 {
		return 0, fmt.Errorf("confirm script: unexpected result %#v", res)
	}
	if s, _ := arr[0].(string); s == "dup" {
		return 0, nil
	}
	if err := e.conflictFrom(res, m); err != nil {
		return 0, err
	}
	return len(indices), nil
}

// ExpireLocks bulk-releases every outstanding lock of a show without
// touching booked bits.  Operational recovery only; the steady-state
// saga relies on per-lock TTL expiry.
func (e *Engine) ExpireLocks(ctx context.Context, showID uint64) (int, error) {
	pattern := fmt.Sprintf("seat:lock:%d:*", showID)
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := e.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan locks: %w", err)
		}
		if len(keys) > 0 {
			n, err := e.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("delete locks: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Availability reports the current FREE/LOCKED/BOOKED state of every
// seat of a show, in seat index order.
func (e *Engine) Availability(ctx context.Context, showID uint64) ([]SeatStatus, error) {
	m, err := e.maps.SeatMap(ctx, showID)
	if err != nil {
		return nil, err
	}
	total := m.TotalSeats()
	if total == 0 {
		return []SeatStatus{}, nil
	}

	bitmap, err := e.rdb.Get(ctx, bookedKey(showID)).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read bitmap: %w", err)
	}

	lockKeys := make([]string, total)
	for i := 0; i < total; i++ {
		lockKeys[i] = lockKey(showID, i)
	}
	lockVals, err := e.rdb.MGet(ctx, lockKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read locks: %w", err)
	}

	out := make([]SeatStatus, total)
	for i := 0; i < total; i++ {
		label, _ := m.Label(i)
		state := SeatFree
		if bitSet(bitmap, i) {
			state = SeatBooked
		} else if i < len(lockVals) && lockVals[i] != nil {
			state = SeatLocked
		}
		out[i] = SeatStatus{Label: label, State: state}
	}
	return out, nil
}

// bitSet reads bit i of a Redis bitmap value.  SETBIT addresses bits
// most-significant-first within each byte.
func bitSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<uint(7-i%8)) != 0
}

// conflictFrom maps a script result to a SeatError, or nil when the
// script reported success.
func (e *Engine) conflictFrom(res interface{}, m *SeatMap) error {
	arr, ok := res.([]interface{})
	if !ok || len(arr) == 0 {
		return fmt.Errorf("seat script: unexpected result %#v", res)
	}
	status, _ := arr[0].(string)
	switch status {
	case "ok":
		return nil
	case "booked", "locked":
		label := "?"
		if len(arr) > 1 {
			if idx, ok := arr[1].(int64); ok {
				if l, found := m.Label(int(idx)); found {
					label = l
				}
			}
		}
		if status == "booked" {
			return seatErr(label, ErrSeatAlreadyBooked)
		}
		return seatErr(label, ErrSeatAlreadyLocked)
	default:
		return fmt.Errorf("seat script: unexpected status %q", status)
	}
}
