package reservation

import (
	"context"
	"sync"

	"github.com/nvaziri/seatbook/internal/model"
)

// SeatMap is the bidirectional mapping between human seat labels
// (e.g. "A1") and dense integer indices for one show.  It is built
// once by walking the layout in row-major order, skipping non-seat
// cells, and is immutable for the life of the show.  Indices are
// dense integers in [0, TotalSeats).
type SeatMap struct {
	byLabel map[string]int
	byIndex []string
	tiers   []model.SeatType
}

// NewSeatMap builds the seat map for a layout.  Seat cells receive
// consecutive indices in row-major order; gaps are skipped.  A label
// appearing twice in the layout keeps its first index, mirroring the
// layout being the authority on the seat universe.
func NewSeatMap(layout *model.SeatLayout) *SeatMap {
	m := &SeatMap{byLabel: make(map[string]int)}
	for _, row := range layout.Rows {
		for _, cell := range row.Cells {
			if !cell.Seat || cell.Label == "" {
				continue
			}
			if _, exists := m.byLabel[cell.Label]; exists {
				continue
			}
			m.byLabel[cell.Label] = len(m.byIndex)
			m.byIndex = append(m.byIndex, cell.Label)
			m.tiers = append(m.tiers, model.TierOf(row, cell))
		}
	}
	return m
}

// TotalSeats returns the number of seats in the layout.
func (m *SeatMap) TotalSeats() int { return len(m.byIndex) }

// Index resolves a seat label to its dense index.
func (m *SeatMap) Index(label string) (int, bool) {
	idx, ok := m.byLabel[label]
	return idx, ok
}

// Label resolves a dense index back to its seat label.
func (m *SeatMap) Label(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.byIndex) {
		return "", false
	}
	return m.byIndex[idx], true
}

// Tier returns the pricing tier of the seat at the given index.
func (m *SeatMap) Tier(idx int) (model.SeatType, bool) {
	if idx < 0 || idx >= len(m.tiers) {
		return "", false
	}
	return m.tiers[idx], true
}

// Indices resolves a list of labels, rejecting unknown labels and
// duplicates within the request.  The returned slice is parallel to
// the input.
func (m *SeatMap) Indices(labels []string) ([]int, error) {
	seen := make(map[string]struct{}, len(labels))
	out := make([]int, 0, len(labels))
	for _, l := range labels {
		if _, dup := seen[l]; dup {
			return nil, seatErr(l, ErrDuplicateSeat)
		}
		seen[l] = struct{}{}
		idx, ok := m.byLabel[l]
		if !ok {
			return nil, seatErr(l, ErrInvalidSeat)
		}
		out = append(out, idx)
	}
	return out, nil
}

// LayoutSource loads the seat layout referenced by a show.  The
// repository layer implements it.
type LayoutSource interface {
	LayoutByShow(ctx context.Context, showID uint64) (*model.SeatLayout, error)
}

// SeatMapCache builds seat maps on first use and caches them for the
// life of the process.  Layouts are immutable once referenced by a
// show, so the cache never invalidates.
type SeatMapCache struct {
	source LayoutSource

	mu   sync.RWMutex
	maps map[uint64]*SeatMap
}

// NewSeatMapCache returns a cache backed by the given layout source.
func NewSeatMapCache(source LayoutSource) *SeatMapCache {
	return &SeatMapCache{source: source, maps: make(map[uint64]*SeatMap)}
}

// SeatMap returns the seat map of a show, building it from the
// layout on first access.
func (c *SeatMapCache) SeatMap(ctx context.Context, showID uint64) (*SeatMap, error) {
	c.mu.RLock()
	m, ok := c.maps[showID]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	layout, err := c.source.LayoutByShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	m = NewSeatMap(layout)

	c.mu.Lock()
	// another goroutine may have raced the build; keep the first
	if prev, ok := c.maps[showID]; ok {
		m = prev
	} else {
		c.maps[showID] = m
	}
	c.mu.Unlock()
	return m, nil
}
