package reservation

import (
	"context"

	"github.com/nvaziri/seatbook/internal/model"
)

// ShowSource loads show records for pricing lookups.  The repository
// layer implements it.
type ShowSource interface {
	ShowByID(ctx context.Context, showID uint64) (*model.Show, error)
}

// Pricer derives a seat's pricing tier from the layout and resolves
// it against the show's per-tier pricing.  Missing or partial pricing
// configuration degrades to the configured default price rather than
// failing; a pricing problem must never block booking creation.
type Pricer struct {
	shows        ShowSource
	maps         *SeatMapCache
	defaultCents uint32
}

// NewPricer returns a pricer with the given default price in cents.
func NewPricer(shows ShowSource, maps *SeatMapCache, defaultCents uint32) *Pricer {
	return &Pricer{shows: shows, maps: maps, defaultCents: defaultCents}
}

// BasePrice returns the fallback price applied when a tier has no
// configured price.
func (p *Pricer) BasePrice() uint32 { return p.defaultCents }

// SeatPrices returns the price of each requested seat label.  Seats
// whose tier is unconfigured, and labels that cannot be resolved at
// all, are priced at the default.  The only error path is failing to
// load the show or its layout.
func (p *Pricer) SeatPrices(ctx context.Context, showID uint64, labels []string) (map[string]uint32, error) {
	show, err := p.shows.ShowByID(ctx, showID)
	if err != nil {
		return nil, err
	}
	m, err := p.maps.SeatMap(ctx, showID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint32, len(labels))
	for _, label := range labels {
		price := p.defaultCents
		if idx, ok := m.Index(label); ok {
			if tier, ok := m.Tier(idx); ok {
				if cents, configured := show.Pricing.PriceFor(tier); configured {
					price = cents
				}
			}
		}
		out[label] = price
	}
	return out, nil
}
