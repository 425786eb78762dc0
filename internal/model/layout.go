package model

import "encoding/json"

// SeatType classifies a seat into one of the four pricing tiers.
type SeatType string

const (
	SeatTypeStandard SeatType = "STANDARD"
	SeatTypePremium  SeatType = "PREMIUM"
	SeatTypeVIP      SeatType = "VIP"
	SeatTypeRecliner SeatType = "RECLINER"
)

// LayoutCell is a single position in a layout row.  A cell is either
// a seat, carrying a label and a pricing tier, or a gap (aisle,
// pillar), in which case Seat is false and the remaining fields are
// empty.  Gaps take part in the visual grid but never receive a seat
// index.
type LayoutCell struct {
	Seat  bool     `json:"seat"`
	Label string   `json:"label,omitempty"`
	Type  SeatType `json:"type,omitempty"`
}

// LayoutRow is an ordered list of cells.  The optional Tier acts as a
// row-range classification: seat cells without an explicit tier
// inherit it.
type LayoutRow struct {
	Tier  SeatType     `json:"tier,omitempty"`
	Cells []LayoutCell `json:"cells"`
}

// SeatLayout is the immutable seating plan a show references.  It
// defines the universe of valid seat labels; once a show points at a
// layout, the layout never changes for the life of that show.
//
// Fields:
//  ID   – primary key identifier.
//  Name – human-readable layout name.
//  Rows – ordered rows of cells, stored as JSON in seat_layouts.rows.
type SeatLayout struct {
	ID   uint64      // seat_layouts.id
	Name string      // seat_layouts.name
	Rows []LayoutRow // seat_layouts.rows (JSON)
}

// TierOf resolves the pricing tier of a seat cell within its row:
// the cell's own tier when set, otherwise the row tier, otherwise
// STANDARD.
func TierOf(row LayoutRow, cell LayoutCell) SeatType {
	if cell.Type != "" {
		return cell.Type
	}
	if row.Tier != "" {
		return row.Tier
	}
	return SeatTypeStandard
}

// ParseLayoutRows decodes the JSON rows column of a seat layout.
func ParseLayoutRows(raw []byte) ([]LayoutRow, error) {
	var rows []LayoutRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
