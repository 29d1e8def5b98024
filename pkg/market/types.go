package market

import "time"

// TickFields carries the price observation values reported by an
// exchange. Every field is independently optional: a nil pointer means
// the venue omitted the field, which is distinct from reporting zero.
type TickFields struct {
	BestBid    *float64 `json:"best_bid,omitempty"`
	BestAsk    *float64 `json:"best_ask,omitempty"`
	BestBidQty *float64 `json:"best_bid_qty,omitempty"`
	BestAskQty *float64 `json:"best_ask_qty,omitempty"`
	MarkPrice  *float64 `json:"mark_price,omitempty"`
	LastPrice  *float64 `json:"last_price,omitempty"`
}

// Empty reports whether no field was supplied at all.
func (f TickFields) Empty() bool {
	return f.BestBid == nil && f.BestAsk == nil &&
		f.BestBidQty == nil && f.BestAskQty == nil &&
		f.MarkPrice == nil && f.LastPrice == nil
}

// Tick is one immutable price observation for an instrument on an
// exchange. Ticks are append-only; for a fixed (instrument, exchange)
// pair they are totally ordered by (ObservedAt, ID).
type Tick struct {
	ID           int64     `json:"id"`
	InstrumentID int64     `json:"instrument_id"`
	Exchange     Exchange  `json:"exchange"`
	ObservedAt   time.Time `json:"observed_at"`
	TickFields
	IngestedAt time.Time `json:"ingested_at"`
}

// Snapshot is the maintained latest-tick row for one (instrument,
// exchange) pair. Its value fields always equal those of the tick with
// the greatest (ObservedAt, ID) ever ingested for the pair.
type Snapshot struct {
	InstrumentID int64     `json:"instrument_id"`
	Exchange     Exchange  `json:"exchange"`
	ObservedAt   time.Time `json:"observed_at"`
	TickFields
	LastTickID int64     `json:"last_tick_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Before reports whether the snapshot's ordering key (ObservedAt,
// LastTickID) precedes the given tick key. Used by stores to decide
// whether an incoming tick may replace the snapshot.
func (s Snapshot) Before(observedAt time.Time, tickID int64) bool {
	if s.ObservedAt.Before(observedAt) {
		return true
	}
	return s.ObservedAt.Equal(observedAt) && s.LastTickID < tickID
}

// Instrument is a registered trading pair. Names are unique.
// Instruments are never deleted while ticks reference them; instead the
// Collecting flag is cleared to stop the feeds.
type Instrument struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Trading    bool      `json:"trading"`
	Collecting bool      `json:"collecting"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
