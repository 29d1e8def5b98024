package postgres

import (
	"time"

	"tickfeed/pkg/market"
)

// InstrumentRecord is a registered trading pair row.
type InstrumentRecord struct {
	ID         int64     `gorm:"primaryKey"`
	Name       string    `gorm:"type:text;not null;uniqueIndex:idx_instruments_name"`
	Trading    bool      `gorm:"not null;default:false"`
	Collecting bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (InstrumentRecord) TableName() string {
	return "instruments"
}

// TickRecord is one immutable price observation. Rows are append-only;
// the composite index serves filtered history queries without a full
// table scan.
type TickRecord struct {
	ID int64 `gorm:"primaryKey"`

	InstrumentID int64     `gorm:"not null;index:idx_ticks_pair_observed,priority:1"`
	Exchange     string    `gorm:"type:varchar(16);not null;index:idx_ticks_pair_observed,priority:2"`
	ObservedAt   time.Time `gorm:"not null;index:idx_ticks_pair_observed,priority:3"`

	BestBid    *float64 `gorm:"type:numeric"`
	BestAsk    *float64 `gorm:"type:numeric"`
	BestBidQty *float64 `gorm:"type:numeric"`
	BestAskQty *float64 `gorm:"type:numeric"`
	MarkPrice  *float64 `gorm:"type:numeric"`
	LastPrice  *float64 `gorm:"type:numeric"`

	IngestedAt time.Time `gorm:"not null;autoCreateTime"`
}

func (TickRecord) TableName() string {
	return "ticks"
}

// SnapshotRecord is the single latest-tick row per (instrument,
// exchange) pair, updated in place by the guarded upsert in IngestTick.
type SnapshotRecord struct {
	InstrumentID int64  `gorm:"primaryKey;autoIncrement:false"`
	Exchange     string `gorm:"primaryKey;type:varchar(16)"`

	ObservedAt time.Time `gorm:"not null;index:idx_latest_ticks_observed"`

	BestBid    *float64 `gorm:"type:numeric"`
	BestAsk    *float64 `gorm:"type:numeric"`
	BestBidQty *float64 `gorm:"type:numeric"`
	BestAskQty *float64 `gorm:"type:numeric"`
	MarkPrice  *float64 `gorm:"type:numeric"`
	LastPrice  *float64 `gorm:"type:numeric"`

	// Back-reference to the tick that produced this row; kept for
	// traceability only, never dereferenced for correctness.
	LastTickID int64 `gorm:"not null"`

	UpdatedAt time.Time `gorm:"not null"`
}

func (SnapshotRecord) TableName() string {
	return "latest_ticks"
}

func (r *TickRecord) toTick() market.Tick {
	return market.Tick{
		ID:           r.ID,
		InstrumentID: r.InstrumentID,
		Exchange:     market.Exchange(r.Exchange),
		ObservedAt:   r.ObservedAt,
		TickFields: market.TickFields{
			BestBid:    r.BestBid,
			BestAsk:    r.BestAsk,
			BestBidQty: r.BestBidQty,
			BestAskQty: r.BestAskQty,
			MarkPrice:  r.MarkPrice,
			LastPrice:  r.LastPrice,
		},
		IngestedAt: r.IngestedAt,
	}
}

func (r *SnapshotRecord) toSnapshot() market.Snapshot {
	return market.Snapshot{
		InstrumentID: r.InstrumentID,
		Exchange:     market.Exchange(r.Exchange),
		ObservedAt:   r.ObservedAt,
		TickFields: market.TickFields{
			BestBid:    r.BestBid,
			BestAsk:    r.BestAsk,
			BestBidQty: r.BestBidQty,
			BestAskQty: r.BestAskQty,
			MarkPrice:  r.MarkPrice,
			LastPrice:  r.LastPrice,
		},
		LastTickID: r.LastTickID,
		UpdatedAt:  r.UpdatedAt,
	}
}

// snapshotFromTick builds the candidate latest row for an inserted tick.
func snapshotFromTick(t *TickRecord, now time.Time) *SnapshotRecord {
	return &SnapshotRecord{
		InstrumentID: t.InstrumentID,
		Exchange:     t.Exchange,
		ObservedAt:   t.ObservedAt,
		BestBid:      t.BestBid,
		BestAsk:      t.BestAsk,
		BestBidQty:   t.BestBidQty,
		BestAskQty:   t.BestAskQty,
		MarkPrice:    t.MarkPrice,
		LastPrice:    t.LastPrice,
		LastTickID:   t.ID,
		UpdatedAt:    now,
	}
}

func (r *InstrumentRecord) toInstrument() market.Instrument {
	return market.Instrument{
		ID:         r.ID,
		Name:       r.Name,
		Trading:    r.Trading,
		Collecting: r.Collecting,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
