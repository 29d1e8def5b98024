package market

import (
	"context"
	"time"
)

// HistoryFilter selects ticks for a history query. Nil dimensions mean
// "any". Limit and Offset are final values; defaulting happens at the
// service layer, a Limit of zero yields an empty page.
type HistoryFilter struct {
	InstrumentID *int64
	Exchange     *Exchange
	Limit        int
	Offset       int
}

// SnapshotFilter selects latest-snapshot rows. Nil dimensions mean "any".
type SnapshotFilter struct {
	InstrumentID *int64
	Exchange     *Exchange
}

// IngestResult reports the outcome of one tick ingestion.
type IngestResult struct {
	TickID int64
	// Applied is false when the tick was older than the pair's current
	// snapshot and the latest view was intentionally left untouched.
	// The tick itself is always committed to history.
	Applied bool
}

// TickStore is the write/read surface over tick history and the latest
// snapshot table. IngestTick applies the history append and the guarded
// snapshot upsert as a single atomic unit per (instrument, exchange)
// pair; concurrent writers for the same pair must not race the snapshot
// into an older state.
type TickStore interface {
	IngestTick(ctx context.Context, instrumentID int64, exchange Exchange, fields TickFields, observedAt time.Time) (IngestResult, error)
	History(ctx context.Context, f HistoryFilter) ([]Tick, error)
	Latest(ctx context.Context, f SnapshotFilter) ([]Snapshot, error)
	// LatestByInstrument returns one snapshot per exchange that has ever
	// reported for the instrument, ordered by ObservedAt descending.
	// Implementations answer this from the snapshot table, never by
	// aggregating history.
	LatestByInstrument(ctx context.Context, instrumentID int64) ([]Snapshot, error)
}

// InstrumentStore is the registry surface. Name uniqueness is enforced
// on create and rename.
type InstrumentStore interface {
	CreateInstrument(ctx context.Context, name string) (Instrument, error)
	RenameInstrument(ctx context.Context, id int64, name string) (Instrument, error)
	SetInstrumentFlags(ctx context.Context, id int64, trading, collecting *bool) (Instrument, error)
	InstrumentByID(ctx context.Context, id int64) (Instrument, error)
	InstrumentByName(ctx context.Context, name string) (Instrument, error)
	ListInstruments(ctx context.Context) ([]Instrument, error)
}
