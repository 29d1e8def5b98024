package postgres

import (
	"context"
	"time"

	"tickfeed/pkg/market"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// snapshotAssignments are the columns rewritten when a newer tick
// replaces the latest row.
var snapshotAssignments = []string{
	"observed_at",
	"best_bid", "best_ask", "best_bid_qty", "best_ask_qty",
	"mark_price", "last_price",
	"last_tick_id", "updated_at",
}

// IngestTick appends one tick and refreshes the latest row for its
// (instrument, exchange) pair in a single transaction. The upsert
// carries a row-comparison guard so a late tick can never regress the
// snapshot: Postgres serializes conflicting upserts on the composite
// key, and the guard rejects any candidate whose (observed_at, id)
// sorts below what is already stored. A rejected candidate is not an
// error; the tick stays committed and Applied comes back false.
func (c *Client) IngestTick(ctx context.Context, instrumentID int64, exchange market.Exchange, fields market.TickFields, observedAt time.Time) (market.IngestResult, error) {
	var res market.IngestResult

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := &TickRecord{
			InstrumentID: instrumentID,
			Exchange:     string(exchange),
			ObservedAt:   observedAt,
			BestBid:      fields.BestBid,
			BestAsk:      fields.BestAsk,
			BestBidQty:   fields.BestBidQty,
			BestAskQty:   fields.BestAskQty,
			MarkPrice:    fields.MarkPrice,
			LastPrice:    fields.LastPrice,
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}

		up := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "instrument_id"},
				{Name: "exchange"},
			},
			DoUpdates: clause.AssignmentColumns(snapshotAssignments),
			Where: clause.Where{Exprs: []clause.Expression{clause.Expr{
				SQL: "(latest_ticks.observed_at, latest_ticks.last_tick_id) < (excluded.observed_at, excluded.last_tick_id)",
			}}},
		}).Create(snapshotFromTick(rec, time.Now().UTC()))
		if up.Error != nil {
			return up.Error
		}

		res = market.IngestResult{
			TickID:  rec.ID,
			Applied: up.RowsAffected > 0,
		}
		return nil
	})
	if err != nil {
		return market.IngestResult{}, translateError(err)
	}

	return res, nil
}

// History returns ticks newest first, ordered by (observed_at, id)
// descending. Filtered lookups ride the (instrument_id, exchange,
// observed_at) index.
func (c *Client) History(ctx context.Context, f market.HistoryFilter) ([]market.Tick, error) {
	if f.Limit <= 0 {
		return []market.Tick{}, nil
	}

	q := c.DB.WithContext(ctx).Model(&TickRecord{})
	if f.InstrumentID != nil {
		q = q.Where("instrument_id = ?", *f.InstrumentID)
	}
	if f.Exchange != nil {
		q = q.Where("exchange = ?", string(*f.Exchange))
	}

	var recs []TickRecord
	err := q.Order("observed_at DESC, id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&recs).Error
	if err != nil {
		return nil, translateError(err)
	}

	ticks := make([]market.Tick, 0, len(recs))
	for i := range recs {
		ticks = append(ticks, recs[i].toTick())
	}
	return ticks, nil
}

// Latest is a point or range lookup on the latest_ticks table; history
// is never scanned.
func (c *Client) Latest(ctx context.Context, f market.SnapshotFilter) ([]market.Snapshot, error) {
	q := c.DB.WithContext(ctx).Model(&SnapshotRecord{})
	if f.InstrumentID != nil {
		q = q.Where("instrument_id = ?", *f.InstrumentID)
	}
	if f.Exchange != nil {
		q = q.Where("exchange = ?", string(*f.Exchange))
	}

	var recs []SnapshotRecord
	if err := q.Order("instrument_id, exchange").Find(&recs).Error; err != nil {
		return nil, translateError(err)
	}

	snaps := make([]market.Snapshot, 0, len(recs))
	for i := range recs {
		snaps = append(snaps, recs[i].toSnapshot())
	}
	return snaps, nil
}

// LatestByInstrument returns the latest row per exchange for one
// instrument, newest first. Answered entirely from latest_ticks.
func (c *Client) LatestByInstrument(ctx context.Context, instrumentID int64) ([]market.Snapshot, error) {
	var recs []SnapshotRecord
	err := c.DB.WithContext(ctx).
		Where("instrument_id = ?", instrumentID).
		Order("observed_at DESC, last_tick_id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, translateError(err)
	}

	snaps := make([]market.Snapshot, 0, len(recs))
	for i := range recs {
		snaps = append(snaps, recs[i].toSnapshot())
	}
	return snaps, nil
}

// DeleteTicksBefore prunes history older than the cutoff. Retention is
// an administrative action; the latest_ticks table is left untouched.
func (c *Client) DeleteTicksBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := c.DB.WithContext(ctx).
		Where("observed_at < ?", before).
		Delete(&TickRecord{})
	if tx.Error != nil {
		return 0, translateError(tx.Error)
	}
	return tx.RowsAffected, nil
}
