package postgres

import (
	"testing"
	"time"
)

func TestSnapshotFromTick(t *testing.T) {
	bid, ask := 100.0, 101.0
	observed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 1, 10, 0, 1, 0, time.UTC)

	rec := &TickRecord{
		ID:           42,
		InstrumentID: 7,
		Exchange:     "BINANCE",
		ObservedAt:   observed,
		BestBid:      &bid,
		BestAsk:      &ask,
	}

	snap := snapshotFromTick(rec, now)

	if snap.InstrumentID != 7 || snap.Exchange != "BINANCE" {
		t.Errorf("snapshot key mismatch: %+v", snap)
	}
	if snap.LastTickID != 42 {
		t.Errorf("last_tick_id = %d, want 42", snap.LastTickID)
	}
	if !snap.ObservedAt.Equal(observed) || !snap.UpdatedAt.Equal(now) {
		t.Errorf("timestamp mismatch: %+v", snap)
	}
	if snap.BestBid == nil || *snap.BestBid != bid {
		t.Errorf("best_bid not carried over: %+v", snap.BestBid)
	}
	if snap.MarkPrice != nil {
		t.Error("omitted field should stay nil")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	last := 99.5
	rec := &TickRecord{
		ID:           1,
		InstrumentID: 2,
		Exchange:     "COINEX",
		ObservedAt:   time.Now().UTC(),
		LastPrice:    &last,
	}

	tick := rec.toTick()
	if tick.Exchange != "COINEX" || tick.LastPrice == nil || *tick.LastPrice != last {
		t.Errorf("unexpected tick: %+v", tick)
	}
	if tick.BestBid != nil {
		t.Error("nil column must map to nil field, not zero")
	}
}

func TestTableNames(t *testing.T) {
	if got := (TickRecord{}).TableName(); got != "ticks" {
		t.Errorf("tick table = %q", got)
	}
	if got := (SnapshotRecord{}).TableName(); got != "latest_ticks" {
		t.Errorf("snapshot table = %q", got)
	}
	if got := (InstrumentRecord{}).TableName(); got != "instruments" {
		t.Errorf("instrument table = %q", got)
	}
}
