// Package feed contains the exchange-facing adapters that turn raw
// market data into ingested ticks. Each adapter resolves symbols
// through a shared instrument index and writes through the ingestion
// service, so ordering and latest-wins rules are enforced in one place.
package feed

import (
	"context"
	"time"

	"tickfeed/pkg/market"
)

// Sink is the write side the adapters push into. *ingest.Service
// satisfies it.
type Sink interface {
	Ingest(ctx context.Context, instrumentID int64, exchange market.Exchange, fields market.TickFields, observedAt time.Time) (int64, error)
}

// instrumentLister is the slice of the registry the index needs.
type instrumentLister interface {
	List(ctx context.Context) ([]market.Instrument, error)
}

func ptr(f float64) *float64 { return &f }
