// Package query implements the read path: paginated history, latest
// snapshots, the grouped per-exchange latest view, and instrument name
// resolution. All operations are side-effect-free apart from best-effort
// cache fills.
package query

import (
	"context"
	"errors"
	"fmt"

	"tickfeed/internal/cache"
	"tickfeed/pkg/market"

	"go.uber.org/zap"
)

const (
	// DefaultLimit bounds history pages when the caller does not ask
	// for a specific size.
	DefaultLimit = 10
	// MaxLimit caps a single history page.
	MaxLimit = 1000
)

// HistoryRequest selects ticks. Nil dimensions mean "any".
type HistoryRequest struct {
	InstrumentID *int64
	Exchange     *market.Exchange
	Limit        int
	Offset       int
}

// SnapshotRequest selects latest rows. Nil dimensions mean "any".
type SnapshotRequest struct {
	InstrumentID *int64
	Exchange     *market.Exchange
}

type Service struct {
	store       market.TickStore
	instruments market.InstrumentStore
	cache       *cache.SnapshotCache // optional
	logger      *zap.Logger
}

func NewService(store market.TickStore, instruments market.InstrumentStore, snapCache *cache.SnapshotCache, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		instruments: instruments,
		cache:       snapCache,
		logger:      logger,
	}
}

// History returns ticks newest first by (observed_at, id).
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]market.Tick, error) {
	if req.Limit < 0 || req.Offset < 0 {
		return nil, fmt.Errorf("%w: negative pagination values", market.ErrInvalidArgument)
	}
	if req.Exchange != nil && !req.Exchange.IsValid() {
		return nil, fmt.Errorf("%w: unknown exchange %q", market.ErrInvalidArgument, *req.Exchange)
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	return s.store.History(ctx, market.HistoryFilter{
		InstrumentID: req.InstrumentID,
		Exchange:     req.Exchange,
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
}

// Latest returns snapshot rows for the given filters. An exact
// (instrument, exchange) lookup reads through the cache when one is
// configured; broader filters always hit the snapshot table, which is
// itself O(pairs), never a history scan.
func (s *Service) Latest(ctx context.Context, req SnapshotRequest) ([]market.Snapshot, error) {
	if req.Exchange != nil && !req.Exchange.IsValid() {
		return nil, fmt.Errorf("%w: unknown exchange %q", market.ErrInvalidArgument, *req.Exchange)
	}

	exact := req.InstrumentID != nil && req.Exchange != nil
	if exact && s.cache != nil {
		snap, err := s.cache.GetLatest(ctx, *req.InstrumentID, *req.Exchange)
		if err == nil {
			return []market.Snapshot{snap}, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("snapshot cache read failed", zap.Error(err))
		}
	}

	snaps, err := s.store.Latest(ctx, market.SnapshotFilter{
		InstrumentID: req.InstrumentID,
		Exchange:     req.Exchange,
	})
	if err != nil {
		return nil, err
	}

	if exact && s.cache != nil && len(snaps) == 1 {
		if err := s.cache.SetLatest(ctx, snaps[0]); err != nil {
			s.logger.Warn("snapshot cache fill failed", zap.Error(err))
		}
	}
	return snaps, nil
}

// LatestGroupedByExchange returns one snapshot per exchange that has
// ever reported for the instrument, ordered by observed_at descending.
// Equivalent to a max-per-group aggregate over full history, but served
// from the maintained snapshot table in O(exchanges).
func (s *Service) LatestGroupedByExchange(ctx context.Context, instrumentID int64) ([]market.Snapshot, error) {
	if _, err := s.instruments.InstrumentByID(ctx, instrumentID); err != nil {
		return nil, fmt.Errorf("resolve instrument %d: %w", instrumentID, err)
	}
	return s.store.LatestByInstrument(ctx, instrumentID)
}

// ResolveInstrument maps an exact, case-sensitive name to its id.
func (s *Service) ResolveInstrument(ctx context.Context, name string) (int64, error) {
	inst, err := s.instruments.InstrumentByName(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("resolve instrument %q: %w", name, err)
	}
	return inst.ID, nil
}
