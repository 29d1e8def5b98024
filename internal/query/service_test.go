package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tickfeed/internal/cache"
	"tickfeed/internal/query"
	"tickfeed/pkg/market"
	"tickfeed/pkg/storage/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func seed(t *testing.T) (*memory.Store, market.Instrument) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	btc, err := store.CreateInstrument(ctx, "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}

	bid1, ask1 := 100.0, 101.0
	bid2, ask2 := 99.0, 102.0
	bid3, ask3 := 100.5, 101.2
	steps := []struct {
		ex       market.Exchange
		bid, ask *float64
		ts       time.Time
	}{
		{market.ExchangeBinance, &bid1, &ask1, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)},
		{market.ExchangeCoinex, &bid2, &ask2, time.Date(2025, 3, 10, 10, 0, 1, 0, time.UTC)},
		{market.ExchangeBinance, &bid3, &ask3, time.Date(2025, 3, 10, 10, 0, 2, 0, time.UTC)},
	}
	for _, st := range steps {
		if _, err := store.IngestTick(ctx, btc.ID, st.ex, market.TickFields{BestBid: st.bid, BestAsk: st.ask}, st.ts); err != nil {
			t.Fatal(err)
		}
	}
	return store, btc
}

func TestHistoryDefaultsAndFilters(t *testing.T) {
	store, btc := seed(t)
	svc := query.NewService(store, store, nil, zap.NewNop())
	ctx := context.Background()

	ex := market.ExchangeBinance
	ticks, err := svc.History(ctx, query.HistoryRequest{
		InstrumentID: &btc.ID,
		Exchange:     &ex,
		Limit:        query.DefaultLimit,
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 BINANCE ticks, got %d", len(ticks))
	}
	if !ticks[0].ObservedAt.After(ticks[1].ObservedAt) {
		t.Error("history must be newest first")
	}
}

func TestHistoryRejectsBadPagination(t *testing.T) {
	store, btc := seed(t)
	svc := query.NewService(store, store, nil, zap.NewNop())

	_, err := svc.History(context.Background(), query.HistoryRequest{InstrumentID: &btc.ID, Limit: -1})
	if !errors.Is(err, market.ErrInvalidArgument) {
		t.Errorf("negative limit: expected ErrInvalidArgument, got %v", err)
	}

	_, err = svc.History(context.Background(), query.HistoryRequest{InstrumentID: &btc.ID, Limit: 10, Offset: -5})
	if !errors.Is(err, market.ErrInvalidArgument) {
		t.Errorf("negative offset: expected ErrInvalidArgument, got %v", err)
	}

	// limit=0 is a valid empty page, not an error
	ticks, err := svc.History(context.Background(), query.HistoryRequest{InstrumentID: &btc.ID, Limit: 0})
	if err != nil || len(ticks) != 0 {
		t.Errorf("limit=0: got %d ticks, err=%v", len(ticks), err)
	}
}

func TestHistoryUnknownExchange(t *testing.T) {
	store, btc := seed(t)
	svc := query.NewService(store, store, nil, zap.NewNop())

	bad := market.Exchange("KRAKEN")
	_, err := svc.History(context.Background(), query.HistoryRequest{InstrumentID: &btc.ID, Exchange: &bad, Limit: 10})
	if !errors.Is(err, market.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestLatestGroupedByExchange(t *testing.T) {
	store, btc := seed(t)
	svc := query.NewService(store, store, nil, zap.NewNop())

	snaps, err := svc.LatestGroupedByExchange(context.Background(), btc.ID)
	if err != nil {
		t.Fatalf("grouped: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(snaps))
	}
	// Ordered by observed_at DESC: BINANCE (10:00:02) then COINEX (10:00:01)
	if snaps[0].Exchange != market.ExchangeBinance || *snaps[0].BestBid != 100.5 {
		t.Errorf("unexpected head row: %+v", snaps[0])
	}
	if snaps[1].Exchange != market.ExchangeCoinex || *snaps[1].BestBid != 99 {
		t.Errorf("unexpected tail row: %+v", snaps[1])
	}

	_, err = svc.LatestGroupedByExchange(context.Background(), 12345)
	if !errors.Is(err, market.ErrNotFound) {
		t.Errorf("unknown instrument: expected ErrNotFound, got %v", err)
	}
}

func TestResolveInstrument(t *testing.T) {
	store, btc := seed(t)
	svc := query.NewService(store, store, nil, zap.NewNop())

	id, err := svc.ResolveInstrument(context.Background(), "BTCUSDT")
	if err != nil || id != btc.ID {
		t.Errorf("resolve = %d, %v", id, err)
	}

	_, err = svc.ResolveInstrument(context.Background(), "btcusdt")
	if !errors.Is(err, market.ErrNotFound) {
		t.Errorf("resolution must be case-sensitive, got %v", err)
	}
}

func TestLatestReadsThroughCache(t *testing.T) {
	store, btc := seed(t)
	mr := miniredis.RunT(t)
	snapCache := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	svc := query.NewService(store, store, snapCache, zap.NewNop())
	ctx := context.Background()

	ex := market.ExchangeBinance
	req := query.SnapshotRequest{InstrumentID: &btc.ID, Exchange: &ex}

	// First read misses and fills the cache from the store.
	first, err := svc.Latest(ctx, req)
	if err != nil || len(first) != 1 {
		t.Fatalf("first read: %v %v", first, err)
	}

	cached, err := snapCache.GetLatest(ctx, btc.ID, ex)
	if err != nil {
		t.Fatalf("cache should be filled after read: %v", err)
	}
	if cached.LastTickID != first[0].LastTickID {
		t.Errorf("cache holds %d, store returned %d", cached.LastTickID, first[0].LastTickID)
	}

	// Second read is served from cache and must agree.
	second, err := svc.Latest(ctx, req)
	if err != nil || len(second) != 1 || second[0].LastTickID != first[0].LastTickID {
		t.Errorf("cached read diverged: %+v err=%v", second, err)
	}
}

func TestLatestBroadFilterSkipsCache(t *testing.T) {
	store, btc := seed(t)
	mr := miniredis.RunT(t)
	snapCache := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	svc := query.NewService(store, store, snapCache, zap.NewNop())

	snaps, err := svc.Latest(context.Background(), query.SnapshotRequest{InstrumentID: &btc.ID})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("expected both exchanges, got %d", len(snaps))
	}
}
