// Package memory provides an in-process implementation of the market
// store ports with the same latest-wins semantics as the Postgres
// backend. It backs the tests and the dependency-free run mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tickfeed/pkg/market"
)

var (
	_ market.TickStore       = (*Store)(nil)
	_ market.InstrumentStore = (*Store)(nil)
)

type pairKey struct {
	instrumentID int64
	exchange     market.Exchange
}

type pairState struct {
	mu          sync.Mutex
	ticks       []market.Tick
	snapshot    market.Snapshot
	hasSnapshot bool
}

type Store struct {
	globalMu sync.RWMutex
	pairs    map[pairKey]*pairState

	instMu      sync.Mutex
	instruments map[int64]market.Instrument
	byName      map[string]int64

	nextTickID       int64
	nextTickMu       sync.Mutex
	nextInstrumentID int64
}

func NewStore() *Store {
	return &Store{
		pairs:       make(map[pairKey]*pairState),
		instruments: make(map[int64]market.Instrument),
		byName:      make(map[string]int64),
	}
}

// pair returns the state for a key, creating it on first use.
// Fast path takes only the read lock.
func (s *Store) pair(k pairKey) *pairState {
	s.globalMu.RLock()
	st, ok := s.pairs[k]
	s.globalMu.RUnlock()

	if !ok {
		s.globalMu.Lock()
		if st, ok = s.pairs[k]; !ok {
			st = &pairState{}
			s.pairs[k] = st
		}
		s.globalMu.Unlock()
	}
	return st
}

// IngestTick appends the tick and applies the latest-wins rule under
// the pair's lock, so writers for the same pair are serialized while
// writers for different pairs proceed independently.
func (s *Store) IngestTick(ctx context.Context, instrumentID int64, exchange market.Exchange, fields market.TickFields, observedAt time.Time) (market.IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return market.IngestResult{}, err
	}

	st := s.pair(pairKey{instrumentID: instrumentID, exchange: exchange})

	st.mu.Lock()
	defer st.mu.Unlock()

	s.nextTickMu.Lock()
	s.nextTickID++
	id := s.nextTickID
	s.nextTickMu.Unlock()

	now := time.Now().UTC()
	tick := market.Tick{
		ID:           id,
		InstrumentID: instrumentID,
		Exchange:     exchange,
		ObservedAt:   observedAt,
		TickFields:   fields,
		IngestedAt:   now,
	}
	st.ticks = append(st.ticks, tick)

	applied := !st.hasSnapshot || st.snapshot.Before(observedAt, id)
	if applied {
		st.snapshot = market.Snapshot{
			InstrumentID: instrumentID,
			Exchange:     exchange,
			ObservedAt:   observedAt,
			TickFields:   fields,
			LastTickID:   id,
			UpdatedAt:    now,
		}
		st.hasSnapshot = true
	}

	return market.IngestResult{TickID: id, Applied: applied}, nil
}

func (s *Store) History(ctx context.Context, f market.HistoryFilter) ([]market.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		return []market.Tick{}, nil
	}

	var all []market.Tick
	s.globalMu.RLock()
	for k, st := range s.pairs {
		if f.InstrumentID != nil && k.instrumentID != *f.InstrumentID {
			continue
		}
		if f.Exchange != nil && k.exchange != *f.Exchange {
			continue
		}
		st.mu.Lock()
		all = append(all, st.ticks...)
		st.mu.Unlock()
	}
	s.globalMu.RUnlock()

	// Sort key (observed_at DESC, id DESC) restores the total order
	// regardless of arrival interleaving.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].ObservedAt.Equal(all[j].ObservedAt) {
			return all[i].ObservedAt.After(all[j].ObservedAt)
		}
		return all[i].ID > all[j].ID
	})

	if f.Offset >= len(all) {
		return []market.Tick{}, nil
	}
	end := f.Offset + f.Limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]market.Tick, end-f.Offset)
	copy(page, all[f.Offset:end])
	return page, nil
}

func (s *Store) Latest(ctx context.Context, f market.SnapshotFilter) ([]market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snaps []market.Snapshot
	s.globalMu.RLock()
	for k, st := range s.pairs {
		if f.InstrumentID != nil && k.instrumentID != *f.InstrumentID {
			continue
		}
		if f.Exchange != nil && k.exchange != *f.Exchange {
			continue
		}
		st.mu.Lock()
		if st.hasSnapshot {
			snaps = append(snaps, st.snapshot)
		}
		st.mu.Unlock()
	}
	s.globalMu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].InstrumentID != snaps[j].InstrumentID {
			return snaps[i].InstrumentID < snaps[j].InstrumentID
		}
		return snaps[i].Exchange < snaps[j].Exchange
	})
	return snaps, nil
}

func (s *Store) LatestByInstrument(ctx context.Context, instrumentID int64) ([]market.Snapshot, error) {
	snaps, err := s.Latest(ctx, market.SnapshotFilter{InstrumentID: &instrumentID})
	if err != nil {
		return nil, err
	}

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].ObservedAt.Equal(snaps[j].ObservedAt) {
			return snaps[i].ObservedAt.After(snaps[j].ObservedAt)
		}
		return snaps[i].LastTickID > snaps[j].LastTickID
	})
	return snaps, nil
}

// DeleteTicksBefore prunes history older than the cutoff. Snapshots are
// kept even when the tick that produced them is pruned.
func (s *Store) DeleteTicksBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var removed int64
	s.globalMu.RLock()
	for _, st := range s.pairs {
		st.mu.Lock()
		kept := st.ticks[:0]
		for _, t := range st.ticks {
			if t.ObservedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		st.ticks = kept
		st.mu.Unlock()
	}
	s.globalMu.RUnlock()
	return removed, nil
}

func (s *Store) CreateInstrument(ctx context.Context, name string) (market.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return market.Instrument{}, err
	}

	s.instMu.Lock()
	defer s.instMu.Unlock()

	if _, taken := s.byName[name]; taken {
		return market.Instrument{}, fmt.Errorf("%w: instrument %q already exists", market.ErrConflict, name)
	}

	s.nextInstrumentID++
	now := time.Now().UTC()
	inst := market.Instrument{
		ID:         s.nextInstrumentID,
		Name:       name,
		Collecting: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.instruments[inst.ID] = inst
	s.byName[name] = inst.ID
	return inst, nil
}

func (s *Store) RenameInstrument(ctx context.Context, id int64, name string) (market.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return market.Instrument{}, err
	}

	s.instMu.Lock()
	defer s.instMu.Unlock()

	inst, ok := s.instruments[id]
	if !ok {
		return market.Instrument{}, market.ErrNotFound
	}
	if owner, taken := s.byName[name]; taken && owner != id {
		return market.Instrument{}, fmt.Errorf("%w: instrument %q already exists", market.ErrConflict, name)
	}

	delete(s.byName, inst.Name)
	inst.Name = name
	inst.UpdatedAt = time.Now().UTC()
	s.instruments[id] = inst
	s.byName[name] = id
	return inst, nil
}

func (s *Store) SetInstrumentFlags(ctx context.Context, id int64, trading, collecting *bool) (market.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return market.Instrument{}, err
	}

	s.instMu.Lock()
	defer s.instMu.Unlock()

	inst, ok := s.instruments[id]
	if !ok {
		return market.Instrument{}, market.ErrNotFound
	}
	if trading != nil {
		inst.Trading = *trading
	}
	if collecting != nil {
		inst.Collecting = *collecting
	}
	inst.UpdatedAt = time.Now().UTC()
	s.instruments[id] = inst
	return inst, nil
}

func (s *Store) InstrumentByID(ctx context.Context, id int64) (market.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return market.Instrument{}, err
	}

	s.instMu.Lock()
	defer s.instMu.Unlock()

	inst, ok := s.instruments[id]
	if !ok {
		return market.Instrument{}, market.ErrNotFound
	}
	return inst, nil
}

func (s *Store) InstrumentByName(ctx context.Context, name string) (market.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return market.Instrument{}, err
	}

	s.instMu.Lock()
	defer s.instMu.Unlock()

	id, ok := s.byName[name]
	if !ok {
		return market.Instrument{}, market.ErrNotFound
	}
	return s.instruments[id], nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]market.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.instMu.Lock()
	defer s.instMu.Unlock()

	out := make([]market.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
