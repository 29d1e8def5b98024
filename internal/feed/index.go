package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Index caches the collecting instruments by name so adapters can map
// an exchange symbol to an instrument id without a registry round trip
// per tick. Refresh replaces the whole snapshot.
type Index struct {
	registry instrumentLister
	logger   *zap.Logger

	mu     sync.RWMutex
	byName map[string]int64
	names  []string
}

func NewIndex(registry instrumentLister, logger *zap.Logger) *Index {
	return &Index{
		registry: registry,
		logger:   logger,
		byName:   map[string]int64{},
	}
}

// Refresh reloads the instrument list. Disabled instruments are
// dropped from the index so adapters stop collecting them.
func (ix *Index) Refresh(ctx context.Context) error {
	instruments, err := ix.registry.List(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]int64, len(instruments))
	names := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if !inst.Collecting {
			continue
		}
		byName[inst.Name] = inst.ID
		names = append(names, inst.Name)
	}

	ix.mu.Lock()
	ix.byName = byName
	ix.names = names
	ix.mu.Unlock()

	ix.logger.Info("instrument index refreshed", zap.Int("count", len(names)))
	return nil
}

// StartRefresher refreshes once immediately and then on the given
// interval until ctx is cancelled.
func (ix *Index) StartRefresher(ctx context.Context, interval time.Duration) {
	go func() {
		if err := ix.Refresh(ctx); err != nil {
			ix.logger.Error("initial instrument refresh failed", zap.Error(err))
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ix.Refresh(ctx); err != nil {
					ix.logger.Warn("instrument refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Lookup returns the instrument id for an exchange symbol.
func (ix *Index) Lookup(name string) (int64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byName[name]
	return id, ok
}

// Names returns the symbols currently being collected.
func (ix *Index) Names() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, len(ix.names))
	copy(out, ix.names)
	return out
}
