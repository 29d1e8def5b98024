// Package registry manages the instrument catalogue: creation, rename,
// and soft-disable. Instruments referenced by ticks are never deleted.
package registry

import (
	"context"
	"fmt"
	"strings"

	"tickfeed/pkg/market"

	"go.uber.org/zap"
)

type Service struct {
	store  market.InstrumentStore
	logger *zap.Logger
}

func NewService(store market.InstrumentStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) Create(ctx context.Context, name string) (market.Instrument, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return market.Instrument{}, fmt.Errorf("%w: instrument name is required", market.ErrInvalidArgument)
	}

	inst, err := s.store.CreateInstrument(ctx, name)
	if err != nil {
		return market.Instrument{}, err
	}

	s.logger.Info("instrument created",
		zap.Int64("id", inst.ID),
		zap.String("name", inst.Name))
	return inst, nil
}

func (s *Service) Rename(ctx context.Context, id int64, name string) (market.Instrument, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return market.Instrument{}, fmt.Errorf("%w: instrument name is required", market.ErrInvalidArgument)
	}

	inst, err := s.store.RenameInstrument(ctx, id, name)
	if err != nil {
		return market.Instrument{}, err
	}

	s.logger.Info("instrument renamed",
		zap.Int64("id", id),
		zap.String("name", name))
	return inst, nil
}

// SetFlags updates the trading/collecting flags. Clearing Collecting is
// the soft-disable: feeds stop delivering for the instrument, but it
// stays resolvable and its history stays queryable.
func (s *Service) SetFlags(ctx context.Context, id int64, trading, collecting *bool) (market.Instrument, error) {
	inst, err := s.store.SetInstrumentFlags(ctx, id, trading, collecting)
	if err != nil {
		return market.Instrument{}, err
	}

	s.logger.Info("instrument flags updated",
		zap.Int64("id", id),
		zap.Bool("trading", inst.Trading),
		zap.Bool("collecting", inst.Collecting))
	return inst, nil
}

func (s *Service) Get(ctx context.Context, id int64) (market.Instrument, error) {
	return s.store.InstrumentByID(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, name string) (market.Instrument, error) {
	return s.store.InstrumentByName(ctx, name)
}

func (s *Service) List(ctx context.Context) ([]market.Instrument, error) {
	return s.store.ListInstruments(ctx)
}
