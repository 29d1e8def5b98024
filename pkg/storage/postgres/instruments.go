package postgres

import (
	"context"

	"tickfeed/pkg/market"
)

func (c *Client) CreateInstrument(ctx context.Context, name string) (market.Instrument, error) {
	rec := &InstrumentRecord{Name: name, Collecting: true}
	if err := c.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return market.Instrument{}, translateError(err)
	}
	return rec.toInstrument(), nil
}

func (c *Client) RenameInstrument(ctx context.Context, id int64, name string) (market.Instrument, error) {
	var rec InstrumentRecord
	if err := c.DB.WithContext(ctx).First(&rec, id).Error; err != nil {
		return market.Instrument{}, translateError(err)
	}

	if err := c.DB.WithContext(ctx).Model(&rec).Update("name", name).Error; err != nil {
		return market.Instrument{}, translateError(err)
	}
	return rec.toInstrument(), nil
}

func (c *Client) SetInstrumentFlags(ctx context.Context, id int64, trading, collecting *bool) (market.Instrument, error) {
	var rec InstrumentRecord
	if err := c.DB.WithContext(ctx).First(&rec, id).Error; err != nil {
		return market.Instrument{}, translateError(err)
	}

	updates := map[string]interface{}{}
	if trading != nil {
		updates["trading"] = *trading
	}
	if collecting != nil {
		updates["collecting"] = *collecting
	}
	if len(updates) > 0 {
		if err := c.DB.WithContext(ctx).Model(&rec).Updates(updates).Error; err != nil {
			return market.Instrument{}, translateError(err)
		}
	}
	return rec.toInstrument(), nil
}

func (c *Client) InstrumentByID(ctx context.Context, id int64) (market.Instrument, error) {
	var rec InstrumentRecord
	if err := c.DB.WithContext(ctx).First(&rec, id).Error; err != nil {
		return market.Instrument{}, translateError(err)
	}
	return rec.toInstrument(), nil
}

// InstrumentByName does an exact, case-sensitive lookup.
func (c *Client) InstrumentByName(ctx context.Context, name string) (market.Instrument, error) {
	var rec InstrumentRecord
	if err := c.DB.WithContext(ctx).Where("name = ?", name).First(&rec).Error; err != nil {
		return market.Instrument{}, translateError(err)
	}
	return rec.toInstrument(), nil
}

func (c *Client) ListInstruments(ctx context.Context) ([]market.Instrument, error) {
	var recs []InstrumentRecord
	if err := c.DB.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, translateError(err)
	}

	out := make([]market.Instrument, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toInstrument())
	}
	return out, nil
}
