package market

import (
	"fmt"
	"strings"
)

// Exchange identifies a supported trading venue. The set is closed;
// ticks carrying any other value are rejected at the boundary.
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeCoinex  Exchange = "COINEX"
)

// ExchangeMeta holds per-venue metadata used by feed adapters.
type ExchangeMeta struct {
	DisplayName string
	// Whether observed_at arrives in milliseconds on this venue's feed.
	MillisTimestamps bool
}

var validExchanges = map[Exchange]ExchangeMeta{
	ExchangeBinance: {DisplayName: "Binance Futures", MillisTimestamps: true},
	ExchangeCoinex:  {DisplayName: "CoinEx Futures", MillisTimestamps: true},
}

// exchangeOrder fixes iteration order for Exchanges().
var exchangeOrder = []Exchange{ExchangeBinance, ExchangeCoinex}

// IsValid checks if the Exchange is a member of the supported set.
func (e Exchange) IsValid() bool {
	_, ok := validExchanges[e]
	return ok
}

// Meta returns metadata for a valid Exchange.
func (e Exchange) Meta() ExchangeMeta {
	return validExchanges[e]
}

// Exchanges returns all supported exchanges in a stable order.
func Exchanges() []Exchange {
	out := make([]Exchange, len(exchangeOrder))
	copy(out, exchangeOrder)
	return out
}

// ParseExchange parses a string into a valid Exchange. Matching is
// case-insensitive since query parameters arrive in mixed case.
func ParseExchange(s string) (Exchange, error) {
	e := Exchange(strings.ToUpper(strings.TrimSpace(s)))
	if !e.IsValid() {
		return "", fmt.Errorf("%w: unknown exchange %q", ErrInvalidArgument, s)
	}
	return e, nil
}
