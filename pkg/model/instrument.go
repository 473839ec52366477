package model

import (
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentID identifies a tradable instrument by symbol and venue, e.g. "AAPL.XNAS".
type InstrumentID struct {
	Symbol string
	Venue  string
}

// NewInstrumentID builds an id from its parts.
func NewInstrumentID(symbol, venue string) InstrumentID {
	return InstrumentID{Symbol: symbol, Venue: venue}
}

// ParseInstrumentID parses "SYMBOL.VENUE". The split happens on the last dot so
// symbols such as "BRK.B.XNYS" keep their own dots.
func ParseInstrumentID(s string) (InstrumentID, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return InstrumentID{}, InvalidArgumentf("malformed instrument id %q", s)
	}
	return InstrumentID{Symbol: s[:idx], Venue: s[idx+1:]}, nil
}

// IsZero reports whether either component is missing.
func (id InstrumentID) IsZero() bool {
	return id.Symbol == "" || id.Venue == ""
}

func (id InstrumentID) String() string {
	return id.Symbol + "." + id.Venue
}

// MarshalText renders the id in its string form so it can be used as a JSON map key.
func (id InstrumentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the string form.
func (id *InstrumentID) UnmarshalText(b []byte) error {
	parsed, err := ParseInstrumentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Instrument is a normalized venue instrument definition.
type Instrument struct {
	ID             InstrumentID    `json:"id"`
	RawSymbol      string          `json:"raw_symbol"`      // venue-native symbol, e.g. "1.2345678"
	AssetClass     string          `json:"asset_class"`     // e.g. "CRYPTO", "EQUITY"
	BaseCurrency   string          `json:"base_currency"`   // e.g. "BTC"
	QuoteCurrency  string          `json:"quote_currency"`  // e.g. "USDT"
	PricePrecision int32           `json:"price_precision"` // decimals of PriceIncrement
	SizePrecision  int32           `json:"size_precision"`  // decimals of SizeIncrement
	PriceIncrement decimal.Decimal `json:"price_increment"` // tick size
	SizeIncrement  decimal.Decimal `json:"size_increment"`  // lot size
	Info           map[string]any  `json:"info,omitempty"`  // remaining venue fields
	Hash           string          `json:"hash,omitempty"`  // content hash of the venue record
	AsOf           time.Time       `json:"as_of"`           // last update
}

// Clone returns a copy of i that shares no mutable state with it.
func (i Instrument) Clone() Instrument {
	i.Info = maps.Clone(i.Info)
	return i
}
