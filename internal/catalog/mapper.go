package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/instrument-provider/internal/flatten"
	"github.com/Checker-Finance/instrument-provider/internal/hashing"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

const (
	instrumentPrefix  = "instrument_"
	defaultAssetClass = "CRYPTO"
)

// ToInstrument maps a flattened catalog record. Fields of the instrument level
// become typed attributes; everything inherited from ancestors lands in Info.
func ToInstrument(venue string, rec flatten.Record, asOf time.Time) (model.Instrument, error) {
	symbol := stringField(rec, "instrument_symbol")
	if symbol == "" {
		return model.Instrument{}, model.InvalidArgumentf("record has no instrument_symbol")
	}

	priceInc, err := decimalField(rec, "instrument_price_increment")
	if err != nil {
		return model.Instrument{}, fmt.Errorf("%s: %w", symbol, err)
	}
	sizeInc, err := decimalField(rec, "instrument_size_increment")
	if err != nil {
		return model.Instrument{}, fmt.Errorf("%s: %w", symbol, err)
	}

	hash, err := hashing.Hash(rec)
	if err != nil {
		return model.Instrument{}, fmt.Errorf("%s: %w", symbol, err)
	}

	assetClass := strings.ToUpper(stringField(rec, "instrument_asset_class"))
	if assetClass == "" {
		assetClass = defaultAssetClass
	}

	info := make(map[string]any)
	for k, v := range rec {
		if !strings.HasPrefix(k, instrumentPrefix) {
			info[k] = v
		}
	}

	raw := stringField(rec, "instrument_raw_symbol")
	if raw == "" {
		raw = symbol
	}

	return model.Instrument{
		ID:             model.NewInstrumentID(symbol, venue),
		RawSymbol:      raw,
		AssetClass:     assetClass,
		BaseCurrency:   strings.ToUpper(stringField(rec, "instrument_base")),
		QuoteCurrency:  strings.ToUpper(stringField(rec, "instrument_quote")),
		PricePrecision: precision(priceInc),
		SizePrecision:  precision(sizeInc),
		PriceIncrement: priceInc,
		SizeIncrement:  sizeInc,
		Info:           info,
		Hash:           hash,
		AsOf:           asOf,
	}, nil
}

func stringField(rec flatten.Record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// decimalField accepts numbers or numeric strings. A missing field is zero.
func decimalField(rec flatten.Record, key string) (decimal.Decimal, error) {
	switch v := rec[key].(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		if v == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, model.InvalidArgumentf("%s %q is not a number", key, v)
		}
		return d, nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, model.InvalidArgumentf("%s %q is not a number", key, v)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Zero, model.InvalidArgumentf("%s has unsupported type %T", key, v)
	}
}

// precision is the number of decimals an increment carries, e.g. 0.001 -> 3.
func precision(d decimal.Decimal) int32 {
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}
