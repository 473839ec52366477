package model

// CurrencyType classifies a currency.
type CurrencyType string

const (
	CurrencyFiat   CurrencyType = "FIAT"
	CurrencyCrypto CurrencyType = "CRYPTO"
)

// Currency is a currency definition keyed by its code.
type Currency struct {
	Code      string       `json:"code"`      // e.g. "USD"
	Precision int32        `json:"precision"` // minor unit decimals
	ISO4217   int          `json:"iso4217"`   // 0 for non-ISO currencies
	Name      string       `json:"name"`
	Type      CurrencyType `json:"type"`
}
