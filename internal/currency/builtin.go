package currency

import "github.com/Checker-Finance/instrument-provider/pkg/model"

var builtin = []model.Currency{
	{Code: "USD", Precision: 2, ISO4217: 840, Name: "United States dollar", Type: model.CurrencyFiat},
	{Code: "EUR", Precision: 2, ISO4217: 978, Name: "Euro", Type: model.CurrencyFiat},
	{Code: "GBP", Precision: 2, ISO4217: 826, Name: "British pound", Type: model.CurrencyFiat},
	{Code: "JPY", Precision: 0, ISO4217: 392, Name: "Japanese yen", Type: model.CurrencyFiat},
	{Code: "CHF", Precision: 2, ISO4217: 756, Name: "Swiss franc", Type: model.CurrencyFiat},
	{Code: "AUD", Precision: 2, ISO4217: 36, Name: "Australian dollar", Type: model.CurrencyFiat},
	{Code: "CAD", Precision: 2, ISO4217: 124, Name: "Canadian dollar", Type: model.CurrencyFiat},
	{Code: "BRL", Precision: 2, ISO4217: 986, Name: "Brazilian real", Type: model.CurrencyFiat},
	{Code: "MXN", Precision: 2, ISO4217: 484, Name: "Mexican peso", Type: model.CurrencyFiat},
	{Code: "COP", Precision: 2, ISO4217: 170, Name: "Colombian peso", Type: model.CurrencyFiat},
	{Code: "BTC", Precision: 8, Name: "Bitcoin", Type: model.CurrencyCrypto},
	{Code: "ETH", Precision: 8, Name: "Ether", Type: model.CurrencyCrypto},
	{Code: "SOL", Precision: 8, Name: "Solana", Type: model.CurrencyCrypto},
	{Code: "USDT", Precision: 8, Name: "Tether", Type: model.CurrencyCrypto},
	{Code: "USDC", Precision: 8, Name: "USD Coin", Type: model.CurrencyCrypto},
}
