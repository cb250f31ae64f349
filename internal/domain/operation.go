package domain

import (
	"fmt"
	"time"
)

// Exchange tags carried on every canonical operation row.
const (
	ExchangeEtoro    = "ETORO"
	ExchangeCoinbase = "COINBASE"
)

// Direction tells whether a ledger movement grows or shrinks a holding.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Operation is the exchange-independent shape shared by purchases and sales.
// Fiat values are kept in both accounting currencies: native (USD) and
// secondary (the tax currency, EUR by default).
type Operation struct {
	ID                 int64
	Timestamp          time.Time
	Asset              string
	Amount             float64
	FiatNative         float64
	FiatSecondary      float64
	UnitPriceNative    float64
	UnitPriceSecondary float64
	Exchange           string
}

// Validate checks the invariants every stored operation must hold.
func (o Operation) Validate() error {
	switch {
	case o.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidOperation)
	case o.Asset == "":
		return fmt.Errorf("%w: missing asset", ErrInvalidOperation)
	case o.Exchange == "":
		return fmt.Errorf("%w: missing exchange tag", ErrInvalidOperation)
	case o.Amount < 0:
		return fmt.Errorf("%w: negative amount %v for %s", ErrInvalidOperation, o.Amount, o.Asset)
	case o.FiatNative < 0 || o.FiatSecondary < 0:
		return fmt.Errorf("%w: negative fiat value for %s", ErrInvalidOperation, o.Asset)
	case o.UnitPriceNative < 0 || o.UnitPriceSecondary < 0:
		return fmt.Errorf("%w: negative unit price for %s", ErrInvalidOperation, o.Asset)
	}
	return nil
}

// PurchaseOperation is one acquisition of an asset. FiatSecondary is the
// total cost in the tax currency.
type PurchaseOperation struct {
	Operation
}

// SaleOperation is one disposal of an asset. Amount is always a positive
// magnitude and FiatSecondary holds the proceeds in the tax currency.
// Compacted records whether the sale was generated with same-minute closes
// merged.
type SaleOperation struct {
	Operation
	Compacted bool
}
