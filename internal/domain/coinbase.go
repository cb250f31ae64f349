package domain

import "time"

// CoinbaseRawOperation is one statement row staged verbatim. Operation is
// the upper-cased transaction type label.
type CoinbaseRawOperation struct {
	ID        int64
	Timestamp time.Time
	Operation string
	Asset     string
	Quantity  float64
	SpotPrice float64
	Subtotal  float64
	Note      string
}

// CoinbaseFiatMovement is a fiat leg derived from a Buy or Sell row.
type CoinbaseFiatMovement struct {
	Timestamp time.Time
	Asset     string
	Amount    float64
	Direction Direction
}

// CoinbaseCryptoMovement is a signed crypto ledger entry. Amount is
// positive for inflows and negative for outflows.
type CoinbaseCryptoMovement struct {
	Timestamp time.Time
	Asset     string
	Amount    float64
	Direction Direction
}
