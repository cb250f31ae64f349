package coinbase

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// kind is how a transaction type affects the staged ledgers.
type kind int

const (
	kindIgnore kind = iota
	kindBuy
	kindSell
	kindInflow
	kindOutflow
	kindConvert
)

// transactionKinds is keyed by the upper-cased transaction type.
var transactionKinds = map[string]kind{
	"BUY":             kindBuy,
	"SELL":            kindSell,
	"RECEIVE":         kindInflow,
	"COINBASE EARN":   kindInflow,
	"REWARDS INCOME":  kindInflow,
	"LEARNING REWARD": kindInflow,
	"STAKING INCOME":  kindInflow,
	"SEND":            kindOutflow,
	"FEE":             kindOutflow,
	"CONVERT":         kindConvert,
	"DEPOSIT":         kindIgnore,
	"WITHDRAWAL":      kindIgnore,
}

func classify(operation string) (kind, error) {
	k, ok := transactionKinds[strings.ToUpper(strings.TrimSpace(operation))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown transaction type %q", domain.ErrMalformedStatementRow, operation)
	}
	return k, nil
}

// derive expands one raw row into fiat legs and signed crypto movements.
func derive(op domain.CoinbaseRawOperation) ([]domain.CoinbaseFiatMovement, []domain.CoinbaseCryptoMovement, error) {
	k, err := classify(op.Operation)
	if err != nil {
		return nil, nil, err
	}
	quantity := math.Abs(op.Quantity)

	crypto := func(asset string, amount float64, dir domain.Direction) domain.CoinbaseCryptoMovement {
		return domain.CoinbaseCryptoMovement{Timestamp: op.Timestamp, Asset: asset, Amount: amount, Direction: dir}
	}

	switch k {
	case kindBuy, kindSell:
		currency, err := noteCurrency(op.Note)
		if err != nil {
			return nil, nil, err
		}
		dir, sign := domain.DirectionBuy, 1.0
		if k == kindSell {
			dir, sign = domain.DirectionSell, -1.0
		}
		fiat := domain.CoinbaseFiatMovement{Timestamp: op.Timestamp, Asset: currency, Amount: math.Abs(op.Subtotal), Direction: dir}
		return []domain.CoinbaseFiatMovement{fiat}, []domain.CoinbaseCryptoMovement{crypto(op.Asset, sign*quantity, dir)}, nil
	case kindInflow:
		return nil, []domain.CoinbaseCryptoMovement{crypto(op.Asset, quantity, domain.DirectionBuy)}, nil
	case kindOutflow:
		return nil, []domain.CoinbaseCryptoMovement{crypto(op.Asset, -quantity, domain.DirectionSell)}, nil
	case kindConvert:
		amount, coin, err := parseConvertNote(op.Note)
		if err != nil {
			return nil, nil, err
		}
		return nil, []domain.CoinbaseCryptoMovement{
			crypto(op.Asset, -quantity, domain.DirectionSell),
			crypto(coin, amount, domain.DirectionBuy),
		}, nil
	}
	return nil, nil, nil
}

// noteCurrency returns the fiat code ending a Buy or Sell note, as in
// "Bought 0.01 BTC for 100.00 EUR".
func noteCurrency(note string) (string, error) {
	tokens := strings.Fields(note)
	if len(tokens) == 0 {
		return "", fmt.Errorf("%w: empty note", domain.ErrMalformedStatementRow)
	}
	currency := tokens[len(tokens)-1]
	if !isCode(currency) {
		return "", fmt.Errorf("%w: bad currency %q in note %q", domain.ErrMalformedStatementRow, currency, note)
	}
	return currency, nil
}

// parseConvertNote reads the received amount and coin from the last two
// tokens of a Convert note, as in "Converted 1 ETH to 0,0345 BTC".
func parseConvertNote(note string) (float64, string, error) {
	tokens := strings.Fields(note)
	if len(tokens) < 2 {
		return 0, "", fmt.Errorf("%w: convert note %q", domain.ErrMalformedStatementRow, note)
	}
	rawAmount, coin := tokens[len(tokens)-2], tokens[len(tokens)-1]
	if !isCode(coin) {
		return 0, "", fmt.Errorf("%w: bad coin %q in convert note %q", domain.ErrMalformedStatementRow, coin, note)
	}
	if strings.Contains(rawAmount, ",") && strings.Contains(rawAmount, ".") {
		return 0, "", fmt.Errorf("%w: %w: %q in convert note", domain.ErrMalformedStatementRow, domain.ErrAmbiguousAmount, rawAmount)
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(rawAmount, ",", "."), 64)
	if err != nil || amount < 0 {
		return 0, "", fmt.Errorf("%w: bad amount %q in convert note %q", domain.ErrMalformedStatementRow, rawAmount, note)
	}
	return amount, coin, nil
}

func isCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
