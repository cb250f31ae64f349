package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
	ErrUnsupportedExchange   = errors.New("unsupported exchange")
	ErrUnsupportedScope      = errors.New("unsupported price scope")
	ErrPriceUnavailable      = errors.New("price unavailable")
	ErrNegativeBalance       = errors.New("negative balance")
	ErrMalformedStatementRow = errors.New("malformed statement row")
	ErrAmbiguousAmount       = errors.New("ambiguous amount format")
	ErrZeroPortfolioValue    = errors.New("portfolio value is zero")
	ErrInvalidOperation      = errors.New("invalid operation")
	ErrCompactionMismatch    = errors.New("sales were generated with a different compaction setting")
)
