package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Disposal is one row of a tax report. Every amount is rounded to two
// decimal places with banker's rounding.
type Disposal struct {
	ID                       int64
	ReportID                 int64
	DisposalTime             time.Time
	PortfolioValue           decimal.Decimal
	DisposalPrice            decimal.Decimal
	TotalPurchase            decimal.Decimal
	PreviousDisposedPurchase decimal.Decimal
	BalancedPurchase         decimal.Decimal
	ProfitAndLoss            decimal.Decimal
}

// TaxReport groups the disposals computed for one tax window.
type TaxReport struct {
	ID        int64
	CreatedAt time.Time
	Begin     time.Time
	End       time.Time
	Compacted bool
	GlobalPnL decimal.Decimal
	Disposals []Disposal
}
