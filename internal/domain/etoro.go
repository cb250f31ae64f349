package domain

import "time"

// EtoroOpenPosition is a staged "Open Position" row of an eToro statement.
// Units and OpenRate stay zero until the position is consolidated.
type EtoroOpenPosition struct {
	PositionID   string
	OpenedAt     time.Time
	Asset        string
	Invested     float64
	Units        float64
	OpenRate     float64
	Consolidated bool
}

// EtoroClosePosition is a staged row of the "Closed Positions" sheet.
type EtoroClosePosition struct {
	PositionID string
	ClosedAt   time.Time
	Asset      string
	Invested   float64
	Units      float64
	OpenRate   float64
	CloseRate  float64
	Profit     float64
}
