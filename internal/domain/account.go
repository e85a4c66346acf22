package domain

import "time"

// AccountSnapshot is a point-in-time copy of the portfolio account: total
// configured capital, what is currently free to allocate, and cumulative
// realized PnL. A snapshot is persisted after every settling transition so a
// restart can restore the ledger exactly.
type AccountSnapshot struct {
	TotalCapital     float64
	AvailableCapital float64
	RealizedPnLTotal float64
	TakenAt          time.Time
}
