package ledger

import (
	"time"

	"threebar/internal/model"
)

// Position is the open side of a trade. At most one exists at a time.
// TakeProfit and StopLoss are set by the strategy that opened it.
type Position struct {
	EntryTime      time.Time  `json:"entry_time"`
	EntryPrice     float64    `json:"entry_price"`
	Side           model.Side `json:"side"`
	CapitalAtEntry float64    `json:"capital_at_entry"`
	TakeProfit     float64    `json:"take_profit"`
	StopLoss       float64    `json:"stop_loss"`
}
