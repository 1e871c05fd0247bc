package interfaces

import "trade-maestro/internal/types"

// Strategy turns a window of recent quotes for one symbol into trade intents.
// Implementations own their indicator state and are not safe for concurrent
// use; the strategy manager serializes calls per instance.
type Strategy interface {
	ID() string
	Type() string
	// Lookback is the number of most recent quotes Evaluate wants to see.
	Lookback() int
	Evaluate(symbol string, window []types.Quote) []types.OrderIntent
}
