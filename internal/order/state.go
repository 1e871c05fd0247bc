package order

import "trade-maestro/internal/types"

// allowed lists the legal successors of each state. Terminal states have none.
var allowed = map[types.OrderState][]types.OrderState{
	types.Pending: {types.Open, types.Cancelled},
	types.Open:    {types.Closed},
}

func canTransition(from, to types.OrderState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves o to the next state and appends it to the history. The
// order is left untouched when the move is illegal.
func transition(o *types.Order, to types.OrderState, op string) error {
	if !canTransition(o.State, to) {
		return &types.InvalidStateError{OrderID: o.ID, State: o.State, Op: op}
	}
	o.State = to
	o.History = append(o.History, to)
	return nil
}
