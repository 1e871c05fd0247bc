// Package order owns the order lifecycle and the account it settles into.
//
// Every mutation of orders, balance and ledger happens under one mutex.
// Price feed calls are made before the lock is taken and close listeners
// run after it is released, so neither can stall other callers.
package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/risk"
	"trade-maestro/internal/types"
)

// Admitter sizes an intent or rejects it.
type Admitter interface {
	Admit(intent types.OrderIntent, entry float64, account types.Account, open []types.Order) (float64, error)
}

type CloseListener func(ctx context.Context, o types.Order)

type Config struct {
	InitialBalance float64
	Currency       string
	// Leverage divides notional into margin used. Values below 1 mean 1.
	Leverage float64
	// TrailingPct trails stops this fraction of price behind the market. Zero disables trailing.
	TrailingPct float64
	// Location decides where trading days start. Nil means UTC.
	Location *time.Location
}

// Result is the outcome of one intent in a batch submission.
type Result struct {
	Intent types.OrderIntent
	Order  types.Order
	Err    error
}

type Manager struct {
	cfg   Config
	feed  interfaces.PriceFeed
	admit Admitter

	mu        sync.Mutex
	orders    map[string]*types.Order
	seq       []string
	marks     map[string]types.Quote
	ledger    ledger
	listeners []CloseListener

	newID func() string
}

func New(cfg Config, feed interfaces.PriceFeed, admitter Admitter) *Manager {
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Manager{
		cfg:    cfg,
		feed:   feed,
		admit:  admitter,
		orders: make(map[string]*types.Order),
		marks:  make(map[string]types.Quote),
		ledger: newLedger(cfg.InitialBalance),
		newID:  uuid.NewString,
	}
}

// OnClose registers fn to receive every order that reaches Closed.
func (m *Manager) OnClose(fn CloseListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Submit admits a single intent at the feed's current price.
func (m *Manager) Submit(ctx context.Context, intent types.OrderIntent) (types.Order, error) {
	q, err := m.feed.Quote(ctx, intent.Symbol)
	if err != nil {
		return types.Order{}, fmt.Errorf("quote %s for admission: %w", intent.Symbol, err)
	}

	m.mu.Lock()
	m.markLocked(q)
	o, err := m.admitLocked(intent, q, m.accountLocked(), m.openLocked())
	m.mu.Unlock()

	m.logAdmission(ctx, intent, o, err)
	return o, err
}

// SubmitBatch admits intents against one account snapshot and the given
// quotes. Orders opened earlier in the batch count toward later admissions.
func (m *Manager) SubmitBatch(ctx context.Context, intents []types.OrderIntent, quotes map[string]types.Quote) []Result {
	if len(intents) == 0 {
		return nil
	}
	results := make([]Result, 0, len(intents))

	m.mu.Lock()
	for _, q := range quotes {
		m.markLocked(q)
	}
	account := m.accountLocked()
	open := m.openLocked()
	for _, intent := range intents {
		q, ok := quotes[intent.Symbol]
		if !ok {
			results = append(results, Result{Intent: intent, Err: types.UnknownSymbol(intent.Symbol)})
			continue
		}
		o, err := m.admitLocked(intent, q, account, open)
		if err == nil {
			open = append(open, o)
		}
		results = append(results, Result{Intent: intent, Order: o, Err: err})
	}
	m.mu.Unlock()

	for _, r := range results {
		m.logAdmission(ctx, r.Intent, r.Order, r.Err)
	}
	return results
}

func (m *Manager) admitLocked(intent types.OrderIntent, q types.Quote, account types.Account, open []types.Order) (types.Order, error) {
	entry := intent.Direction.EntrySide(q)
	size, err := m.admit.Admit(intent, entry, account, open)
	if err != nil {
		return types.Order{}, err
	}

	o := &types.Order{
		ID:         m.newID(),
		Symbol:     intent.Symbol,
		Direction:  intent.Direction,
		Size:       size,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		State:      types.Pending,
		StrategyID: intent.StrategyID,
		Intent:     intent,
		History:    []types.OrderState{types.Pending},
	}
	o.EntryPrice = entry
	o.OpenedAt = q.Time
	if err := transition(o, types.Open, "open"); err != nil {
		return types.Order{}, err
	}
	m.orders[o.ID] = o
	m.seq = append(m.seq, o.ID)
	return o.Clone(), nil
}

// Tick closes every open order whose stop-loss, take-profit or maximum
// duration was reached at quotes, then trails the stops of the survivors.
func (m *Manager) Tick(ctx context.Context, quotes map[string]types.Quote) []types.Order {
	var closed []types.Order

	m.mu.Lock()
	for _, q := range quotes {
		m.markLocked(q)
	}
	for _, id := range m.seq {
		o := m.orders[id]
		if o.State != types.Open {
			continue
		}
		q, ok := quotes[o.Symbol]
		if !ok {
			continue
		}
		if reason, price, hit := breach(o, q); hit {
			closed = append(closed, m.closeLocked(o, reason, price, q.Time))
			continue
		}
		if expired(o, q.Time) {
			closed = append(closed, m.closeLocked(o, types.CloseExpired, o.Direction.ExitSide(q), q.Time))
			continue
		}
		if stop, moved := trail(o, q, m.cfg.TrailingPct); moved {
			logger.Debug(ctx, "Trailing stop updated", "order_id", o.ID, "symbol", o.Symbol, "old_stop", o.StopLoss, "new_stop", stop)
			o.StopLoss = stop
		}
	}
	listeners := m.listeners
	m.mu.Unlock()

	m.dispatch(ctx, listeners, closed)
	return closed
}

// Close exits an open order at the feed's current price.
func (m *Manager) Close(ctx context.Context, id string, reason types.CloseReason) (types.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return types.Order{}, &types.NotFoundError{Kind: "order", Key: id}
	}
	symbol, state := o.Symbol, o.State
	m.mu.Unlock()

	if state != types.Open {
		return types.Order{}, &types.InvalidStateError{OrderID: id, State: state, Op: "close"}
	}
	q, err := m.feed.Quote(ctx, symbol)
	if err != nil {
		return types.Order{}, fmt.Errorf("quote %s for close: %w", symbol, err)
	}
	return m.CloseAt(ctx, id, reason, q)
}

// CloseAt exits an open order at q. It fails with InvalidStateError, and
// changes nothing, if the order is no longer open.
func (m *Manager) CloseAt(ctx context.Context, id string, reason types.CloseReason, q types.Quote) (types.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return types.Order{}, &types.NotFoundError{Kind: "order", Key: id}
	}
	if o.State != types.Open {
		state := o.State
		m.mu.Unlock()
		return types.Order{}, &types.InvalidStateError{OrderID: id, State: state, Op: "close"}
	}
	if q.Symbol != o.Symbol {
		m.mu.Unlock()
		return types.Order{}, fmt.Errorf("quote for %s cannot close %s order %s", q.Symbol, o.Symbol, id)
	}
	m.markLocked(q)
	c := m.closeLocked(o, reason, o.Direction.ExitSide(q), q.Time)
	listeners := m.listeners
	m.mu.Unlock()

	m.dispatch(ctx, listeners, []types.Order{c})
	return c, nil
}

// CloseByStrategy closes every open order of strategyID. Orders whose
// quote cannot be fetched stay open and are reported in the error.
func (m *Manager) CloseByStrategy(ctx context.Context, strategyID string, reason types.CloseReason) ([]types.Order, error) {
	var ids []string
	m.mu.Lock()
	for _, id := range m.seq {
		if o := m.orders[id]; o.State == types.Open && o.StrategyID == strategyID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var closed []types.Order
	var firstErr error
	for _, id := range ids {
		o, err := m.Close(ctx, id, reason)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed = append(closed, o)
	}
	return closed, firstErr
}

// Cancel withdraws an order that is still pending admission.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return &types.NotFoundError{Kind: "order", Key: id}
	}
	if err := transition(o, types.Cancelled, "cancel"); err != nil {
		return err
	}
	o.ClosedAt = time.Now()
	return nil
}

// Modify moves the protective levels of an open order.
func (m *Manager) Modify(id string, stopLoss, takeProfit float64) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return types.Order{}, &types.NotFoundError{Kind: "order", Key: id}
	}
	if o.State != types.Open {
		return types.Order{}, &types.InvalidStateError{OrderID: id, State: o.State, Op: "modify"}
	}
	ref := o.EntryPrice
	if q, ok := m.marks[o.Symbol]; ok {
		ref = o.Direction.ExitSide(q)
	}
	if !risk.StopsSane(o.Direction, ref, stopLoss, takeProfit) {
		return types.Order{}, &types.RiskRejection{
			Rule:   types.RuleStopSanity,
			Reason: fmt.Sprintf("stop %.5f and take-profit %.5f must bracket %.5f for a %s order", stopLoss, takeProfit, ref, o.Direction),
		}
	}
	o.StopLoss, o.TakeProfit = stopLoss, takeProfit
	return o.Clone(), nil
}

func (m *Manager) closeLocked(o *types.Order, reason types.CloseReason, price float64, at time.Time) types.Order {
	// Callers guarantee o is open, so the transition cannot fail.
	_ = transition(o, types.Closed, "close")
	o.ExitPrice = price
	o.RealizedPnL = (price - o.EntryPrice) * o.Size * o.Direction.Sign()
	o.ClosedAt = at
	o.CloseReason = reason
	m.ledger.post(o.ID, o.RealizedPnL, at)
	return o.Clone()
}

func (m *Manager) dispatch(ctx context.Context, listeners []CloseListener, closed []types.Order) {
	for _, o := range closed {
		logger.Trade(ctx, "closed", o.ID, o.Symbol, o.Direction.String(), o.Size, o.ExitPrice,
			"strategy_id", o.StrategyID,
			"reason", string(o.CloseReason),
			"realized_pnl", o.RealizedPnL,
		)
		for _, fn := range listeners {
			fn(ctx, o)
		}
	}
}

func (m *Manager) logAdmission(ctx context.Context, intent types.OrderIntent, o types.Order, err error) {
	if err != nil {
		rule := "admission"
		if r, ok := types.RejectionRule(err); ok {
			rule = string(r)
		}
		logger.Risk(ctx, intent.Symbol, rule, "strategy_id", intent.StrategyID, "reason", err.Error())
		return
	}
	logger.Trade(ctx, "opened", o.ID, o.Symbol, o.Direction.String(), o.Size, o.EntryPrice,
		"strategy_id", o.StrategyID,
		"stop_loss", o.StopLoss,
		"take_profit", o.TakeProfit,
	)
}

func (m *Manager) markLocked(q types.Quote) {
	if prev, ok := m.marks[q.Symbol]; ok && q.Time.Before(prev.Time) {
		return
	}
	m.marks[q.Symbol] = q
}

func (m *Manager) openLocked() []types.Order {
	var out []types.Order
	for _, id := range m.seq {
		if o := m.orders[id]; o.State == types.Open {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (m *Manager) accountLocked() types.Account {
	balance := m.ledger.balance.InexactFloat64()
	acct := types.Account{Balance: balance, Equity: balance, Currency: m.cfg.Currency}
	acct.DayStartBalance = m.dayStartLocked().InexactFloat64()
	for _, id := range m.seq {
		o := m.orders[id]
		if o.State != types.Open {
			continue
		}
		if q, ok := m.marks[o.Symbol]; ok {
			acct.Equity += o.UnrealizedPnL(q)
		}
		acct.MarginUsed += o.Notional() / m.cfg.Leverage
	}
	return acct
}

// dayStartLocked is the balance at midnight of the latest marked quote's day.
func (m *Manager) dayStartLocked() decimal.Decimal {
	var latest time.Time
	for _, q := range m.marks {
		if q.Time.After(latest) {
			latest = q.Time
		}
	}
	if latest.IsZero() {
		return m.ledger.initial
	}
	t := latest.In(m.cfg.Location)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, m.cfg.Location)
	return m.ledger.balanceBefore(midnight)
}

func (m *Manager) Account() types.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountLocked()
}

func (m *Manager) Get(id string) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return types.Order{}, &types.NotFoundError{Kind: "order", Key: id}
	}
	return o.Clone(), nil
}

// Orders lists every order in admission order.
func (m *Manager) Orders() []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Order, 0, len(m.seq))
	for _, id := range m.seq {
		out = append(out, m.orders[id].Clone())
	}
	return out
}

func (m *Manager) OpenOrders() []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked()
}

func (m *Manager) Ledger() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LedgerEntry(nil), m.ledger.entries...)
}

// ReplayBalance rebuilds the balance from the initial deposit and the
// realized PnL of every close, in close order.
func (m *Manager) ReplayBalance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.replay()
}

// Balance is the exact ledger balance.
func (m *Manager) Balance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.balance
}
