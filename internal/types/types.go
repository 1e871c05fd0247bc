package types

import (
	"fmt"
	"strings"
	"time"
)

// Quote is a bid/ask snapshot for a symbol. Bid is never above Ask.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

type TimeRange struct {
	From time.Time
	To   time.Time
}

type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// EntrySide returns the quote price an order in direction d opens at.
func (d Direction) EntrySide(q Quote) float64 {
	if d == Short {
		return q.Bid
	}
	return q.Ask
}

// ExitSide returns the quote price an order in direction d is marked and closed at.
func (d Direction) ExitSide(q Quote) float64 {
	if d == Short {
		return q.Ask
	}
	return q.Bid
}

type Account struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	MarginUsed float64 `json:"margin_used"`
	Currency   string  `json:"currency"`

	// DayStartBalance is the realized balance when the current trading day began.
	DayStartBalance float64 `json:"day_start_balance"`
}

// OrderIntent is a strategy's proposed trade before admission.
type OrderIntent struct {
	Symbol        string        `json:"symbol"`
	Direction     Direction     `json:"direction"`
	RequestedSize float64       `json:"requested_size"`
	StopLoss      float64       `json:"stop_loss"`
	TakeProfit    float64       `json:"take_profit"`
	StrategyID    string        `json:"strategy_id"`
	Reason        string        `json:"reason,omitempty"`
	Confidence    float64       `json:"confidence,omitempty"`
	MaxDuration   time.Duration `json:"max_duration,omitempty"`
}

type OrderState int

const (
	Pending OrderState = iota
	Open
	Closed
	Cancelled
)

func (s OrderState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s OrderState) IsTerminal() bool {
	return s == Closed || s == Cancelled
}

func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderState) UnmarshalText(b []byte) error {
	for _, st := range []OrderState{Pending, Open, Closed, Cancelled} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown order state %q", b)
}

type CloseReason string

const (
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTakeProfit  CloseReason = "take_profit"
	CloseManual      CloseReason = "manual"
	CloseExpired     CloseReason = "expired"
	CloseDeactivated CloseReason = "deactivated"
)

type Order struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	Direction   Direction    `json:"direction"`
	Size        float64      `json:"size"`
	EntryPrice  float64      `json:"entry_price"`
	StopLoss    float64      `json:"stop_loss"`
	TakeProfit  float64      `json:"take_profit"`
	State       OrderState   `json:"state"`
	OpenedAt    time.Time    `json:"opened_at"`
	ClosedAt    time.Time    `json:"closed_at,omitempty"`
	ExitPrice   float64      `json:"exit_price,omitempty"`
	RealizedPnL float64      `json:"realized_pnl"`
	StrategyID  string       `json:"strategy_id"`
	CloseReason CloseReason  `json:"close_reason,omitempty"`
	Intent      OrderIntent  `json:"intent"`
	History     []OrderState `json:"history"`
}

// UnrealizedPnL marks the order against q. Zero for orders that are not open.
func (o Order) UnrealizedPnL(q Quote) float64 {
	if o.State != Open {
		return 0
	}
	return (o.Direction.ExitSide(q) - o.EntryPrice) * o.Size * o.Direction.Sign()
}

func (o Order) Notional() float64 {
	return o.Size * o.EntryPrice
}

// Clone returns a copy that shares no mutable memory with o.
func (o Order) Clone() Order {
	c := o
	c.History = append([]OrderState(nil), o.History...)
	return c
}

type PerformanceRecord struct {
	OrderID    string        `json:"order_id"`
	Symbol     string        `json:"symbol"`
	StrategyID string        `json:"strategy_id"`
	PnL        float64       `json:"pnl"`
	Duration   time.Duration `json:"duration"`
	ClosedAt   time.Time     `json:"closed_at"`
}

type StrategyConfig struct {
	ID         string             `json:"id" yaml:"id"`
	Type       string             `json:"type" yaml:"type"`
	Symbols    []string           `json:"symbols,omitempty" yaml:"symbols"`
	Parameters map[string]float64 `json:"parameters,omitempty" yaml:"parameters"`
	Enabled    bool               `json:"enabled" yaml:"enabled"`
}

// Param returns the named parameter or def when it is unset.
func (c StrategyConfig) Param(name string, def float64) float64 {
	if v, ok := c.Parameters[name]; ok {
		return v
	}
	return def
}

type Metrics struct {
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	AvgPnL         float64 `json:"avg_pnl"`
	TotalPnL       float64 `json:"total_pnl"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	ProfitFactor   float64 `json:"profit_factor"`
	Sharpe         float64 `json:"sharpe"`
}

type FeedState string

const (
	FeedConnected    FeedState = "connected"
	FeedDisconnected FeedState = "disconnected"
)

type FeedHealth struct {
	Feed      string    `json:"feed"`
	State     FeedState `json:"state"`
	LastQuote time.Time `json:"last_quote,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Health struct {
	State     FeedState  `json:"state"`
	Attempts  int        `json:"attempts"`
	Terminal  bool       `json:"terminal"`
	LastError string     `json:"last_error,omitempty"`
	Feed      FeedHealth `json:"feed"`
}

// StepResult summarises one tick of the engine.
type StepResult struct {
	Time     time.Time        `json:"time"`
	Quotes   map[string]Quote `json:"quotes"`
	Intents  []OrderIntent    `json:"intents"`
	Opened   []Order          `json:"opened"`
	Rejected []RejectedIntent `json:"rejected,omitempty"`
	Closed   []Order          `json:"closed"`
}

type RejectedIntent struct {
	Intent OrderIntent `json:"intent"`
	Reason string      `json:"reason"`
}

// Snapshot is the immutable view published after every tick.
type Snapshot struct {
	Time        time.Time          `json:"time"`
	Account     Account            `json:"account"`
	OpenOrders  []Order            `json:"open_orders"`
	Metrics     Metrics            `json:"metrics"`
	PerStrategy map[string]Metrics `json:"per_strategy"`
	Health      Health             `json:"health"`
}
