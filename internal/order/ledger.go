package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one realized balance change, in close order.
type LedgerEntry struct {
	Seq     int             `json:"seq"`
	OrderID string          `json:"order_id"`
	PnL     decimal.Decimal `json:"pnl"`
	Balance decimal.Decimal `json:"balance"`
	At      time.Time       `json:"at"`
}

type ledger struct {
	initial decimal.Decimal
	balance decimal.Decimal
	entries []LedgerEntry
}

func newLedger(initial float64) ledger {
	d := decimal.NewFromFloat(initial)
	return ledger{initial: d, balance: d}
}

func (l *ledger) post(orderID string, pnl float64, at time.Time) LedgerEntry {
	l.balance = l.balance.Add(decimal.NewFromFloat(pnl))
	e := LedgerEntry{Seq: len(l.entries) + 1, OrderID: orderID, PnL: decimal.NewFromFloat(pnl), Balance: l.balance, At: at}
	l.entries = append(l.entries, e)
	return e
}

// balanceBefore is the balance from closes realized before t.
func (l *ledger) balanceBefore(t time.Time) decimal.Decimal {
	b := l.initial
	for _, e := range l.entries {
		if e.At.Before(t) {
			b = b.Add(e.PnL)
		}
	}
	return b
}

// replay rebuilds the balance from the initial deposit and every realized PnL.
func (l *ledger) replay() decimal.Decimal {
	b := l.initial
	for _, e := range l.entries {
		b = b.Add(e.PnL)
	}
	return b
}
