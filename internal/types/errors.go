package types

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnknownStrategyType = errors.New("unknown strategy type")

// ConnectionError is returned by live feeds when the platform cannot be reached.
type ConnectionError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ConnectionError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Err == nil {
		return fmt.Sprintf("connection error during %s (%s)", e.Op, kind)
	}
	return fmt.Sprintf("connection error during %s (%s): %v", e.Op, kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError classifies err. Deadlines and cancellations are retryable.
func NewConnectionError(op string, err error, retryable bool) *ConnectionError {
	if errors.Is(err, context.DeadlineExceeded) {
		retryable = true
	}
	return &ConnectionError{Op: op, Retryable: retryable, Err: err}
}

type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func UnknownSymbol(symbol string) *NotFoundError {
	return &NotFoundError{Kind: "symbol", Key: symbol}
}

type RiskRule string

const (
	RuleMaxOrders   RiskRule = "max-orders"
	RuleMaxExposure RiskRule = "max-exposure"
	RuleSizingZero  RiskRule = "sizing-zero"
	RuleStopSanity  RiskRule = "stop-sanity"
	RuleDailyLoss   RiskRule = "daily-loss"
)

type RiskRejection struct {
	Rule   RiskRule
	Reason string
}

func (e *RiskRejection) Error() string {
	return fmt.Sprintf("risk rejection (%s): %s", e.Rule, e.Reason)
}

type InvalidStateError struct {
	OrderID string
	State   OrderState
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s order %s: order is %s", e.Op, e.OrderID, e.State)
}

// IsRetryable reports whether err is a ConnectionError worth retrying.
func IsRetryable(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RejectionRule extracts the failed rule from err, if it is a RiskRejection.
func RejectionRule(err error) (RiskRule, bool) {
	var rr *RiskRejection
	if errors.As(err, &rr) {
		return rr.Rule, true
	}
	return "", false
}
