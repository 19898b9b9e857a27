package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	Dollar  Kind = "DOLLAR"
	Percent Kind = "PERCENT"
)

// ErrZeroBalance is returned for a PERCENT threshold when the account
// balance is zero; the ratio is undefined and the sample must be treated
// as a failed fetch, never as a breach.
var ErrZeroBalance = errors.New("risk: zero balance, percent threshold undefined")

// ApproachFraction of the threshold marks the "approaching" band.
var ApproachFraction = decimal.RequireFromString("0.8")

var hundred = decimal.NewFromInt(100)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case Dollar, "":
		return Dollar, nil
	case Percent, "PCT", "%":
		return Percent, nil
	}
	return "", fmt.Errorf("unknown threshold kind %q (want DOLLAR|PERCENT)", s)
}

// Threshold is a loss limit. For Dollar the value is an amount in account
// currency (-500); for Percent it is a ratio of balance (-0.05 is -5%).
type Threshold struct {
	Kind  Kind
	Value decimal.Decimal
}

func (t Threshold) Validate() error {
	switch t.Kind {
	case Dollar, Percent:
	default:
		return fmt.Errorf("unknown threshold kind %q", t.Kind)
	}
	if !t.Value.IsNegative() {
		return fmt.Errorf("threshold %s must be negative", t)
	}
	if t.Kind == Percent && t.Value.LessThan(decimal.NewFromInt(-1)) {
		return fmt.Errorf("percent threshold %s is below -100%%", t)
	}
	return nil
}

func (t Threshold) String() string {
	if t.Kind == Percent {
		return t.Value.Mul(hundred).StringFixed(2) + "%"
	}
	return "$" + t.Value.StringFixed(2)
}

type Decision struct {
	PnL     decimal.Decimal
	Balance decimal.Decimal
	// Ratio is PnL/Balance; zero when the balance is zero.
	Ratio decimal.Decimal

	Breached    bool
	Approaching bool
}

// Evaluate applies the threshold to one account sample. A Dollar breach is
// pnl <= value, a Percent breach is pnl/balance <= value.
func (t Threshold) Evaluate(pnl, balance decimal.Decimal) (Decision, error) {
	d := Decision{PnL: pnl, Balance: balance}
	if !balance.IsZero() {
		d.Ratio = pnl.Div(balance)
	}

	metric := pnl
	if t.Kind == Percent {
		if balance.IsZero() {
			return d, ErrZeroBalance
		}
		metric = d.Ratio
	}

	d.Breached = metric.LessThanOrEqual(t.Value)
	if !d.Breached && t.Value.IsNegative() {
		d.Approaching = metric.LessThanOrEqual(t.Value.Mul(ApproachFraction))
	}
	return d, nil
}

// PercentOfBalance is the P/L as a percentage, for display.
func (d Decision) PercentOfBalance() decimal.Decimal {
	return d.Ratio.Mul(hundred)
}

func (d Decision) Label() string {
	switch {
	case d.Breached:
		return "⚠️ THRESHOLD REACHED"
	case d.Approaching:
		return "⚠️ APPROACHING THRESHOLD"
	}
	return "✅ Normal"
}
