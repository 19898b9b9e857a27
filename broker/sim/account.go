// Package sim is a simulated futures account used in test mode.
package sim

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/broker"
)

var (
	DefaultBalance = decimal.NewFromInt(10000)

	basePnL   = decimal.NewFromInt(-300)
	dipPnL    = decimal.NewFromInt(-400)
	breachPnL = decimal.NewFromInt(-550)
)

// breachCycle is the poll on which the default wave dips below -500.
const breachCycle = 20

// Account answers AccountSummary from local state. With neither Fixed nor
// Script set it produces a wave between -300 and -400 with one -550 dip.
type Account struct {
	mu sync.Mutex

	Balance decimal.Decimal
	Fixed   *decimal.Decimal
	// Script is replayed in order; the last value repeats.
	Script []decimal.Decimal

	// Primary, when set, is tried first and the simulation only answers
	// when it fails.
	Primary broker.AccountSource

	log   *zap.Logger
	calls int
}

func NewAccount(log *zap.Logger) *Account {
	return &Account{Balance: DefaultBalance, log: log.Named("sim")}
}

func (a *Account) WithFixed(pnl decimal.Decimal) *Account {
	a.Fixed = &pnl
	return a
}

func (a *Account) WithScript(pnl ...decimal.Decimal) *Account {
	a.Script = pnl
	return a
}

func (a *Account) WithPrimary(src broker.AccountSource) *Account {
	a.Primary = src
	return a
}

func (a *Account) AccountSummary(ctx context.Context, auth broker.Auth) (broker.Summary, error) {
	if a.Primary != nil {
		s, err := a.Primary.AccountSummary(ctx, auth)
		if err == nil {
			return s, nil
		}
		a.log.Warn("account API failed, falling back to simulation", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return broker.Summary{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++

	pnl := a.next()
	a.log.Info("TEST MODE simulated account",
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("balance", a.Balance.StringFixed(2)),
		zap.Int("call", a.calls))
	return broker.Summary{
		PnL:           pnl,
		Balance:       a.Balance,
		BalanceSource: "simulated",
		RiskStatus:    "SIMULATED",
	}, nil
}

func (a *Account) next() decimal.Decimal {
	switch {
	case a.Fixed != nil:
		return *a.Fixed
	case len(a.Script) > 0:
		i := a.calls - 1
		if i >= len(a.Script) {
			i = len(a.Script) - 1
		}
		return a.Script[i]
	case a.calls == breachCycle:
		return breachPnL
	case a.calls%15 >= 10:
		return dipPnL
	}
	return basePnL
}

// Calls is the number of simulated answers given so far.
func (a *Account) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
