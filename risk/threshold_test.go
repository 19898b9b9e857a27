package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDollarThreshold(t *testing.T) {
	t.Parallel()

	th := Threshold{Kind: Dollar, Value: dec("-500")}
	tests := []struct {
		name        string
		pnl         string
		breached    bool
		approaching bool
	}{
		{"profit", "120.50", false, false},
		{"small loss", "-100", false, false},
		{"approaching band", "-400", false, true},
		{"just above", "-499.99", false, true},
		{"exactly at threshold", "-500", true, false},
		{"beyond threshold", "-550", true, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := th.Evaluate(dec(tt.pnl), dec("10000"))
			require.NoError(t, err)
			assert.Equal(t, tt.breached, d.Breached)
			assert.Equal(t, tt.approaching, d.Approaching)
		})
	}
}

func TestDollarThresholdIgnoresZeroBalance(t *testing.T) {
	th := Threshold{Kind: Dollar, Value: dec("-500")}
	d, err := th.Evaluate(dec("-600"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, d.Breached)
	assert.True(t, d.Ratio.IsZero())
}

func TestPercentThreshold(t *testing.T) {
	t.Parallel()

	th := Threshold{Kind: Percent, Value: dec("-0.05")}
	tests := []struct {
		name     string
		pnl      string
		balance  string
		breached bool
	}{
		{"flat", "0", "10000", false},
		{"four percent", "-400", "10000", false},
		{"exactly five percent", "-500", "10000", true},
		{"six percent", "-600", "10000", true},
		{"small account", "-60", "1000", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := th.Evaluate(dec(tt.pnl), dec(tt.balance))
			require.NoError(t, err)
			assert.Equal(t, tt.breached, d.Breached)
		})
	}
}

func TestPercentThresholdZeroBalanceNeverBreaches(t *testing.T) {
	th := Threshold{Kind: Percent, Value: dec("-0.05")}
	d, err := th.Evaluate(dec("-1000"), decimal.Zero)
	assert.ErrorIs(t, err, ErrZeroBalance)
	assert.False(t, d.Breached)
}

func TestBreachMatchesComparison(t *testing.T) {
	dollar := Threshold{Kind: Dollar, Value: dec("-250")}
	pct := Threshold{Kind: Percent, Value: dec("-0.02")}
	balance := dec("12500")

	for cents := int64(-60000); cents <= 10000; cents += 137 {
		pnl := decimal.New(cents, -2)

		d, err := dollar.Evaluate(pnl, balance)
		require.NoError(t, err)
		assert.Equal(t, pnl.LessThanOrEqual(dollar.Value), d.Breached, pnl.String())

		p, err := pct.Evaluate(pnl, balance)
		require.NoError(t, err)
		assert.Equal(t, pnl.Div(balance).LessThanOrEqual(pct.Value), p.Breached, pnl.String())
		assert.False(t, p.Breached && p.Approaching)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("percent")
	require.NoError(t, err)
	assert.Equal(t, Percent, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, Dollar, k)

	_, err = ParseKind("euros")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Threshold{Kind: Dollar, Value: dec("-500")}.Validate())
	assert.NoError(t, Threshold{Kind: Percent, Value: dec("-0.05")}.Validate())
	assert.Error(t, Threshold{Kind: Dollar, Value: dec("500")}.Validate())
	assert.Error(t, Threshold{Kind: Dollar, Value: decimal.Zero}.Validate())
	assert.Error(t, Threshold{Kind: Percent, Value: dec("-5")}.Validate())
	assert.Error(t, Threshold{Kind: "YEN", Value: dec("-5")}.Validate())
}

func TestStringAndLabel(t *testing.T) {
	assert.Equal(t, "$-500.00", Threshold{Kind: Dollar, Value: dec("-500")}.String())
	assert.Equal(t, "-5.00%", Threshold{Kind: Percent, Value: dec("-0.05")}.String())

	assert.Equal(t, "✅ Normal", Decision{}.Label())
	assert.Equal(t, "⚠️ APPROACHING THRESHOLD", Decision{Approaching: true}.Label())
	assert.Equal(t, "⚠️ THRESHOLD REACHED", Decision{Breached: true}.Label())
}
