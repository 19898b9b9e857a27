package webull

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/killswitch/broker"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestAccountSummary_Success(t *testing.T) {
	c := serve(t, 200, `{
		"capital": {
			"unrealizedProfitLoss": "-123.45",
			"netLiquidationValue": 25000.5,
			"totalCashValue": "24000",
			"futureBuyingPower": 1000
		},
		"riskStatus": "NORMAL"
	}`, func(r *http.Request) {
		assert.Equal(t, SummaryPath, r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("secAccountId"))
		assert.Equal(t, "tok", r.Header.Get("access_token"))
		assert.Equal(t, "dev", r.Header.Get("did"))
	})

	s, err := c.AccountSummary(context.Background(), broker.Auth{
		AccountID: "42",
		Headers:   map[string]string{"access_token": "tok", "did": "dev"},
	})
	require.NoError(t, err)
	assert.Equal(t, "-123.45", s.PnL.String())
	assert.Equal(t, "24000", s.Balance.String())
	assert.Equal(t, "totalCashValue", s.BalanceSource)
	assert.Equal(t, "NORMAL", s.RiskStatus)
}

func TestAccountSummary_BalancePreference(t *testing.T) {
	tests := []struct {
		name    string
		capital string
		balance string
		source  string
	}{
		{"net liquidation", `"netLiquidationValue": 900, "futureBuyingPower": 100`, "900", "netLiquidationValue"},
		{"buying power only", `"futureBuyingPower": "100.25"`, "100.25", "futureBuyingPower"},
		{"null cash skipped", `"totalCashValue": null, "futureBuyingPower": 7`, "7", "futureBuyingPower"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serve(t, 200, `{"capital":{"unrealizedProfitLoss":0,`+tt.capital+`}}`, nil)
			s, err := c.AccountSummary(context.Background(), broker.Auth{AccountID: "1"})
			require.NoError(t, err)
			assert.Equal(t, tt.balance, s.Balance.String())
			assert.Equal(t, tt.source, s.BalanceSource)
		})
	}
}

func TestAccountSummary_MissingFields(t *testing.T) {
	tests := map[string]string{
		"no capital": `{"riskStatus":"NORMAL"}`,
		"no pnl":     `{"capital":{"totalCashValue":100}}`,
		"no balance": `{"capital":{"unrealizedProfitLoss":-5}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			c := serve(t, 200, body, nil)
			_, err := c.AccountSummary(context.Background(), broker.Auth{AccountID: "1"})
			assert.ErrorIs(t, err, broker.ErrMissingField)
			assert.False(t, IsAuthRejected(err))
		})
	}
}

func TestAccountSummary_AuthRejected(t *testing.T) {
	tests := map[string]struct {
		status int
		body   string
	}{
		"403":               {403, `{"code":"403","msg":"forbidden"}`},
		"401 html":          {401, `<html>nope</html>`},
		"expired code body": {200, `{"code":"auth.token.expire","msg":"token expired","success":false}`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := serve(t, tt.status, tt.body, nil)
			_, err := c.AccountSummary(context.Background(), broker.Auth{AccountID: "1"})
			require.Error(t, err)
			assert.True(t, IsAuthRejected(err))
		})
	}
}

func TestAccountSummary_ServerError(t *testing.T) {
	c := serve(t, 502, `bad gateway`, nil)
	_, err := c.AccountSummary(context.Background(), broker.Auth{AccountID: "1"})
	var apiErr *broker.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 502, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
	assert.False(t, IsAuthRejected(err))
}

func TestAccountSummary_RequiresAccountID(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.AccountSummary(context.Background(), broker.Auth{})
	assert.ErrorIs(t, err, broker.ErrMissingField)
}

func TestAccountSummary_BadNumber(t *testing.T) {
	c := serve(t, 200, `{"capital":{"unrealizedProfitLoss":"n/a","totalCashValue":1}}`, nil)
	_, err := c.AccountSummary(context.Background(), broker.Auth{AccountID: "1"})
	assert.Error(t, err)
}
