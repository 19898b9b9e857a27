// Package webull reads the futures account summary from the Webull
// trading API.
package webull

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/killswitch/broker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "https://ustrade.webullfinance.com"
	SummaryPath    = "/api/trading/v1/webull/asset/future/summary"

	maxBody = 1 << 20
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// number accepts a JSON number, a numeric string or null.
type number struct {
	value decimal.Decimal
	set   bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	n.value, n.set = d, true
	return nil
}

type capital struct {
	UnrealizedProfitLoss number `json:"unrealizedProfitLoss"`
	TotalCashValue       number `json:"totalCashValue"`
	NetLiquidationValue  number `json:"netLiquidationValue"`
	FutureBuyingPower    number `json:"futureBuyingPower"`
}

type summaryResponse struct {
	Capital    *capital            `json:"capital"`
	RiskStatus jsoniter.RawMessage `json:"riskStatus"`

	// error envelope
	Code jsoniter.RawMessage `json:"code"`
	Msg  string              `json:"msg"`
}

func (c *Client) AccountSummary(ctx context.Context, auth broker.Auth) (broker.Summary, error) {
	if auth.AccountID == "" {
		return broker.Summary{}, fmt.Errorf("%w: account id", broker.ErrMissingField)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return broker.Summary{}, err
	}
	u.Path = SummaryPath
	q := u.Query()
	q.Set("secAccountId", auth.AccountID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return broker.Summary{}, err
	}
	for k, v := range auth.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return broker.Summary{}, fmt.Errorf("webull summary: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return broker.Summary{}, fmt.Errorf("webull summary read: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &broker.APIError{StatusCode: resp.StatusCode, Message: snippet(body)}
		var env summaryResponse
		if json.Unmarshal(body, &env) == nil {
			apiErr.Code = rawString(env.Code)
			if env.Msg != "" {
				apiErr.Message = env.Msg
			}
		}
		return broker.Summary{}, apiErr
	}

	var sr summaryResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return broker.Summary{}, fmt.Errorf("webull summary decode: %w", err)
	}
	return parseSummary(sr, resp.StatusCode, body)
}

func parseSummary(sr summaryResponse, status int, body []byte) (broker.Summary, error) {
	if sr.Capital == nil {
		if code := rawString(sr.Code); code != "" {
			return broker.Summary{}, &broker.APIError{StatusCode: status, Code: code, Message: sr.Msg}
		}
		return broker.Summary{}, fmt.Errorf("%w: capital (%s)", broker.ErrMissingField, snippet(body))
	}
	c := sr.Capital
	if !c.UnrealizedProfitLoss.set {
		return broker.Summary{}, fmt.Errorf("%w: unrealizedProfitLoss", broker.ErrMissingField)
	}

	s := broker.Summary{
		PnL:        c.UnrealizedProfitLoss.value,
		RiskStatus: rawString(sr.RiskStatus),
	}
	switch {
	case c.TotalCashValue.set:
		s.Balance, s.BalanceSource = c.TotalCashValue.value, "totalCashValue"
	case c.NetLiquidationValue.set:
		s.Balance, s.BalanceSource = c.NetLiquidationValue.value, "netLiquidationValue"
	case c.FutureBuyingPower.set:
		s.Balance, s.BalanceSource = c.FutureBuyingPower.value, "futureBuyingPower"
	default:
		return broker.Summary{}, fmt.Errorf("%w: no balance field", broker.ErrMissingField)
	}
	return s, nil
}

func rawString(raw jsoniter.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	out := strings.TrimSpace(string(raw))
	if out == "null" {
		return ""
	}
	return out
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// IsAuthRejected is a convenience for callers that only hold an error.
func IsAuthRejected(err error) bool {
	return errors.Is(err, broker.ErrAuthRejected)
}
