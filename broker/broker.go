package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAuthRejected means the account API refused the credential.
	ErrAuthRejected = errors.New("broker: authentication rejected")
	// ErrMissingField means a response lacked a value the monitor needs.
	ErrMissingField = errors.New("broker: missing field")
)

// Auth carries what an account request needs from the auth layer.
type Auth struct {
	AccountID string
	Headers   map[string]string
}

type AccountSource interface {
	AccountSummary(ctx context.Context, auth Auth) (Summary, error)
}

type Summary struct {
	PnL     decimal.Decimal
	Balance decimal.Decimal
	// BalanceSource names the response field the balance came from.
	BalanceSource string
	RiskStatus    string
}

// APIError is a non-success response from a broker endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker http %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker http %d: %s", e.StatusCode, e.Message)
}

// AuthFailure reports whether the response rejected the credential.
func (e *APIError) AuthFailure() bool {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return true
	}
	return isAuthCode(e.Code)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAuthRejected && e.AuthFailure()
}

var authCodes = map[string]bool{
	"auth.token.expire":  true,
	"auth.token.invalid": true,
	"403":                true,
	"401":                true,
	"user.not.login":     true,
	"unauthorized":       true,
}

func isAuthCode(code string) bool {
	return authCodes[code]
}

// Sequence returns a source that replays fixed results in order and then
// repeats the last one. Entries are either a Summary or an error.
type Sequence struct {
	results []any
	calls   int
}

func NewSequence(results ...any) *Sequence {
	return &Sequence{results: results}
}

func (s *Sequence) AccountSummary(ctx context.Context, _ Auth) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if len(s.results) == 0 {
		return Summary{}, fmt.Errorf("%w: empty sequence", ErrMissingField)
	}
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	switch r := s.results[i].(type) {
	case Summary:
		return r, nil
	case error:
		return Summary{}, r
	}
	return Summary{}, fmt.Errorf("sequence entry %d has unsupported type %T", i, s.results[i])
}

func (s *Sequence) Calls() int { return s.calls }
