package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorAuthFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *APIError
		auth bool
	}{
		{"401", &APIError{StatusCode: 401}, true},
		{"403", &APIError{StatusCode: 403}, true},
		{"expired code on 200", &APIError{StatusCode: 200, Code: "auth.token.expire"}, true},
		{"server error", &APIError{StatusCode: 500, Message: "boom"}, false},
		{"rate limited", &APIError{StatusCode: 429}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.auth, tt.err.AuthFailure())
			wrapped := fmt.Errorf("poll: %w", tt.err)
			assert.Equal(t, tt.auth, errors.Is(wrapped, ErrAuthRejected))
		})
	}
}

func TestSequenceRepeatsLast(t *testing.T) {
	boom := errors.New("boom")
	s := NewSequence(
		Summary{PnL: decimal.NewFromInt(-100)},
		boom,
		Summary{PnL: decimal.NewFromInt(-300)},
	)
	ctx := context.Background()

	got, err := s.AccountSummary(ctx, Auth{})
	require.NoError(t, err)
	assert.Equal(t, "-100", got.PnL.String())

	_, err = s.AccountSummary(ctx, Auth{})
	assert.ErrorIs(t, err, boom)

	for i := 0; i < 3; i++ {
		got, err = s.AccountSummary(ctx, Auth{})
		require.NoError(t, err)
		assert.Equal(t, "-300", got.PnL.String())
	}
	assert.Equal(t, 5, s.Calls())
}
