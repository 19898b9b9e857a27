package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/internal/token"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresh trades the refresh token for a new access token and saves the
// result. The refresh token is kept when the response omits it.
func (m *Manager) Refresh(ctx context.Context, c token.Credential) (token.Credential, error) {
	fresh, err := m.refresh(ctx, c)
	if err == nil {
		m.persist(fresh)
		return m.accept(fresh, "refresh"), nil
	}
	if !m.testMode {
		return token.Credential{}, err
	}
	m.log.Warn("TEST MODE refresh failed, using placeholder token", zap.Error(err))
	return m.accept(m.placeholder(c), "test-mode"), nil
}

func (m *Manager) refresh(ctx context.Context, c token.Credential) (token.Credential, error) {
	if c.RefreshToken == "" {
		return token.Credential{}, &AuthError{Kind: Unknown, Err: errors.New("no refresh token")}
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: c.RefreshToken, DeviceID: c.DeviceID})
	if err != nil {
		return token.Credential{}, &AuthError{Kind: Unknown, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL, bytes.NewReader(body))
	if err != nil {
		return token.Credential{}, &AuthError{Kind: Unknown, Err: err}
	}
	for k, v := range refreshHeaders(c) {
		req.Header.Set(k, v)
	}

	m.log.Info("requesting token refresh")
	resp, err := m.http.Do(req)
	if err != nil {
		return token.Credential{}, &AuthError{Kind: Network, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return token.Credential{}, &AuthError{Kind: Network, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return token.Credential{}, &AuthError{Kind: ExpiredRefreshToken, Status: resp.StatusCode,
			Err: fmt.Errorf("refresh rejected: %s", strings.TrimSpace(string(data)))}
	case resp.StatusCode != http.StatusOK:
		return token.Credential{}, &AuthError{Kind: Unknown, Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(data)))}
	}

	var rr refreshResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return token.Credential{}, &AuthError{Kind: Unknown, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if rr.AccessToken == "" {
		return token.Credential{}, &AuthError{Kind: Unknown, Status: resp.StatusCode, Err: errors.New("response missing accessToken")}
	}

	now := m.clock.Now()
	fresh := c.Clone()
	fresh.AccessToken = rr.AccessToken
	if rr.RefreshToken != "" {
		fresh.RefreshToken = rr.RefreshToken
	}
	fresh.Expiry = token.At(now.Add(token.Lifetime))
	fresh.LastUpdated = token.At(now)
	return fresh, nil
}
