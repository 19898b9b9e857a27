package auth

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/killswitch/internal/token"
)

func TestHeadersDefaultSet(t *testing.T) {
	f := newFixture(t, Options{})
	h := f.m.Headers(token.Credential{AccessToken: "tok", DeviceID: "dev"})

	assert.Equal(t, "tok", h["access_token"])
	assert.Equal(t, "dev", h["did"])
	assert.Equal(t, "wb_web_us", h["appid"])
	assert.Equal(t, "dc_core_r002", h["lzone"])
	assert.NotContains(t, h, "t_time")
}

func TestHeadersReuseCapturedSet(t *testing.T) {
	f := newFixture(t, Options{})
	c := token.Credential{
		AccessToken: "fresh",
		DeviceID:    "dev-2",
		ExtraHeaders: map[string]string{
			"access_token": "stale",
			"did":          "old-dev",
			"t_time":       "1",
			"x-custom":     "keep",
		},
	}

	h := f.m.Headers(c)
	assert.Equal(t, "fresh", h["access_token"])
	assert.Equal(t, "dev-2", h["did"])
	assert.Equal(t, strconv.FormatInt(t0.UnixMilli(), 10), h["t_time"])
	assert.Equal(t, "keep", h["x-custom"])
	assert.NotContains(t, h, "appid")

	// the credential's own map is untouched
	assert.Equal(t, "stale", c.ExtraHeaders["access_token"])
}

func TestRefreshHeadersCopyOnlyKnownKeys(t *testing.T) {
	h := refreshHeaders(token.Credential{ExtraHeaders: map[string]string{
		"appid":        "wb_web_us",
		"access_token": "secret",
	}})
	assert.Equal(t, "application/json", h["Content-Type"])
	assert.Equal(t, "wb_web_us", h["appid"])
	assert.NotContains(t, h, "access_token")
}
