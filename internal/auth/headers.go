package auth

import (
	"strconv"

	"github.com/rustyeddy/killswitch/internal/token"
)

var defaultHeaders = map[string]string{
	"accept":          "*/*",
	"accept-language": "en-US,en;q=0.9",
	"app":             "global",
	"app-group":       "broker",
	"appid":           "wb_web_us",
	"device-type":     "Web",
	"hl":              "en",
	"lzone":           "dc_core_r002",
	"origin":          "https://www.webull.com",
	"os":              "web",
	"osv":             "i9zh",
	"platform":        "web",
	"referer":         "https://www.webull.com/center",
	"user-agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36",
	"ver":             "1.0.0",
}

// refreshHeaderKeys are copied from captured headers onto the refresh call.
var refreshHeaderKeys = []string{
	"accept", "accept-language", "app", "app-group", "appid",
	"device-type", "did", "hl", "lzone", "origin", "os",
	"osv", "platform", "referer", "user-agent", "ver",
}

// Headers builds the account API header set. Captured headers are reused
// verbatim except for the request time, device id and access token.
func (m *Manager) Headers(c token.Credential) map[string]string {
	var h map[string]string
	if len(c.ExtraHeaders) > 0 {
		h = make(map[string]string, len(c.ExtraHeaders)+3)
		for k, v := range c.ExtraHeaders {
			h[k] = v
		}
		h["t_time"] = strconv.FormatInt(m.clock.Now().UnixMilli(), 10)
	} else {
		h = make(map[string]string, len(defaultHeaders)+2)
		for k, v := range defaultHeaders {
			h[k] = v
		}
	}
	if c.DeviceID != "" {
		h["did"] = c.DeviceID
	}
	h["access_token"] = c.AccessToken
	return h
}

func refreshHeaders(c token.Credential) map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	for _, k := range refreshHeaderKeys {
		if v, ok := c.ExtraHeaders[k]; ok {
			h[k] = v
		}
	}
	return h
}
