package token

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrNoAccessToken is returned when pasted capture data has no recognizable
// access token.
var ErrNoAccessToken = errors.New("token: capture contains no access token")

var (
	curlHeaderRe   = regexp.MustCompile(`(?:-H|--header)\s+['"]([^:'"]+):\s*([^'"]*)['"]`)
	secAccountIDRe = regexp.MustCompile(`secAccountId=(\d+)`)
)

// ParseCapture builds a credential from data copied out of a logged-in
// browser session: a JSON object, a "Copy as cURL" command, or raw
// "name: value" header lines. Captured headers are kept verbatim (lower-cased
// names) so later requests look like the browser's.
func ParseCapture(text string, now time.Time) (Credential, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Credential{}, ErrNoAccessToken
	}

	var (
		fields  map[string]string
		headers map[string]string
		err     error
	)
	switch {
	case strings.HasPrefix(text, "{"):
		fields, headers, err = parseJSONCapture(text)
		if err != nil {
			return Credential{}, err
		}
	case strings.HasPrefix(text, "curl"):
		headers = parseCurlHeaders(text)
		fields = headers
	default:
		headers = parseHeaderLines(text)
		fields = headers
	}

	c := Credential{
		AccessToken:  firstOf(fields, "access_token", "accesstoken", "t_token"),
		RefreshToken: firstOf(fields, "refresh_token", "refreshtoken"),
		UserID:       firstOf(fields, "user_id", "userid"),
		DeviceID:     firstOf(fields, "device_id", "deviceid", "did"),
		Expiry:       At(now.Add(Lifetime)),
		LastUpdated:  At(now),
	}
	if c.AccessToken == "" {
		if auth := fields["authorization"]; auth != "" {
			c.AccessToken = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if c.AccessToken == "" {
		return Credential{}, ErrNoAccessToken
	}
	if c.UserID == "" {
		if m := secAccountIDRe.FindStringSubmatch(text); m != nil {
			c.UserID = m[1]
		}
	}
	if len(headers) > 0 {
		c.ExtraHeaders = headers
	}
	return c, nil
}

func parseJSONCapture(text string) (fields, headers map[string]string, err error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, nil, fmt.Errorf("parse capture json: %w", err)
	}

	fields = map[string]string{}
	for k, v := range raw {
		if s, ok := scalarString(v); ok {
			fields[strings.ToLower(k)] = s
		}
	}
	if nested, ok := raw["api_headers"].(map[string]any); ok {
		headers = map[string]string{}
		for k, v := range nested {
			if s, ok := scalarString(v); ok {
				headers[strings.ToLower(k)] = s
			}
		}
	}
	return fields, headers, nil
}

func parseCurlHeaders(text string) map[string]string {
	clean := strings.ReplaceAll(text, "\\\n", " ")
	out := map[string]string{}
	for _, m := range curlHeaderRe.FindAllStringSubmatch(clean, -1) {
		out[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
	}
	return out
}

func parseHeaderLines(text string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || strings.ContainsAny(k, " \t") {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return fmt.Sprintf("%.0f", x), true
	case bool:
		return fmt.Sprint(x), true
	}
	return "", false
}
