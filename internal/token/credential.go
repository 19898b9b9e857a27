package token

import (
	"fmt"
	"strings"
	"time"
)

// Credential is the bearer token pair plus the identity metadata the
// account API expects alongside it.
type Credential struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Expiry       Timestamp         `json:"token_expiry"`
	UserID       string            `json:"user_id,omitempty"`
	DeviceID     string            `json:"device_id,omitempty"`
	LastUpdated  Timestamp         `json:"last_updated"`
	ExtraHeaders map[string]string `json:"api_headers,omitempty"`
}

// Lifetime is how long the broker honours a freshly issued access token.
const Lifetime = 24 * time.Hour

func (c Credential) HasAccessToken() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// Clone returns a deep copy so callers can mutate headers freely.
func (c Credential) Clone() Credential {
	out := c
	if c.ExtraHeaders != nil {
		out.ExtraHeaders = make(map[string]string, len(c.ExtraHeaders))
		for k, v := range c.ExtraHeaders {
			out.ExtraHeaders[k] = v
		}
	}
	return out
}

// Timestamp is a time that tolerates the several ISO-8601 shapes earlier
// tools wrote into the token file. It always marshals as RFC 3339.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp { return Timestamp{Time: t} }

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO-8601 timestamps. Values
// without a zone are interpreted in local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
