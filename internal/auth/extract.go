package auth

import (
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/internal/token"
)

var (
	accessTokenRe  = regexp.MustCompile(`"accessToken":"([^"]+)"`)
	refreshTokenRe = regexp.MustCompile(`"refreshToken":"([^"]+)"`)
	userIDRe       = regexp.MustCompile(`"userId":"?(\d+)"?`)
)

// DefaultStoragePaths are where the desktop app keeps its session cookies
// on macOS.
func DefaultStoragePaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(home, "Library", "Application Support")
	return []string{
		filepath.Join(base, "Webull Desktop", "cookies"),
		filepath.Join(base, "Webull", "cookies"),
	}
}

// ExtractFromLocalStorage scans the configured storage files for a session
// token and merges it into the current credential.
func (m *Manager) ExtractFromLocalStorage() (token.Credential, error) {
	for _, path := range m.storagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				m.log.Warn("cannot read local storage", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		match := accessTokenRe.FindSubmatch(data)
		if match == nil {
			m.log.Debug("no token in local storage", zap.String("path", path))
			continue
		}

		c, _ := m.current()
		c.AccessToken = string(match[1])
		if r := refreshTokenRe.FindSubmatch(data); r != nil {
			c.RefreshToken = string(r[1])
		}
		if u := userIDRe.FindSubmatch(data); u != nil {
			c.UserID = string(u[1])
		}
		now := m.clock.Now()
		c.Expiry = token.At(now.Add(token.Lifetime))
		c.LastUpdated = token.At(now)

		m.log.Info("found access token in local storage", zap.String("path", path))
		m.persist(c)
		return m.accept(c, "local-storage"), nil
	}
	return token.Credential{}, ErrNotFound
}
