package auth

import (
	"errors"
	"fmt"
)

// Markers are literal substrings of log messages. The supervisor greps the
// monitor log for them, so they must never change.
const (
	MarkerExpired  = "AUTH_EXPIRED"
	MarkerRestored = "AUTH_RESTORED"
	MarkerManual   = "NEEDS_MANUAL_INTERVENTION"
)

// ErrNotFound is returned when no token can be found in local storage.
var ErrNotFound = errors.New("auth: no access token in local storage")

type ErrorKind int

const (
	Unknown ErrorKind = iota
	ExpiredRefreshToken
	Network
)

func (k ErrorKind) String() string {
	switch k {
	case ExpiredRefreshToken:
		return "expired refresh token"
	case Network:
		return "network"
	}
	return "unknown"
}

type AuthError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth refresh (%s, http %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("auth refresh (%s): %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// KindOf returns the kind of an *AuthError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return Unknown, false
}
