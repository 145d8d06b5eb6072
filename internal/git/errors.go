package git

import (
	"fmt"
	"strings"
)

// Typed clone errors enabling structured classification without string parsing upstream.
type AuthError struct {
	URL string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("clone auth error for %s: %v", e.URL, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

type NotFoundError struct {
	URL string
	Err error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("clone not found %s: %v", e.URL, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

type UnsupportedProtocolError struct {
	URL string
	Err error
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("clone unsupported protocol %s: %v", e.URL, e.Err)
}
func (e *UnsupportedProtocolError) Unwrap() error { return e.Err }

type NetworkTimeoutError struct {
	URL string
	Err error
}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("clone network timeout %s: %v", e.URL, e.Err)
}
func (e *NetworkTimeoutError) Unwrap() error { return e.Err }

// ExitError reports a git binary that exited non-zero.
type ExitError struct {
	URL  string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("git clone %s exited with code %d", e.URL, e.Code)
}

// classifyCloneError wraps go-git failures into typed variants when possible.
func classifyCloneError(url string, err error) error {
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") ||
		strings.Contains(l, "invalid username or password"):
		return &AuthError{URL: url, Err: err}
	case strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist"):
		return &NotFoundError{URL: url, Err: err}
	case strings.Contains(l, "unsupported protocol") || strings.Contains(l, "protocol not supported"):
		return &UnsupportedProtocolError{URL: url, Err: err}
	case strings.Contains(l, "timeout"):
		return &NetworkTimeoutError{URL: url, Err: err}
	default:
		return fmt.Errorf("failed to clone repository %s: %w", url, err)
	}
}
