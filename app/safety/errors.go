package safety

import (
	"errors"
	"fmt"
)

// Kind identifies which guard rejected a URL.
type Kind string

const (
	KindInvalidURL       Kind = "invalid_url"
	KindUserinfo         Kind = "userinfo"
	KindScheme           Kind = "scheme"
	KindPort             Kind = "port"
	KindLocalhost        Kind = "localhost"
	KindHostNotAllowed   Kind = "host_not_allowed"
	KindAmbiguousIP      Kind = "ambiguous_ip"
	KindPrivateAddress   Kind = "private_address"
	KindTooManyRedirects Kind = "too_many_redirects"
)

// Error is returned for every SSRF guard rejection. It is never retried
// or downgraded by callers.
type Error struct {
	Kind   Kind
	Host   string
	Reason string
}

func (e *Error) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("unsafe url [%s]: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("unsafe url [%s] %s: %s", e.Kind, e.Host, e.Reason)
}

func violation(kind Kind, host, format string, args ...any) *Error {
	return &Error{Kind: kind, Host: host, Reason: fmt.Sprintf(format, args...)}
}

// IsViolation reports whether err (or anything it wraps) is a safety rejection.
func IsViolation(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// KindOf returns the violation kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
