package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidHandle = errors.New("invalid agent handle")

var handlePattern = regexp.MustCompile(`^@?([^@]+)@([^@]+)$`)

// Handle is an agent address of the form @name@domain.
type Handle struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

func (h Handle) String() string {
	return "@" + h.Name + "@" + h.Domain
}

// ParseHandle accepts "@name@domain" and "name@domain". The domain must be a
// bare host name.
func ParseHandle(raw string) (Handle, error) {
	m := handlePattern.FindStringSubmatch(raw)
	if m == nil {
		return Handle{}, fmt.Errorf("%w: %q must look like @name@domain", ErrInvalidHandle, raw)
	}
	if strings.ContainsAny(m[2], "/?#\\:%") || strings.IndexFunc(m[2], isSpace) >= 0 || strings.Trim(m[2], ".") == "" {
		return Handle{}, fmt.Errorf("%w: %q is not a host name", ErrInvalidHandle, m[2])
	}
	return Handle{Name: m[1], Domain: m[2]}, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
