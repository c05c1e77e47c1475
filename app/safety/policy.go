package safety

import (
	"slices"
	"strings"

	"golang.org/x/net/idna"
)

const (
	DefaultMaxRedirects = 5
)

// Policy describes what an outbound request may target. The zero value is
// usable and means HTTPS only, ports 443 and 80, any public host and at most
// DefaultMaxRedirects redirect hops.
type Policy struct {
	AllowedSchemes []string
	AllowedPorts   []int
	// AllowedHosts pins requests to an exact, case-insensitive set of
	// hostnames. Empty means any host that passes the address checks.
	AllowedHosts []string
	MaxRedirects int
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedSchemes: []string{"https"},
		AllowedPorts:   []int{443, 80},
		MaxRedirects:   DefaultMaxRedirects,
	}
}

// WithAllowedHosts returns a copy of p pinned to hosts. Hosts are compared
// in their ASCII form, the same form validation gives request hosts.
func (p Policy) WithAllowedHosts(hosts []string) Policy {
	pinned := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = AllowListHost(h); h != "" {
			pinned = append(pinned, h)
		}
	}
	p.AllowedHosts = pinned
	return p
}

// AllowListHost normalizes a configured host name for allow-list matching.
// A name IDNA rejects is kept lowercased; it can never match a validated
// request host.
func AllowListHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

// Redirects returns the effective hop limit.
func (p Policy) Redirects() int {
	if p.MaxRedirects <= 0 {
		return DefaultMaxRedirects
	}
	return p.MaxRedirects
}

func (p Policy) schemeAllowed(scheme string) bool {
	schemes := p.AllowedSchemes
	if len(schemes) == 0 {
		schemes = DefaultPolicy().AllowedSchemes
	}
	return slices.ContainsFunc(schemes, func(s string) bool {
		return strings.EqualFold(s, scheme)
	})
}

func (p Policy) portAllowed(port int) bool {
	ports := p.AllowedPorts
	if len(ports) == 0 {
		ports = DefaultPolicy().AllowedPorts
	}
	return slices.Contains(ports, port)
}

func (p Policy) hostAllowed(host string) bool {
	if len(p.AllowedHosts) == 0 {
		return true
	}
	return slices.ContainsFunc(p.AllowedHosts, func(h string) bool {
		return strings.EqualFold(h, host)
	})
}
