package safety

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Resolver is the subset of *net.Resolver the validator needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Hostname suffixes treated like localhost regardless of any allow-list.
var localSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".home.arpa",
	".lan",
}

// Target is a URL that passed validation together with the addresses the
// connection must be pinned to.
type Target struct {
	URL   *url.URL
	Host  string
	Port  int
	Addrs []netip.Addr
}

type Validator struct {
	resolver      Resolver
	lookupTimeout time.Duration
}

func NewValidator(resolver Resolver) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Validator{
		resolver:      resolver,
		lookupTimeout: 5 * time.Second,
	}
}

// Validate parses rawURL and checks it against policy. Cheap syntactic
// checks run first; DNS is only consulted for hostnames that survive them.
func (v *Validator) Validate(ctx context.Context, rawURL string, policy Policy) (*Target, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, violation(KindInvalidURL, "", "failed to parse url: %v", err)
	}
	return v.ValidateURL(ctx, u, policy)
}

func (v *Validator) ValidateURL(ctx context.Context, u *url.URL, policy Policy) (*Target, error) {
	if u == nil || !u.IsAbs() || u.Host == "" {
		return nil, violation(KindInvalidURL, "", "absolute url with host required")
	}

	if u.User != nil {
		return nil, violation(KindUserinfo, u.Hostname(), "embedded credentials are not allowed")
	}

	scheme := strings.ToLower(u.Scheme)
	if !policy.schemeAllowed(scheme) {
		return nil, violation(KindScheme, u.Hostname(), "scheme %q is not allowed", scheme)
	}

	port, err := effectivePort(u, scheme)
	if err != nil {
		return nil, violation(KindPort, u.Hostname(), "%v", err)
	}
	if !policy.portAllowed(port) {
		return nil, violation(KindPort, u.Hostname(), "port %d is not allowed", port)
	}

	host, literal, err := normalizeHost(u.Hostname())
	if err != nil {
		return nil, violation(KindInvalidURL, u.Hostname(), "%v", err)
	}

	if !literal.IsValid() && isLocalName(host) {
		return nil, violation(KindLocalhost, host, "local hostnames are not allowed")
	}

	if !policy.hostAllowed(host) {
		return nil, violation(KindHostNotAllowed, host, "host is not on the allow-list")
	}

	var addrs []netip.Addr
	if literal.IsValid() {
		if IsUnsafeAddr(literal) {
			return nil, violation(KindPrivateAddress, host, "address %s is not publicly routable", literal)
		}
		addrs = []netip.Addr{literal}
	} else {
		if looksNumeric(host) {
			return nil, violation(KindAmbiguousIP, host, "non-canonical numeric host")
		}
		addrs, err = v.ResolveSafe(ctx, host)
		if err != nil {
			return nil, err
		}
	}

	canonical := *u
	canonical.Scheme = scheme
	canonical.User = nil
	canonical.Host = hostPort(host, literal, u.Port())

	return &Target{
		URL:   &canonical,
		Host:  host,
		Port:  port,
		Addrs: addrs,
	}, nil
}

// ResolveSafe looks up every address for host and fails if any of them is
// unsafe, so a name that mixes public and private records is rejected.
func (v *Validator) ResolveSafe(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsUnsafeAddr(addr) {
			return nil, violation(KindPrivateAddress, host, "address %s is not publicly routable", addr)
		}
		return []netip.Addr{addr}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	ipAddrs, err := v.resolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ipAddrs) == 0 {
		return nil, fmt.Errorf("failed to resolve %s: no addresses", host)
	}

	addrs := make([]netip.Addr, 0, len(ipAddrs))
	for _, ipAddr := range ipAddrs {
		addr, ok := netip.AddrFromSlice(ipAddr.IP)
		if !ok || IsUnsafeAddr(addr) {
			return nil, violation(KindPrivateAddress, host, "resolves to non-public address %s", ipAddr.IP)
		}
		addrs = append(addrs, addr.Unmap())
	}

	return addrs, nil
}

func effectivePort(u *url.URL, scheme string) (int, error) {
	raw := u.Port()
	if raw == "" {
		switch scheme {
		case "https":
			return 443, nil
		case "http":
			return 80, nil
		default:
			return 0, fmt.Errorf("no default port for scheme %q", scheme)
		}
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return port, nil
}

// normalizeHost lowercases and IDNA-encodes hostname. IP literals come back
// parsed in the second return value.
func normalizeHost(hostname string) (string, netip.Addr, error) {
	hostname = strings.TrimSuffix(hostname, ".")
	if hostname == "" {
		return "", netip.Addr{}, fmt.Errorf("empty host")
	}

	if addr, err := netip.ParseAddr(hostname); err == nil {
		return addr.WithZone("").String(), addr, nil
	}

	ascii, err := idna.Lookup.ToASCII(strings.ToLower(hostname))
	if err != nil {
		return "", netip.Addr{}, fmt.Errorf("invalid hostname: %w", err)
	}
	return ascii, netip.Addr{}, nil
}

func isLocalName(host string) bool {
	if host == "localhost" {
		return true
	}
	for _, suffix := range localSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// looksNumeric catches shorthand IPv4 forms such as 2130706433, 127.1 or
// 0x7f.0.0.1 that some resolvers would turn into addresses. No real TLD is
// numeric.
func looksNumeric(host string) bool {
	labels := strings.Split(host, ".")
	last := labels[len(labels)-1]
	if strings.HasPrefix(last, "0x") {
		return true
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return false
		}
	}
	return last != ""
}

func hostPort(host string, literal netip.Addr, port string) string {
	if literal.IsValid() && literal.Is6() {
		host = "[" + host + "]"
	}
	if port == "" {
		return host
	}
	return host + ":" + port
}
