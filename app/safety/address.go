package safety

import (
	"net/netip"
)

// Ranges not covered by the netip predicates used in IsUnsafeAddr.
var unsafePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),       // "this network"
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),    // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),    // TEST-NET-1
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),  // TEST-NET-3
	netip.MustParsePrefix("240.0.0.0/4"),     // reserved, includes broadcast
	netip.MustParsePrefix("100::/64"),        // discard-only
	netip.MustParsePrefix("2001:db8::/32"),   // documentation
	netip.MustParsePrefix("fec0::/10"),       // deprecated site-local
}

var nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")

// IsUnsafeIP parses s and classifies it. Anything that is not a valid IPv4
// or IPv6 address is unsafe.
func IsUnsafeIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return true
	}
	return IsUnsafeAddr(addr)
}

// IsUnsafeAddr reports whether addr points at loopback, link-local, private,
// shared, unspecified, multicast or reserved space.
func IsUnsafeAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.WithZone("")

	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.Is6() && nat64Prefix.Contains(addr) {
		b := addr.As16()
		addr = netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]})
	}

	if addr.IsUnspecified() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsPrivate() {
		return true
	}

	for _, p := range unsafePrefixes {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}
