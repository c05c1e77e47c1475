package safety

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"
)

type pinKey struct{}

type pin struct {
	host  string
	addrs []netip.Addr
}

// WithPinnedAddrs records the addresses a validated host resolved to so the
// dialer connects to exactly those and never resolves the name again.
func WithPinnedAddrs(ctx context.Context, host string, addrs []netip.Addr) context.Context {
	return context.WithValue(ctx, pinKey{}, pin{host: host, addrs: addrs})
}

func pinnedAddrs(ctx context.Context, host string) ([]netip.Addr, bool) {
	p, ok := ctx.Value(pinKey{}).(pin)
	if !ok || p.host != host || len(p.addrs) == 0 {
		return nil, false
	}
	return p.addrs, true
}

// ContextDialer is satisfied by *net.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dialer connects only to addresses that passed validation.
type Dialer struct {
	validator *Validator
	dialer    ContextDialer
}

// NewDialer wraps dialer. A nil dialer gets a net.Dialer whose Control hook
// re-checks every address right before connect.
func NewDialer(validator *Validator, dialer ContextDialer) *Dialer {
	if dialer == nil {
		dialer = &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   controlConnect,
		}
	}
	return &Dialer{validator: validator, dialer: dialer}
}

func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("invalid dial address %q: %w", address, err)
	}

	addrs, ok := pinnedAddrs(ctx, host)
	if !ok {
		addrs, err = d.validator.ResolveSafe(ctx, host)
		if err != nil {
			return nil, err
		}
	}

	var errs []error
	for _, addr := range addrs {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func controlConnect(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return violation(KindInvalidURL, address, "invalid connect address")
	}
	if IsUnsafeIP(host) {
		return violation(KindPrivateAddress, host, "connect to non-public address blocked")
	}
	return nil
}
