package address

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Family restricts which address families Resolve returns.
type Family uint8

const (
	// FamilyAny returns IPv6 candidates first, then IPv4.
	FamilyAny Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Resolver is the subset of *net.Resolver used for host lookups.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Candidate is one dialable endpoint produced by Resolve.
type Candidate struct {
	Network string // "tcp4", "tcp6" or "unix"
	Addr    string // ip:port or socket path
}

// Resolve looks up the host and returns dial candidates in the order they
// should be attempted. IP literals and unix sockets are returned without a
// lookup. A nil resolver uses net.DefaultResolver.
func (a Address) Resolve(ctx context.Context, r Resolver, family Family) ([]Candidate, error) {
	if a.IsZero() {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	if a.kind == UnixSocket {
		return []Candidate{{Network: "unix", Addr: a.host}}, nil
	}

	var ips []netip.Addr
	if ip, err := netip.ParseAddr(a.host); err == nil {
		ips = []netip.Addr{ip}
	} else {
		if r == nil {
			r = net.DefaultResolver
		}
		network := "ip"
		switch family {
		case FamilyIPv4:
			network = "ip4"
		case FamilyIPv6:
			network = "ip6"
		}
		ips, err = r.LookupNetIP(ctx, network, a.host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", a.host, err)
		}
	}

	var v6, v4 []Candidate
	port := strconv.Itoa(int(a.port))
	for _, ip := range ips {
		ip = ip.Unmap()
		c := Candidate{Addr: net.JoinHostPort(ip.String(), port)}
		if ip.Is4() {
			if family == FamilyIPv6 {
				continue
			}
			c.Network = "tcp4"
			v4 = append(v4, c)
			continue
		}
		if family == FamilyIPv4 {
			continue
		}
		c.Network = "tcp6"
		v6 = append(v6, c)
	}

	list := append(v6, v4...)
	if len(list) == 0 {
		return nil, fmt.Errorf("resolving %s: no usable addresses", a.host)
	}
	return list, nil
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dialer connects to an Address by trying every resolved candidate in
// order, IPv6 first, falling back to the next one on failure. It is a
// sequential simplification of RFC 8305.
type Dialer struct {
	Resolver Resolver
	Family   Family
	// Dial defaults to a net.Dialer with no timeout; callers bound the
	// attempt through the context.
	Dial DialFunc
}

// DialContext connects to a.
func (d *Dialer) DialContext(ctx context.Context, a Address) (net.Conn, error) {
	dial := d.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	candidates, err := a.Resolve(ctx, d.Resolver, d.Family)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, c := range candidates {
		conn, err := dial(ctx, c.Network, c.Addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("dial %s: %w", a, errors.Join(errs...))
}
