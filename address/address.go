// Package address parses and normalizes server host specifications.
//
// An Address is a comparable value: two addresses are equal when their
// normalized text is equal, so they can be used directly as map keys.
// Equality never depends on DNS; "localhost:27017" and "127.0.0.1:27017"
// are different addresses even when they resolve to the same socket.
package address

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// DefaultPort is used when a host specification has no port.
const DefaultPort uint16 = 27017

// ErrInvalidAddress is returned for specifications that are neither a host
// form nor a socket path.
var ErrInvalidAddress = errors.New("invalid address")

// Kind is the transport an Address refers to.
type Kind uint8

const (
	TCP Kind = iota
	UnixSocket
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "tcp"
	case UnixSocket:
		return "unix"
	}
	return "unknown"
}

// Address is a normalized server endpoint.
type Address struct {
	kind Kind
	host string // lower-cased host name or IP literal, or the socket path
	port uint16 // zero for unix sockets
}

// Parse normalizes spec into an Address. It accepts host, host:port,
// [ipv6], [ipv6]:port, bare IPv6 literals and absolute unix socket paths.
func Parse(spec string) (Address, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty host specification", ErrInvalidAddress)
	}

	if isSocketPath(s) {
		return Address{kind: UnixSocket, host: s}, nil
	}

	host, portStr, err := splitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %s", ErrInvalidAddress, spec, err)
	}

	port := DefaultPort
	if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || p == 0 {
			return Address{}, fmt.Errorf("%w: %q: bad port %q", ErrInvalidAddress, spec, portStr)
		}
		port = uint16(p)
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		host = ip.String()
	} else {
		host = strings.ToLower(strings.TrimSuffix(host, "."))
	}

	if err := validHost(host); err != nil {
		return Address{}, fmt.Errorf("%w: %q: %s", ErrInvalidAddress, spec, err)
	}

	return Address{kind: TCP, host: host, port: port}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package level variables.
func MustParse(spec string) Address {
	a, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseList parses every entry of specs, stopping at the first error.
func ParseList(specs []string) ([]Address, error) {
	list := make([]Address, 0, len(specs))
	for _, s := range specs {
		a, err := Parse(s)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, nil
}

func isSocketPath(s string) bool {
	return strings.HasPrefix(s, "/")
}

func splitHostPort(s string) (string, string, error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", errors.New("missing ']'")
		}
		host := s[1:end]
		rest := s[end+1:]
		if _, err := netip.ParseAddr(host); err != nil || !strings.Contains(host, ":") {
			return "", "", fmt.Errorf("bad IPv6 literal %q", host)
		}
		switch {
		case rest == "":
			return host, "", nil
		case strings.HasPrefix(rest, ":") && len(rest) > 1:
			return host, rest[1:], nil
		}
		return "", "", fmt.Errorf("unexpected %q after IPv6 literal", rest)
	}

	switch strings.Count(s, ":") {
	case 0:
		return s, "", nil
	case 1:
		i := strings.LastIndex(s, ":")
		if i == len(s)-1 {
			return "", "", errors.New("empty port")
		}
		return s[:i], s[i+1:], nil
	}

	// more than one colon without brackets must be a bare IPv6 literal
	if _, err := netip.ParseAddr(s); err != nil {
		return "", "", errors.New("IPv6 literals with a port need brackets")
	}
	return s, "", nil
}

func validHost(host string) error {
	if host == "" {
		return errors.New("empty host")
	}
	if strings.HasSuffix(host, ".") {
		return fmt.Errorf("empty label in host %q", host)
	}
	if strings.ContainsAny(host, " \t/\\[]@?#") {
		return fmt.Errorf("invalid character in host %q", host)
	}
	return nil
}

// Kind reports whether the address is a TCP endpoint or a unix socket.
func (a Address) Kind() Kind { return a.kind }

// Host returns the normalized host, or the socket path.
func (a Address) Host() string { return a.host }

// Port returns the TCP port, zero for unix sockets.
func (a Address) Port() uint16 { return a.port }

// Network returns the network name for net.Dial.
func (a Address) Network() string { return a.kind.String() }

// IsZero is true for the zero Address.
func (a Address) IsZero() bool { return a == Address{} }

// String renders the canonical form; Parse(a.String()) == a.
func (a Address) String() string {
	if a.kind == UnixSocket {
		return a.host
	}
	if a.IsZero() {
		return ""
	}
	return net.JoinHostPort(a.host, strconv.Itoa(int(a.port)))
}

// Compare orders addresses by their canonical text, for stable listings.
func (a Address) Compare(b Address) int {
	return strings.Compare(a.String(), b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = p
	return nil
}
