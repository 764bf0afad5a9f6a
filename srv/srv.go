// Package srv builds seed lists from DNS SRV records and keeps a topology's
// membership in sync with them.
package srv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"go.ntppool.org/clustermon/address"
)

// Service is the SRV service label queried below the seed host.
const Service = "_mongodb._tcp."

var (
	ErrInvalidHost   = errors.New("srv: host needs at least three labels")
	ErrNoRecords     = errors.New("srv: no SRV records")
	ErrInvalidTarget = errors.New("srv: target outside parent domain")
)

// Resolver queries a DNS server for SRV records.
type Resolver struct {
	// Servers are host:port pairs tried in order. Empty means the
	// nameservers from ResolvConf.
	Servers []string

	// ResolvConf defaults to /etc/resolv.conf.
	ResolvConf string

	Client *dns.Client
}

// Lookup resolves the SRV records for host with a default Resolver.
func Lookup(ctx context.Context, host string) ([]address.Address, error) {
	return (&Resolver{}).Lookup(ctx, host)
}

// Lookup resolves _mongodb._tcp.<host> and returns the targets sorted by
// address. Every target must be inside the parent domain of host.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]address.Address, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := dns.SplitDomainName(host)
	if len(labels) < 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	parent := dns.Fqdn(strings.Join(labels[1:], "."))

	servers, err := r.servers()
	if err != nil {
		return nil, err
	}
	client := r.Client
	if client == nil {
		client = &dns.Client{}
	}

	m := &dns.Msg{}
	m.SetQuestion(dns.Fqdn(Service+host), dns.TypeSRV)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range servers {
		res, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if res.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("srv: %s: %s", server, dns.RcodeToString[res.Rcode])
			continue
		}
		return targets(res.Answer, parent)
	}
	if lastErr == nil {
		lastErr = errors.New("srv: no nameservers configured")
	}
	return nil, fmt.Errorf("looking up %s%s: %w", Service, host, lastErr)
}

func (r *Resolver) servers() ([]string, error) {
	if len(r.Servers) > 0 {
		return r.Servers, nil
	}
	path := r.ResolvConf
	if path == "" {
		path = "/etc/resolv.conf"
	}
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("srv: reading %s: %w", path, err)
	}
	list := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		list = append(list, net.JoinHostPort(s, cfg.Port))
	}
	return list, nil
}

// targets converts SRV answers to addresses, rejecting any target that is
// not a subdomain of parent.
func targets(answer []dns.RR, parent string) ([]address.Address, error) {
	var list []address.Address
	for _, rr := range answer {
		rec, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		target := strings.ToLower(dns.Fqdn(rec.Target))
		if !dns.IsSubDomain(parent, target) || target == parent {
			return nil, fmt.Errorf("%w: %s not in %s", ErrInvalidTarget, target, parent)
		}
		addr, err := address.Parse(strings.TrimSuffix(target, ".") + ":" + strconv.Itoa(int(rec.Port)))
		if err != nil {
			return nil, err
		}
		list = append(list, addr)
	}
	if len(list) == 0 {
		return nil, ErrNoRecords
	}
	slices.SortFunc(list, address.Address.Compare)
	return slices.Compact(list), nil
}
