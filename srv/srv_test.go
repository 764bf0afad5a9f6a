package srv

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/clustermon/address"
)

func srvRR(name string, port uint16, target string) dns.RR {
	return &dns.SRV{
		Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
		Port:   port,
		Target: dns.Fqdn(target),
	}
}

// startServer runs a UDP DNS server answering SRV queries from records.
func startServer(t *testing.T, records map[string][]dns.RR) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			res := &dns.Msg{}
			res.SetReply(req)
			rrs, ok := records[req.Question[0].Name]
			if !ok {
				res.SetRcode(req, dns.RcodeNameError)
			}
			res.Answer = rrs
			w.WriteMsg(res)
		}),
	}
	go server.ActivateAndServe()
	<-started
	t.Cleanup(func() { server.Shutdown() })
	return pc.LocalAddr().String()
}

func TestLookup(t *testing.T) {
	name := "_mongodb._tcp.cluster0.example.com."
	dnsAddr := startServer(t, map[string][]dns.RR{
		name: {
			srvRR(name, 27018, "b.example.com"),
			srvRR(name, 27017, "a.cluster0.example.com"),
			srvRR(name, 27017, "a.cluster0.example.com"),
		},
		"_mongodb._tcp.evil.example.com.": {
			srvRR("_mongodb._tcp.evil.example.com.", 27017, "db.attacker.net"),
		},
	})
	r := &Resolver{Servers: []string{dnsAddr}}

	t.Run("targets", func(t *testing.T) {
		addrs, err := r.Lookup(t.Context(), "cluster0.example.com")
		require.NoError(t, err)
		assert.Equal(t, []address.Address{
			address.MustParse("a.cluster0.example.com:27017"),
			address.MustParse("b.example.com:27018"),
		}, addrs)
	})

	t.Run("outside parent domain", func(t *testing.T) {
		_, err := r.Lookup(t.Context(), "evil.example.com")
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("nxdomain", func(t *testing.T) {
		_, err := r.Lookup(t.Context(), "missing.example.com")
		assert.Error(t, err)
	})
}

func TestLookupInvalidHost(t *testing.T) {
	for _, host := range []string{"localhost", "example.com", "example.com."} {
		_, err := (&Resolver{Servers: []string{"127.0.0.1:1"}}).Lookup(t.Context(), host)
		assert.ErrorIs(t, err, ErrInvalidHost, host)
	}
}

func TestTargets(t *testing.T) {
	name := "_mongodb._tcp.db.example.com."
	tests := []struct {
		name    string
		answer  []dns.RR
		want    []string
		wantErr error
	}{
		{"empty", nil, nil, ErrNoRecords},
		{"sibling", []dns.RR{srvRR(name, 27017, "x.example.com")}, []string{"x.example.com:27017"}, nil},
		{"parent itself", []dns.RR{srvRR(name, 27017, "example.com")}, nil, ErrInvalidTarget},
		{"suffix trick", []dns.RR{srvRR(name, 27017, "xexample.com")}, nil, ErrInvalidTarget},
		{"ignores other types", []dns.RR{
			&dns.A{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA}, A: net.IPv4(10, 0, 0, 1)},
			srvRR(name, 27019, "c.example.com"),
		}, []string{"c.example.com:27019"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := targets(tt.answer, "example.com.")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			want, err := address.ParseList(tt.want)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

type fakeMembership struct {
	mu      sync.Mutex
	members map[address.Address]bool
	failAdd bool
}

func (f *fakeMembership) Add(addr address.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return errors.New("closed")
	}
	f.members[addr] = true
	return nil
}

func (f *fakeMembership) Remove(addr address.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, addr)
	return nil
}

func (f *fakeMembership) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var l []string
	for a := range f.members {
		l = append(l, a.String())
	}
	return l
}

func TestWatcher(t *testing.T) {
	a := address.MustParse("a.example.com")
	b := address.MustParse("b.example.com")
	c := address.MustParse("c.example.com")

	target := &fakeMembership{members: map[address.Address]bool{a: true, b: true}}
	var (
		result []address.Address
		err    error
	)
	lookup := func(context.Context, string) ([]address.Address, error) { return result, err }
	w := NewWatcher("db.example.com", target, []address.Address{b, a}, WithLookup(lookup))

	result = []address.Address{c, b}
	w.Poll(t.Context())
	assert.ElementsMatch(t, []string{"b.example.com:27017", "c.example.com:27017"}, target.list())

	// failed lookups keep the membership
	result, err = nil, errors.New("timeout")
	w.Poll(t.Context())
	assert.ElementsMatch(t, []string{"b.example.com:27017", "c.example.com:27017"}, target.list())

	// a failed Add is retried on the next poll
	result, err = []address.Address{a, b, c}, nil
	target.failAdd = true
	w.Poll(t.Context())
	assert.Len(t, target.list(), 2)
	target.failAdd = false
	w.Poll(t.Context())
	assert.Len(t, target.list(), 3)
}

func TestDiff(t *testing.T) {
	parse := func(s ...string) []address.Address {
		l, err := address.ParseList(s)
		require.NoError(t, err)
		return l
	}
	added, removed := diff(parse("a", "b", "c"), parse("c", "d", "a"))
	assert.Equal(t, parse("d"), added)
	assert.Equal(t, parse("b"), removed)

	added, removed = diff(nil, parse("a"))
	assert.Equal(t, parse("a"), added)
	assert.Empty(t, removed)
}
