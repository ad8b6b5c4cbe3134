package dns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a UDP DNS server on localhost answering from zone
func startServer(t *testing.T, zone map[uint16][]string, rcode int) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("example.com.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, rcode)
		for _, s := range zone[r.Question[0].Qtype] {
			rr, err := dns.NewRR(s)
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func testZone() map[uint16][]string {
	return map[uint16][]string{
		dns.TypeA: {
			"example.com. 300 IN A 93.184.216.35",
			"example.com. 300 IN A 93.184.216.34",
		},
		dns.TypeMX:  {"example.com. 300 IN MX 10 mail.example.com."},
		dns.TypeNS:  {"example.com. 300 IN NS b.iana-servers.net.", "example.com. 300 IN NS a.iana-servers.net."},
		dns.TypeTXT: {`example.com. 300 IN TXT "v=spf1 " "-all"`},
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(0)
	assert.NotEmpty(t, c.servers)
	assert.Equal(t, defaultRetries, c.retries)

	c = NewClient(time.Second, "10.0.0.1:53")
	assert.Equal(t, []string{"10.0.0.1:53"}, c.servers)
}

func TestLookup(t *testing.T) {
	addr := startServer(t, testZone(), dns.RcodeSuccess)
	c := NewClient(time.Second, addr)

	rec, err := c.Lookup(context.Background(), "example.com")
	require.NoError(t, err)

	assert.True(t, rec.Resolves())
	assert.Equal(t, []string{"93.184.216.34", "93.184.216.35"}, rec.A)
	assert.Equal(t, []string{"mail.example.com"}, rec.MX)
	assert.Equal(t, []string{"a.iana-servers.net", "b.iana-servers.net"}, rec.NS)
	assert.Equal(t, []string{"v=spf1 -all"}, rec.TXT)
}

func TestLookupNXDomain(t *testing.T) {
	addr := startServer(t, nil, dns.RcodeSuccess)
	c := NewClient(time.Second, addr)

	rec, err := c.Lookup(context.Background(), "missing.invalid")
	require.ErrorIs(t, err, ErrNXDomain)
	assert.False(t, rec.Resolves())
}

func TestLookupServerFailure(t *testing.T) {
	addr := startServer(t, testZone(), dns.RcodeServerFailure)
	c := NewClient(time.Second, addr)
	c.retryDelay = time.Millisecond

	_, err := c.Lookup(context.Background(), "example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server failure (SERVFAIL)")
	assert.Contains(t, err.Error(), "A: ")
}

type flakyExchanger struct {
	calls atomic.Int32
	fails int32
	next  exchanger
}

func (f *flakyExchanger) ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	if f.calls.Add(1) <= f.fails {
		return nil, 0, errors.New("read udp: connection refused")
	}
	return f.next.ExchangeContext(ctx, m, addr)
}

func TestQueryRetries(t *testing.T) {
	addr := startServer(t, testZone(), dns.RcodeSuccess)
	c := NewClient(time.Second, addr)
	c.retryDelay = time.Millisecond
	flaky := &flakyExchanger{fails: 2, next: c.exchange}
	c.exchange = flaky

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	resp, err := c.query(context.Background(), msg)
	require.NoError(t, err)
	assert.Len(t, resp.Answer, 2)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestQueryGivesUp(t *testing.T) {
	c := NewClient(time.Second, "127.0.0.1:1")
	c.retryDelay = time.Millisecond
	flaky := &flakyExchanger{fails: 100}
	c.exchange = flaky

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	_, err := c.query(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, int32(defaultRetries+1), flaky.calls.Load())
}

func TestLookupCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(100*time.Millisecond, "192.0.2.1:53")
	_, err := c.Lookup(ctx, "example.com")
	assert.Error(t, err)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{timeoutErr{}, "DNS query timeout"},
		{errors.New("DNS error: SERVFAIL"), "server failure (SERVFAIL)"},
		{errors.New("DNS error: REFUSED"), "query refused"},
		{errors.New("dial udp: connection refused"), "DNS server connection refused"},
		{errors.New("something else"), "something else"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err))
	}
}
