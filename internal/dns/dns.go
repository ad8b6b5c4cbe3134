// Package dns resolves the DNS footprint of a scanned domain
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetries    = 2
	defaultRetryDelay = 500 * time.Millisecond
)

// ErrNXDomain is returned when the name does not exist
var ErrNXDomain = errors.New("domain not found (NXDOMAIN)")

// Records is the subset of DNS data attached to a report footprint
type Records struct {
	A   []string
	MX  []string
	NS  []string
	TXT []string
}

// Resolves reports whether the name has at least one address
func (r *Records) Resolves() bool {
	return len(r.A) > 0
}

type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Client queries a fixed set of DNS servers
type Client struct {
	servers    []string
	retries    int
	retryDelay time.Duration
	exchange   exchanger
}

// NewClient creates a client for servers ("host:port"). With no servers the
// system resolvers are used.
func NewClient(timeout time.Duration, servers ...string) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if len(servers) == 0 {
		servers = systemServers()
	}
	return &Client{
		servers:    servers,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		exchange:   &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// systemServers returns the resolvers from resolv.conf or public fallbacks
func systemServers() []string {
	config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		servers = append(servers, net.JoinHostPort(s, config.Port))
	}
	return servers
}

// Lookup fetches A, MX, NS and TXT records for host concurrently. Partial
// results are returned together with the joined errors of the failed types;
// ErrNXDomain is returned alone when the name does not exist.
func (c *Client) Lookup(ctx context.Context, host string) (*Records, error) {
	rec := &Records{}
	types := []struct {
		qtype uint16
		dst   *[]string
	}{
		{dns.TypeA, &rec.A},
		{dns.TypeMX, &rec.MX},
		{dns.TypeNS, &rec.NS},
		{dns.TypeTXT, &rec.TXT},
	}

	var (
		mu   sync.Mutex
		errs []error
		nx   int
		g    errgroup.Group
	)
	for _, t := range types {
		g.Go(func() error {
			values, err := c.records(ctx, host, t.qtype)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrNXDomain):
				nx++
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %s", dns.TypeToString[t.qtype], categorizeError(err)))
			default:
				*t.dst = values
			}
			return nil
		})
	}
	_ = g.Wait()

	if nx == len(types) {
		return rec, ErrNXDomain
	}
	return rec, errors.Join(errs...)
}

func (c *Client) records(ctx context.Context, host string, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)

	resp, err := c.query(ctx, msg)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			out = append(out, rr.A.String())
		case *dns.MX:
			out = append(out, strings.TrimSuffix(rr.Mx, "."))
		case *dns.NS:
			out = append(out, strings.TrimSuffix(rr.Ns, "."))
		case *dns.TXT:
			// Multi-part TXT strings form one record
			out = append(out, strings.Join(rr.Txt, ""))
		}
	}
	sort.Strings(out)
	return out, nil
}

// query asks each server in turn, retrying the whole list on transport errors
func (c *Client) query(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	var resp *dns.Msg

	operation := func() error {
		var lastErr error
		for _, server := range c.servers {
			r, _, err := c.exchange.ExchangeContext(ctx, msg, server)
			if err != nil {
				lastErr = err
				continue
			}
			switch r.Rcode {
			case dns.RcodeSuccess:
				resp = r
				return nil
			case dns.RcodeNameError:
				return backoff.Permanent(ErrNXDomain)
			default:
				lastErr = fmt.Errorf("DNS error: %s", dns.RcodeToString[r.Rcode])
			}
		}
		if lastErr == nil {
			lastErr = errors.New("no DNS servers configured")
		}
		return lastErr
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return resp, nil
}

// categorizeError converts DNS errors to user-friendly messages
func categorizeError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "DNS query timeout"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "SERVFAIL"):
		return "server failure (SERVFAIL)"
	case strings.Contains(errStr, "REFUSED"):
		return "query refused"
	case strings.Contains(errStr, "connection refused"):
		return "DNS server connection refused"
	case strings.Contains(errStr, "i/o timeout"):
		return "DNS query timeout"
	default:
		return errStr
	}
}
