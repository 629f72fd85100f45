package lookup

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"

	"mailprobe/internal/cache"
)

// MxResult is the outcome of resolving a domain's mail exchangers.
type MxResult struct {
	HasMx bool
	// Hosts are MX hostnames ordered by ascending priority, or the domain
	// itself when the implicit-MX fallback applied.
	Hosts         []string
	ViaImplicitMx bool
}

// DNSClient is the subset of net.Resolver the engine needs. Injectable so
// tests can swap in a mock resolver.
type DNSClient interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Resolver answers MX and TXT queries with a process-wide TTL cache and
// single-flight deduplication, so N addresses on one domain cost one query.
type Resolver struct {
	dns     DNSClient
	cache   *cache.Store
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
}

func NewResolver(store *cache.Store, ttl, timeout time.Duration) *Resolver {
	return &Resolver{
		dns: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				// Fail fast if the upstream DNS server is slow.
				d := net.Dialer{Timeout: 3 * time.Second}
				return d.DialContext(ctx, network, address)
			},
		},
		cache:   store,
		ttl:     ttl,
		timeout: timeout,
	}
}

// NewResolverWithClient builds a Resolver around a custom DNS client (tests).
func NewResolverWithClient(store *cache.Store, ttl, timeout time.Duration, dns DNSClient) *Resolver {
	r := NewResolver(store, ttl, timeout)
	r.dns = dns
	return r
}

// NormalizeDomain lower-cases and IDNA-encodes a domain for DNS use.
func NormalizeDomain(domain string) string {
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(strings.TrimSpace(domain)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(domain))
	}
	return ascii
}

// LookupMX resolves the mail exchangers for domain, falling back to A/AAAA
// per RFC 5321 §5.1 when no MX records exist. A timeout or transport error
// returns err != nil, which the caller maps to "unknown".
func (r *Resolver) LookupMX(ctx context.Context, domain string) (MxResult, error) {
	domain = NormalizeDomain(domain)

	if cached, ok := r.cache.Get("mx:" + domain); ok {
		return cached.(MxResult), nil
	}

	v, err, _ := r.group.Do("mx:"+domain, func() (interface{}, error) {
		res, err := r.lookupMX(ctx, domain)
		if err != nil {
			return MxResult{}, err
		}
		r.cache.Set("mx:"+domain, res, r.ttl)
		return res, nil
	})
	if err != nil {
		return MxResult{}, err
	}
	return v.(MxResult), nil
}

func (r *Resolver) lookupMX(ctx context.Context, domain string) (MxResult, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.dns.LookupMX(qctx, domain)
	if err != nil && !isNotFound(err) {
		return MxResult{}, err
	}

	if len(records) > 0 {
		sort.SliceStable(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
		hosts := make([]string, 0, len(records))
		for _, mx := range records {
			h := strings.TrimSuffix(mx.Host, ".")
			if h != "" {
				hosts = append(hosts, h)
			}
		}
		if len(hosts) > 0 {
			return MxResult{HasMx: true, Hosts: hosts}, nil
		}
	}

	// No MX records: the domain itself is the implicit exchanger if it
	// resolves to any address.
	actx, cancel2 := context.WithTimeout(ctx, r.timeout)
	defer cancel2()

	addrs, aErr := r.dns.LookupHost(actx, domain)
	if aErr != nil {
		if isNotFound(aErr) {
			return MxResult{HasMx: false}, nil
		}
		return MxResult{}, aErr
	}
	if len(addrs) == 0 {
		return MxResult{HasMx: false}, nil
	}
	return MxResult{HasMx: true, Hosts: []string{domain}, ViaImplicitMx: true}, nil
}

// LookupTXT runs a timeout-bounded TXT query. Not-found reads as an empty set.
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	txts, err := r.dns.LookupTXT(qctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return txts, nil
}

// LookupHost resolves A/AAAA addresses for a hostname with the query timeout.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.dns.LookupHost(qctx, host)
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}
