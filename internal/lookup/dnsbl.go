package lookup

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// DNS blacklists queried with the reversed IPv4 of the primary exchanger.
var dnsblZones = []string{
	"zen.spamhaus.org",
	"bl.spamcop.net",
	"b.barracudacentral.org",
}

// CheckDNSBL resolves the first MX host to IPv4 and tests it against the
// blacklist zones. Any successful resolution under a zone means listed.
// Returns nil when the host's address cannot be determined.
func CheckDNSBL(ctx context.Context, r *Resolver, mxHost string) *bool {
	addrs, err := r.LookupHost(ctx, strings.TrimSuffix(mxHost, "."))
	if err != nil || len(addrs) == 0 {
		return nil
	}

	var ip4 net.IP
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			ip4 = ip.To4()
			break
		}
	}
	if ip4 == nil {
		return nil
	}

	reversed := fmt.Sprintf("%d.%d.%d.%d", ip4[3], ip4[2], ip4[1], ip4[0])

	listed := false
	for _, zone := range dnsblZones {
		if ctx.Err() != nil {
			return nil
		}
		hits, err := r.LookupHost(ctx, reversed+"."+zone)
		if err == nil && len(hits) > 0 {
			listed = true
			break
		}
	}
	return &listed
}
