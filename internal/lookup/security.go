package lookup

import (
	"context"
	"strings"
)

// CheckSPF looks for a v=spf1 record in the domain's TXT entries.
// Returns nil on lookup failure (no signal).
func CheckSPF(ctx context.Context, r *Resolver, domain string) *bool {
	txts, err := r.LookupTXT(ctx, domain)
	if err != nil {
		return nil
	}
	found := false
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=spf1") {
			found = true
			break
		}
	}
	return &found
}

// CheckDMARC looks for a policy record at _dmarc.<domain>.
func CheckDMARC(ctx context.Context, r *Resolver, domain string) *bool {
	txts, err := r.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		return nil
	}
	found := false
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=DMARC1") {
			found = true
			break
		}
	}
	return &found
}

// CheckMTASTS probes the _mta-sts policy discovery record.
func CheckMTASTS(ctx context.Context, r *Resolver, domain string) *bool {
	txts, err := r.LookupTXT(ctx, "_mta-sts."+domain)
	if err != nil {
		return nil
	}
	found := len(txts) > 0
	return &found
}

// CheckBIMI probes for a brand-indicator record.
func CheckBIMI(ctx context.Context, r *Resolver, domain string) *bool {
	txts, err := r.LookupTXT(ctx, "_bimi."+domain)
	if err != nil {
		return nil
	}
	found := len(txts) > 0
	return &found
}

// CheckDKIM scans the common selector list under _domainkey. A selector
// counts as present when any TXT record comes back. Stops at the first hit.
func CheckDKIM(ctx context.Context, r *Resolver, domain string) *bool {
	sawAnswer := false
	for _, sel := range dkimSelectors {
		txts, err := r.LookupTXT(ctx, sel+"._domainkey."+domain)
		if err != nil {
			continue
		}
		sawAnswer = true
		if len(txts) > 0 {
			found := true
			return &found
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	if !sawAnswer {
		return nil
	}
	found := false
	return &found
}

// CheckSaaSTokens scans TXT records for verification tokens left by B2B
// tools. Finding one proves the domain is actively used for business.
func CheckSaaSTokens(ctx context.Context, r *Resolver, domain string) *bool {
	txts, err := r.LookupTXT(ctx, domain)
	if err != nil {
		return nil
	}

	indicators := []string{
		"google-site-verification",
		"salesforce",
		"zendesk",
		"atlassian",
		"docusign",
		"facebook-domain-verification",
		"apple-domain-verification",
		"stripe",
	}

	found := false
	for _, txt := range txts {
		lower := strings.ToLower(txt)
		for _, ind := range indicators {
			if strings.Contains(lower, ind) {
				found = true
			}
		}
	}
	return &found
}
