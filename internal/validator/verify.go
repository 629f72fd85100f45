// Package validator ties the collectors together: it fans a batch out over
// DNS, SMTP, and the identity probes, then fuses the evidence into one
// verdict per address.
package validator

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mailprobe/internal/analyzer"
	"mailprobe/internal/bounce"
	"mailprobe/internal/cache"
	"mailprobe/internal/config"
	"mailprobe/internal/lookup"
	"mailprobe/internal/models"
)

// dkimTTL caches the DKIM selector scan longer than the rest of the domain
// intel: it is 13 DNS queries per domain and signing keys rarely rotate. The
// other intel signals recycle on the same TTL as the MX cache.
const dkimTTL = 30 * time.Minute

// IdentityProbes is the slice of ProviderProbes the engine drives. Injectable
// so tests can count which upstreams a verdict actually consulted.
type IdentityProbes interface {
	CheckMicrosoft(ctx context.Context, email string) *bool
	CheckGoogle(ctx context.Context, email, domain string) *bool
	CheckApple(ctx context.Context, email string) *bool
	CheckGravatar(ctx context.Context, email string) *bool
	CheckGitHub(ctx context.Context, email string) *bool
	CheckPGP(ctx context.Context, email string) *bool
	CheckHIBP(ctx context.Context, email string) *bool
}

// Engine runs the verification pipeline for one or many addresses.
type Engine struct {
	cfg      config.Config
	resolver *lookup.Resolver
	prober   *lookup.SmtpProber
	probes   IdentityProbes
	bounces  bounce.Store

	store *cache.Store
	// Concurrent requests for the same domain's intel coalesce into one sweep.
	group singleflight.Group
}

func NewEngine(cfg config.Config, resolver *lookup.Resolver, prober *lookup.SmtpProber,
	probes IdentityProbes, bounces bounce.Store, store *cache.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		prober:   prober,
		probes:   probes,
		bounces:  bounces,
		store:    store,
	}
}

// VerifyBatch verifies every address and returns results in input order.
// Individual failures degrade to unknown; the batch itself never errors.
func (e *Engine) VerifyBatch(ctx context.Context, emails []string) []models.VerifyResult {
	parsed := make([]ParsedEmail, len(emails))
	addrs := make([]analyzer.Address, 0, len(emails))
	for i, email := range emails {
		parsed[i] = ParseEmail(email)
		if parsed[i].Valid {
			addrs = append(addrs, analyzer.Address{
				Email:  parsed[i].Raw,
				Local:  parsed[i].Local,
				Domain: parsed[i].Domain,
			})
		}
	}
	anomalies := analyzer.DetectBulkAnomalies(addrs)

	results := make([]models.VerifyResult, len(emails))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.DNSConcurrency)
	for i := range parsed {
		i := i
		g.Go(func() error {
			results[i] = e.verifyOne(gctx, parsed[i], len(emails), anomalies[parsed[i].Raw])
			return nil
		})
	}
	g.Wait()
	return results
}

// domainRecon is the per-domain evidence shared by every address on it.
type domainRecon struct {
	Mx    lookup.MxResult
	MxErr bool
	Intel models.DomainIntel
}

func (e *Engine) verifyOne(ctx context.Context, p ParsedEmail, batchSize int, anomaly bool) models.VerifyResult {
	ev := Evidence{Email: p, BulkAnomaly: anomaly}
	res := models.VerifyResult{Email: p.Raw}

	if !p.Valid {
		res.Status, res.Confidence, res.Notes = Fuse(ev)
		return res
	}
	res.Domain = p.Domain

	if fixed := lookup.SuggestTypoFix(p.Domain); fixed != "" {
		ev.SuggestedEmail = p.Local + "@" + fixed
		res.SuggestedEmail = ev.SuggestedEmail
	}

	recon := e.reconFor(ctx, p.Domain)
	switch {
	case recon.MxErr:
		ev.Mx = models.MxUnknown
	case !recon.Mx.HasMx:
		ev.Mx = models.MxAbsent
	default:
		ev.Mx = models.MxPresent
	}
	ev.ImplicitMx = recon.Mx.ViaImplicitMx
	ev.Intel = recon.Intel
	ev.MajorDomain = lookup.IsMajorProvider(p.Domain)
	ev.Provider = lookup.IdentifyProvider(p.Domain, recon.Mx.Hosts)
	ev.Disposable = lookup.IsDisposableDomain(p.Domain)
	ev.RoleAccount = lookup.IsRoleAccount(p.Local)
	ev.Local = analyzer.AnalyzeLocal(p.Local)

	if ev.Mx == models.MxPresent {
		smtp, notes := e.prober.Probe(ctx, p.Raw, p.Domain, recon.Mx.Hosts)
		ev.Smtp = &smtp
		ev.SmtpNotes = notes
	}

	// Without a deliverable domain every probe answer is discarded by the
	// fusion ladder, so don't spend upstream quota asking.
	if ev.Mx == models.MxPresent {
		ev.Checks = e.runProbes(ctx, p, ev.Provider, smtpVerdict(ev), batchSize)
	}

	if e.bounces != nil {
		n, err := e.bounces.UniqueReporters(ctx, bounce.HashEmail(p.Raw))
		if err != nil {
			log.Printf("[ERROR] bounce lookup for %s: %v", p.Domain, err)
		} else {
			ev.BounceReporters = n
		}
	}

	res.Mx = ev.Mx
	res.Smtp = ev.Smtp
	res.ProviderChecks = ev.Checks
	res.DomainIntel = ev.Intel
	res.Status, res.Confidence, res.Notes = Fuse(ev)
	return res
}

// runProbes decides which upstream identity endpoints to ask. A conclusive
// SMTP answer makes them redundant, with one exception: an identity provider
// can veto a rejection for domains it actually hosts, because enterprise
// gateways sometimes reject probes for mailboxes that exist.
func (e *Engine) runProbes(ctx context.Context, p ParsedEmail, provider lookup.Provider,
	verdict models.SmtpVerdict, batchSize int) models.ProviderChecks {

	var checks models.ProviderChecks

	inconclusive := verdict == models.SmtpError
	veto := verdict == models.SmtpRejected && provider != lookup.ProviderGeneric

	if inconclusive || veto {
		switch provider {
		case lookup.ProviderMicrosoft:
			checks.Microsoft = e.probes.CheckMicrosoft(ctx, p.Raw)
		case lookup.ProviderGoogle:
			checks.Google = e.probes.CheckGoogle(ctx, p.Raw, p.Domain)
		case lookup.ProviderApple:
			checks.Apple = e.probes.CheckApple(ctx, p.Raw)
		}
	}

	if !inconclusive {
		return checks
	}

	// OSINT probes only help when SMTP told us nothing.
	checks.Gravatar = e.probes.CheckGravatar(ctx, p.Raw)
	checks.PGP = e.probes.CheckPGP(ctx, p.Raw)
	checks.HIBP = e.probes.CheckHIBP(ctx, p.Raw)
	if batchSize == 1 {
		// The GitHub search API allows ~10 unauthenticated calls a minute,
		// far too few for bulk runs.
		checks.GitHub = e.probes.CheckGitHub(ctx, p.Raw)
	}
	return checks
}

// reconFor resolves MX and collects domain intel once per domain per TTL,
// no matter how many batch members share it.
func (e *Engine) reconFor(ctx context.Context, domain string) domainRecon {
	key := "recon:" + domain
	if cached, ok := e.store.Get(key); ok {
		return cached.(domainRecon)
	}

	v, _, _ := e.group.Do(key, func() (interface{}, error) {
		if cached, ok := e.store.Get(key); ok {
			return cached.(domainRecon), nil
		}
		recon := e.collectRecon(ctx, domain)
		// Lookup failures are retried on the next request instead of being
		// pinned in the cache for the full TTL.
		if !recon.MxErr {
			e.store.Set(key, recon, e.cfg.DNSCacheTTL)
		}
		return recon, nil
	})
	return v.(domainRecon)
}

func (e *Engine) collectRecon(ctx context.Context, domain string) domainRecon {
	var recon domainRecon

	mx, err := e.resolver.LookupMX(ctx, domain)
	if err != nil {
		log.Printf("[DEBUG] MX lookup failed for %s: %v", domain, err)
		recon.MxErr = true
		return recon
	}
	recon.Mx = mx
	if !mx.HasMx {
		return recon
	}

	recon.Intel = e.collectIntel(ctx, domain, mx.Hosts)
	return recon
}

// collectIntel runs the reputation collectors in parallel. Each one degrades
// to nil on failure; intel never blocks a verdict.
func (e *Engine) collectIntel(ctx context.Context, domain string, mxHosts []string) models.DomainIntel {
	key := "intel:" + domain
	if cached, ok := e.store.Get(key); ok {
		return cached.(models.DomainIntel)
	}

	var intel models.DomainIntel
	var g errgroup.Group

	g.Go(func() error { intel.HasSPF = lookup.CheckSPF(ctx, e.resolver, domain); return nil })
	g.Go(func() error { intel.HasDMARC = lookup.CheckDMARC(ctx, e.resolver, domain); return nil })
	g.Go(func() error { intel.HasMTASTS = lookup.CheckMTASTS(ctx, e.resolver, domain); return nil })
	g.Go(func() error { intel.HasBIMI = lookup.CheckBIMI(ctx, e.resolver, domain); return nil })
	g.Go(func() error { intel.HasDKIM = e.checkDKIMCached(ctx, domain); return nil })
	g.Go(func() error { intel.HasSaaS = lookup.CheckSaaSTokens(ctx, e.resolver, domain); return nil })
	g.Go(func() error {
		if site := lookup.CheckWebsite(ctx, domain); site != nil {
			intel.WebsiteAlive = &site.Alive
			intel.IsParked = &site.Parked
		}
		return nil
	})
	g.Go(func() error { intel.DomainAgeDays = lookup.CheckDomainAge(ctx, domain); return nil })
	g.Go(func() error {
		if len(mxHosts) > 0 {
			intel.Blacklisted = lookup.CheckDNSBL(ctx, e.resolver, mxHosts[0])
		}
		return nil
	})
	g.Wait()

	e.store.Set(key, intel, e.cfg.DNSCacheTTL)
	return intel
}

// checkDKIMCached keeps the selector scan on its own longer TTL.
func (e *Engine) checkDKIMCached(ctx context.Context, domain string) *bool {
	key := "dkim:" + domain
	if cached, ok := e.store.Get(key); ok {
		return cached.(*bool)
	}
	result := lookup.CheckDKIM(ctx, e.resolver, domain)
	if result != nil {
		e.store.Set(key, result, dkimTTL)
	}
	return result
}
