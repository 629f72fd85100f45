package lookup

import "strings"

// Common disposable domains
var disposableDomains = map[string]struct{}{
	"temp-mail.org": {}, "10minutemail.com": {}, "guerrillamail.com": {},
	"mailinator.com": {}, "yopmail.com": {}, "throwawaymail.com": {},
	"tempmail.net": {}, "sharklasers.com": {}, "dispostable.com": {},
	"trashmail.com": {}, "getnada.com": {}, "maildrop.cc": {},
}

// Common role-based prefixes
var roleAccounts = map[string]bool{
	"admin": true, "support": true, "info": true, "sales": true,
	"contact": true, "help": true, "office": true, "marketing": true,
	"jobs": true, "billing": true, "abuse": true, "postmaster": true,
	"noreply": true, "no-reply": true, "webmaster": true, "hostmaster": true,
	"hr": true, "team": true, "security": true,
}

// Consumer mailbox hosts known to block RCPT-based probing.
var majorProviderDomains = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {},
	"outlook.com": {}, "hotmail.com": {}, "live.com": {}, "msn.com": {},
	"yahoo.com": {}, "ymail.com": {}, "rocketmail.com": {},
	"icloud.com": {}, "me.com": {}, "mac.com": {},
	"aol.com": {}, "proton.me": {}, "protonmail.com": {},
}

// Provider identifies which identity probe applies to a domain.
type Provider string

const (
	ProviderMicrosoft Provider = "microsoft"
	ProviderGoogle    Provider = "google"
	ProviderApple     Provider = "apple"
	ProviderGeneric   Provider = "generic"
)

var consumerProviderDomains = map[string]Provider{
	"gmail.com": ProviderGoogle, "googlemail.com": ProviderGoogle,
	"outlook.com": ProviderMicrosoft, "hotmail.com": ProviderMicrosoft,
	"live.com": ProviderMicrosoft, "msn.com": ProviderMicrosoft,
	"icloud.com": ProviderApple, "me.com": ProviderApple, "mac.com": ProviderApple,
}

// MX hostname suffixes that reveal the hosting provider of a custom domain.
var providerMXPatterns = []struct {
	pattern  string
	provider Provider
}{
	{".mail.protection.outlook.com", ProviderMicrosoft},
	{".olc.protection.outlook.com", ProviderMicrosoft},
	{"aspmx.l.google.com", ProviderGoogle},
	{".googlemail.com", ProviderGoogle},
	{"smtp.google.com", ProviderGoogle},
	{".mail.icloud.com", ProviderApple},
}

// Strict enterprise gateways tarpit fast sessions, so the prober slows its
// command cadence for them.
var strictGateways = []string{
	"mimecast.com",
	"pphosted.com",
	"barracudanetworks.com",
	"messagelabs.com",
	"iphmx.com",
	"trendmicro.com",
	"mailcontrol.com",
	"mxlogic.net",
	"mx.cloudflare.net",
}

// DKIM selectors worth scanning. Covers Google, Microsoft, and the big
// transactional senders.
var dkimSelectors = []string{
	"default", "google", "selector1", "selector2", "k1", "k2", "k3",
	"dkim", "mail", "smtp", "s1", "s2", "mandrill",
}

// Phrases that identify a registrar parking page.
var parkedPhrases = []string{
	"buy this domain",
	"this domain is for sale",
	"domain is parked",
	"parked free",
	"domain parking",
	"purchase this domain",
	"this website is for sale",
	"renew this domain",
}

// Misspelled consumer domains mapped to what the sender almost certainly meant.
var typoDomains = map[string]string{
	"gmial.com": "gmail.com", "gmal.com": "gmail.com", "gamil.com": "gmail.com",
	"gmaill.com": "gmail.com", "gnail.com": "gmail.com", "gmail.co": "gmail.com",
	"yaho.com": "yahoo.com", "yahooo.com": "yahoo.com", "yaoo.com": "yahoo.com",
	"outlok.com": "outlook.com", "outloook.com": "outlook.com",
	"hotmal.com": "hotmail.com", "hotmial.com": "hotmail.com", "hotmil.com": "hotmail.com",
	"icloud.co": "icloud.com", "iclod.com": "icloud.com",
	"aoll.com": "aol.com", "protonmai.com": "protonmail.com",
	"liv.com": "live.com", "lve.com": "live.com",
}

// IsDisposableDomain checks if the domain is a known burner provider.
func IsDisposableDomain(domain string) bool {
	_, exists := disposableDomains[strings.ToLower(domain)]
	return exists
}

// IsRoleAccount checks if the local part is a generic function/role.
func IsRoleAccount(local string) bool {
	return roleAccounts[strings.ToLower(local)]
}

// IsMajorProvider reports whether the domain is a consumer mailbox host that
// blocks RCPT probing.
func IsMajorProvider(domain string) bool {
	_, ok := majorProviderDomains[strings.ToLower(domain)]
	return ok
}

// IdentifyProvider classifies who hosts the mailbox: by static consumer set
// first, then by MX hostname pattern for custom domains.
func IdentifyProvider(domain string, mxHosts []string) Provider {
	if p, ok := consumerProviderDomains[strings.ToLower(domain)]; ok {
		return p
	}
	for _, host := range mxHosts {
		h := strings.ToLower(strings.TrimSuffix(host, "."))
		for _, pat := range providerMXPatterns {
			if strings.HasSuffix(h, pat.pattern) || h == strings.TrimPrefix(pat.pattern, ".") {
				return pat.provider
			}
		}
	}
	return ProviderGeneric
}

// IsStrictGateway reports whether the MX host belongs to an enterprise
// security gateway with aggressive tarpitting.
func IsStrictGateway(mxHost string) bool {
	h := strings.ToLower(mxHost)
	for _, gw := range strictGateways {
		if strings.Contains(h, gw) {
			return true
		}
	}
	return false
}

// SuggestTypoFix returns the canonical domain for a known misspelling, or ""
// when the domain is not in the typo map.
func SuggestTypoFix(domain string) string {
	return typoDomains[strings.ToLower(domain)]
}
