package lookup

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var sharedClient = &http.Client{
	Timeout: 20 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// sharedNoRedirectClient reuses the same Transport (and connection pool) but
// does not follow redirects, for probes where the redirect itself is the
// signal.
var sharedNoRedirectClient = &http.Client{
	Timeout: 15 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
	Transport: sharedClient.Transport,
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

func getRandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// ProviderProbes queries the third-party identity endpoints. Each provider
// has its own minimum spacing between consecutive calls, enforced process-wide
// so a burst of requests never hammers one upstream.
type ProviderProbes struct {
	HIBPKey string
	pacing  map[string]*rate.Limiter
}

func NewProviderProbes(hibpKey string) *ProviderProbes {
	spacing := map[string]time.Duration{
		"microsoft": 500 * time.Millisecond,
		"google":    3 * time.Second,
		"apple":     2 * time.Second,
		"gravatar":  200 * time.Millisecond,
		"github":    6500 * time.Millisecond,
		"pgp":       300 * time.Millisecond,
		"hibp":      1600 * time.Millisecond,
	}
	pacing := make(map[string]*rate.Limiter, len(spacing))
	for name, d := range spacing {
		// Burst 1: calls to one provider are spaced and FIFO-serialized.
		pacing[name] = rate.NewLimiter(rate.Every(d), 1)
	}
	return &ProviderProbes{HIBPKey: hibpKey, pacing: pacing}
}

func (p *ProviderProbes) wait(ctx context.Context, provider string) bool {
	return p.pacing[provider].Wait(ctx) == nil
}

// CheckMicrosoft posts the address to the GetCredentialType endpoint.
// IfExistsResult 0/5/6 means the identity exists, 1 means it does not;
// anything else is inconclusive.
func (p *ProviderProbes) CheckMicrosoft(ctx context.Context, email string) *bool {
	if !p.wait(ctx, "microsoft") {
		return nil
	}

	payload, _ := json.Marshal(map[string]string{"username": email})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://login.microsoftonline.com/common/GetCredentialType", bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", getRandomUserAgent())

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var body struct {
		IfExistsResult int `json:"IfExistsResult"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}

	switch body.IfExistsResult {
	case 0, 5, 6:
		return boolPtr(true)
	case 1:
		return boolPtr(false)
	default:
		return nil
	}
}

// CheckGoogle abuses the Android device-auth endpoint. The error token in the
// body tells the account apart: NeedsBrowser means a real account hit an
// interactive wall, INVALID_EMAIL means no such account. BadAuthentication is
// only trustworthy for consumer gmail addresses; Workspace domains return it
// for existent and nonexistent users alike.
func (p *ProviderProbes) CheckGoogle(ctx context.Context, email, domain string) *bool {
	if !p.wait(ctx, "google") {
		return nil
	}

	form := url.Values{
		"Email":       {email},
		"Passwd":      {"probe"},
		"accountType": {"HOSTED_OR_GOOGLE"},
		"service":     {"ac2dm"},
		"source":      {"android"},
		"androidId":   {"3281f33679ccc6c6"},
		"lang":        {"en"},
		"sdk_version": {"21"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://android.clients.google.com/auth", strings.NewReader(form.Encode()))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "GoogleAuth/1.4")

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil
	}
	body := buf.String()

	switch {
	case strings.Contains(body, "NeedsBrowser"),
		strings.Contains(body, "DeviceManagementRequiredOrSyncDisabled"):
		return boolPtr(true)
	case strings.Contains(body, "INVALID_EMAIL"):
		return boolPtr(false)
	case strings.Contains(body, "BadAuthentication"):
		d := strings.ToLower(domain)
		if d == "gmail.com" || d == "googlemail.com" {
			return boolPtr(true)
		}
		return nil
	default:
		return nil
	}
}

// CheckApple posts to the federate endpoint; an account that exists carries
// hasSWP in the response.
func (p *ProviderProbes) CheckApple(ctx context.Context, email string) *bool {
	if !p.wait(ctx, "apple") {
		return nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"accountName": email,
		"rememberMe":  false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://appleid.apple.com/appleauth/auth/federate", bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", getRandomUserAgent())

	resp, err := sharedNoRedirectClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var body struct {
		HasSWP bool `json:"hasSWP"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	return boolPtr(body.HasSWP)
}

// CheckGravatar HEADs the avatar URL with d=404 so a missing profile answers
// with a clean 404.
func (p *ProviderProbes) CheckGravatar(ctx context.Context, email string) *bool {
	if !p.wait(ctx, "gravatar") {
		return nil
	}

	clean := strings.TrimSpace(strings.ToLower(email))
	hash := fmt.Sprintf("%x", md5.Sum([]byte(clean)))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead,
		"https://gravatar.com/avatar/"+hash+"?d=404", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", getRandomUserAgent())

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return boolPtr(true)
	case http.StatusNotFound:
		return boolPtr(false)
	default:
		return nil
	}
}

// CheckGitHub searches public users by email. The search API rate limit is
// brutal, so the orchestrator only enables this for single-address batches.
func (p *ProviderProbes) CheckGitHub(ctx context.Context, email string) *bool {
	if !p.wait(ctx, "github") {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.github.com/search/users?q="+url.QueryEscape(email)+"+in:email", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", getRandomUserAgent())

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var body struct {
		TotalCount int `json:"total_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	return boolPtr(body.TotalCount > 0)
}

// CheckPGP HEADs the keys.openpgp.org by-email endpoint.
func (p *ProviderProbes) CheckPGP(ctx context.Context, email string) *bool {
	if !p.wait(ctx, "pgp") {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead,
		"https://keys.openpgp.org/vks/v1/by-email/"+url.PathEscape(email), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", getRandomUserAgent())

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return boolPtr(true)
	case http.StatusNotFound:
		return boolPtr(false)
	default:
		return nil
	}
}

// CheckHIBP asks Have I Been Pwned whether the address has appeared in a
// breach. Requires an API key; without one the probe is skipped entirely.
func (p *ProviderProbes) CheckHIBP(ctx context.Context, email string) *bool {
	if p.HIBPKey == "" {
		return nil
	}
	if !p.wait(ctx, "hibp") {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://haveibeenpwned.com/api/v3/breachedaccount/"+url.PathEscape(email)+"?truncateResponse=true", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("hibp-api-key", p.HIBPKey)
	req.Header.Set("User-Agent", "mailprobe-verifier")

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return boolPtr(true)
	case http.StatusNotFound:
		return boolPtr(false)
	default:
		return nil
	}
}

func boolPtr(b bool) *bool { return &b }
