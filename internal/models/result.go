package models

type VerificationStatus string

const (
	StatusValid   VerificationStatus = "valid"
	StatusRisky   VerificationStatus = "risky"
	StatusInvalid VerificationStatus = "invalid"
	StatusUnknown VerificationStatus = "unknown"
)

// SmtpVerdict is the terminal outcome of one SMTP probe session.
type SmtpVerdict string

const (
	SmtpAccepted   SmtpVerdict = "accepted"
	SmtpRejected   SmtpVerdict = "rejected"
	SmtpCatchAll   SmtpVerdict = "catch-all"
	SmtpGreylisted SmtpVerdict = "greylisted"
	SmtpError      SmtpVerdict = "error"
)

// SmtpResult carries everything the prober learned from one target host.
type SmtpResult struct {
	Verdict       SmtpVerdict `json:"verdict"`
	Code          int         `json:"code,omitempty"`
	Host          string      `json:"host,omitempty"`
	Banner        string      `json:"banner,omitempty"`
	RealLatencyMs int64       `json:"real_latency_ms,omitempty"`
	RandLatencyMs int64       `json:"random_latency_ms,omitempty"`
}

// ProviderChecks holds tri-state probe outcomes. nil means the probe was
// skipped or inconclusive, never a definitive no.
type ProviderChecks struct {
	Microsoft *bool `json:"microsoft"`
	Google    *bool `json:"google"`
	Apple     *bool `json:"apple"`
	Gravatar  *bool `json:"gravatar"`
	GitHub    *bool `json:"github"`
	PGP       *bool `json:"pgp"`
	HIBP      *bool `json:"hibp"`
}

// DomainIntel groups the best-effort domain signals. Pointer fields are nil
// when the collector timed out or errored ("no signal" for fusion).
type DomainIntel struct {
	HasSPF       *bool `json:"has_spf"`
	HasDMARC     *bool `json:"has_dmarc"`
	HasDKIM      *bool `json:"has_dkim"`
	HasMTASTS    *bool `json:"has_mta_sts"`
	HasBIMI      *bool `json:"has_bimi"`
	HasSaaS      *bool `json:"has_saas_tokens"`
	WebsiteAlive *bool `json:"website_alive"`
	IsParked     *bool `json:"is_parked"`
	Blacklisted  *bool `json:"blacklisted"`
	// DomainAgeDays is 0 when RDAP returned nothing, which means "unknown",
	// not "registered today".
	DomainAgeDays int `json:"domain_age_days"`
}

// MxStatus is a tri-state MX presence flag.
type MxStatus string

const (
	MxPresent MxStatus = "present"
	MxAbsent  MxStatus = "absent"
	MxUnknown MxStatus = "unknown"
)

// VerifyResult is the composite verdict for a single address.
type VerifyResult struct {
	Email          string             `json:"email"`
	Domain         string             `json:"domain,omitempty"`
	Mx             MxStatus           `json:"mx"`
	Smtp           *SmtpResult        `json:"smtp,omitempty"`
	Status         VerificationStatus `json:"status"`
	Confidence     int                `json:"confidence"`
	Notes          []string           `json:"notes"`
	SuggestedEmail string             `json:"suggested_email,omitempty"`
	ProviderChecks ProviderChecks     `json:"provider_checks"`
	DomainIntel    DomainIntel        `json:"domain_intel"`
}

// AgentUsage is echoed back to authenticated agents on every verify response.
type AgentUsage struct {
	EmailsVerified int `json:"emailsVerified"`
	Requests       int `json:"requests"`
	DailyLimit     int `json:"dailyLimit"`
	Remaining      int `json:"remaining"`
}

// Agent is the opaque identity attached by the external signature middleware.
type Agent struct {
	UID string `json:"uid"`
}

// True and False build the tri-state pointer fields.
func True() *bool  { b := true; return &b }
func False() *bool { b := false; return &b }
