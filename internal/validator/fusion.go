package validator

import (
	"fmt"

	"mailprobe/internal/analyzer"
	"mailprobe/internal/lookup"
	"mailprobe/internal/models"
)

// Confidence baselines by SMTP verdict, and the floors/ceilings the identity
// probes impose on top. The engine never claims more than maxConfidence.
const (
	maxConfidence = 97

	baseAccepted      = 85
	baseRejected      = 3
	baseCatchAll      = 45
	baseGreylisted    = 40
	baseInconclusive  = 35
	baseMajorProvider = 65

	floorMicrosoft = 93
	floorGoogle    = 94
	floorApple     = 93
	floorGravatar  = 80
	floorGitHub    = 82
	floorPGP       = 80
	floorHIBP      = 78

	ceilProviderNegative = 5
	ceilInvalid          = 5
	capDisposable        = 25

	implicitMxPenalty  = 15
	roleAccountPenalty = 10
)

// Evidence is everything the collectors learned about one address. Fuse is a
// pure function of this struct: same evidence, same verdict.
type Evidence struct {
	Email       ParsedEmail
	Mx          models.MxStatus
	ImplicitMx  bool
	Smtp        *models.SmtpResult
	SmtpNotes   []string
	Provider    lookup.Provider
	MajorDomain bool
	Checks      models.ProviderChecks
	Intel       models.DomainIntel
	Local       analyzer.LocalAnalysis
	Disposable  bool
	RoleAccount bool
	BulkAnomaly bool
	// BounceReporters counts distinct IPs that reported this address bounced
	// in the last 30 days.
	BounceReporters int
	SuggestedEmail  string
}

// Fuse computes the final status, confidence, and explanatory notes.
func Fuse(ev Evidence) (models.VerificationStatus, int, []string) {
	var notes []string

	if !ev.Email.Valid {
		return models.StatusInvalid, 0, []string{"Invalid syntax"}
	}

	if ev.SuggestedEmail != "" {
		notes = append(notes, fmt.Sprintf("Did you mean %s?", domainOf(ev.SuggestedEmail)))
	}

	switch ev.Mx {
	case models.MxUnknown:
		notes = append(notes, "DNS lookup failed; domain state unknown")
		return models.StatusUnknown, 10, notes
	case models.MxAbsent:
		notes = append(notes, "Domain has no mail servers")
		return models.StatusInvalid, 2, notes
	}

	status := decideStatus(ev)
	confidence, scoreNotes := scoreConfidence(ev)
	notes = append(notes, scoreNotes...)
	notes = append(notes, ev.SmtpNotes...)

	// On a catch-all, a server that deliberates much longer over the real
	// recipient than the random one likely consulted a mailbox table.
	if ev.Smtp != nil && ev.Smtp.Verdict == models.SmtpCatchAll &&
		ev.Smtp.RandLatencyMs > 0 && ev.Smtp.RealLatencyMs > ev.Smtp.RandLatencyMs+1000 {
		notes = append(notes, "Real recipient took notably longer than the random probe")
	}

	if ev.BulkAnomaly {
		notes = append(notes, "Does not match the naming pattern of the rest of the batch")
	}
	if ev.BounceReporters >= 2 {
		notes = append(notes, fmt.Sprintf("Reported as bouncing by %d independent sources", ev.BounceReporters))
	}

	if status == models.StatusInvalid && confidence > ceilInvalid {
		confidence = ceilInvalid
	}
	return status, clamp(confidence), notes
}

// decideStatus walks the status ladder top to bottom; first match wins.
func decideStatus(ev Evidence) models.VerificationStatus {
	verdict := smtpVerdict(ev)
	providerYes := isTrue(ev.Checks.Microsoft) || isTrue(ev.Checks.Google) || isTrue(ev.Checks.Apple)
	providerNo := isFalse(ev.Checks.Microsoft) || isFalse(ev.Checks.Google) || isFalse(ev.Checks.Apple)
	riskFlag := ev.Disposable || ev.RoleAccount

	switch {
	case verdict == models.SmtpRejected && !providerYes:
		return models.StatusInvalid
	case providerNo:
		// A definitive negative from the mailbox's own identity provider
		// overrides everything, including an accepted RCPT.
		return models.StatusInvalid
	case providerYes && !riskFlag:
		return models.StatusValid
	case verdict == models.SmtpCatchAll || verdict == models.SmtpGreylisted:
		return models.StatusRisky
	case riskFlag:
		return models.StatusRisky
	case verdict == models.SmtpAccepted:
		return models.StatusValid
	case isTrue(ev.Checks.Gravatar) || isTrue(ev.Checks.GitHub) ||
		isTrue(ev.Checks.PGP) || isTrue(ev.Checks.HIBP):
		return models.StatusValid
	case ev.MajorDomain && (verdict == models.SmtpError || ev.Smtp == nil):
		// Major consumer providers block RCPT probing; an inconclusive SMTP
		// there is the expected outcome for a real mailbox.
		return models.StatusValid
	default:
		return models.StatusUnknown
	}
}

// scoreConfidence starts from the SMTP baseline and folds in every signal.
func scoreConfidence(ev Evidence) (int, []string) {
	var notes []string
	verdict := smtpVerdict(ev)

	score := 0
	switch verdict {
	case models.SmtpAccepted:
		score = baseAccepted
		notes = append(notes, "Mail server accepted the recipient")
	case models.SmtpRejected:
		score = baseRejected
		notes = append(notes, "Mail server rejected the recipient as unknown")
	case models.SmtpCatchAll:
		score = baseCatchAll
		notes = append(notes, "Domain accepts any recipient (catch-all)")
	case models.SmtpGreylisted:
		score = baseGreylisted
		notes = append(notes, "Mail server greylisted the probe; existence unconfirmed")
	default:
		if ev.MajorDomain {
			score = baseMajorProvider
			notes = append(notes, "Major provider blocks mailbox probing")
		} else {
			score = baseInconclusive
		}
	}

	if ev.ImplicitMx && score > 50 {
		score -= implicitMxPenalty
		notes = append(notes, "Domain relies on implicit MX (no MX records)")
	}

	// Domain hygiene signals.
	if isTrue(ev.Intel.HasSPF) && isTrue(ev.Intel.HasDMARC) {
		score += 3
	} else if isFalse(ev.Intel.HasSPF) && isFalse(ev.Intel.HasDMARC) {
		score -= 10
		notes = append(notes, "Domain publishes neither SPF nor DMARC")
	}
	if isFalse(ev.Intel.WebsiteAlive) {
		score -= 10
		notes = append(notes, "Domain website is unreachable")
	}
	if isTrue(ev.Intel.IsParked) {
		score -= 15
		notes = append(notes, "Domain website appears to be parked")
	}
	if isTrue(ev.Intel.Blacklisted) {
		score -= 20
		notes = append(notes, "Mail server is listed on a DNS blacklist")
	}
	if ev.Intel.DomainAgeDays > 0 && ev.Intel.DomainAgeDays < 30 {
		score -= 15
		notes = append(notes, fmt.Sprintf("Domain is only %d days old", ev.Intel.DomainAgeDays))
	}
	if isTrue(ev.Intel.HasSaaS) {
		notes = append(notes, "Domain carries business SaaS verification tokens")
	}

	// Local-part shape.
	if !ev.Local.LooksHuman {
		score -= 10
		notes = append(notes, "Local part does not look like a person's address")
	}
	if len(ev.Local.Flags) > 0 {
		score -= 5
		notes = append(notes, ev.Local.Flags...)
	}

	// Identity-provider verdicts come after the baseline and signal
	// adjustments: a definitive answer beats heuristics.
	if isFalse(ev.Checks.Microsoft) || isFalse(ev.Checks.Google) || isFalse(ev.Checks.Apple) {
		if score > ceilProviderNegative {
			score = ceilProviderNegative
		}
		notes = append(notes, "Identity provider reports no such account")
	}
	score = applyFloor(score, ev.Checks.Microsoft, floorMicrosoft, "Microsoft confirms the account exists", &notes)
	score = applyFloor(score, ev.Checks.Google, floorGoogle, "Google confirms the account exists", &notes)
	score = applyFloor(score, ev.Checks.Apple, floorApple, "Apple confirms the account exists", &notes)
	score = applyFloor(score, ev.Checks.Gravatar, floorGravatar, "Address has a Gravatar profile", &notes)
	score = applyFloor(score, ev.Checks.GitHub, floorGitHub, "Address appears on a GitHub profile", &notes)
	score = applyFloor(score, ev.Checks.PGP, floorPGP, "Address has a published PGP key", &notes)
	score = applyFloor(score, ev.Checks.HIBP, floorHIBP, "Address appears in known data breaches", &notes)

	// Risk flags apply last, so a disposable mailbox can never score high on
	// the back of a provider floor.
	if ev.Disposable {
		if score > capDisposable {
			score = capDisposable
		}
		notes = append(notes, "Disposable email provider")
	}
	if ev.RoleAccount {
		score -= roleAccountPenalty
		notes = append(notes, "Role-based address")
	}

	return score, notes
}

func applyFloor(score int, check *bool, floor int, note string, notes *[]string) int {
	if !isTrue(check) {
		return score
	}
	*notes = append(*notes, note)
	if score < floor {
		return floor
	}
	return score
}

func smtpVerdict(ev Evidence) models.SmtpVerdict {
	if ev.Smtp == nil {
		return models.SmtpError
	}
	return ev.Smtp.Verdict
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxConfidence {
		return maxConfidence
	}
	return score
}

func isTrue(b *bool) bool  { return b != nil && *b }
func isFalse(b *bool) bool { return b != nil && !*b }

func domainOf(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return email
}
