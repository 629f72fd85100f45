package lookup

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mailprobe/internal/behavior"
	"mailprobe/internal/models"
)

// defaultGreylistDelay is how long we wait before retrying a 4xx greylisting
// refusal on the same host.
const defaultGreylistDelay = 5 * time.Second

// maxMXHosts bounds how many exchangers one probe will walk.
const maxMXHosts = 2

// hostLockIdle matches the behavior cache's retention: a host we have not
// probed in a week does not need its serialization lock either.
const hostLockIdle = 7 * 24 * time.Hour

// SmtpProber walks a full probe session against a domain's mail exchangers:
//
//	banner(220) → EHLO → [STARTTLS → EHLO] → MAIL → RCPT(real) → RCPT(random) → QUIT
//
// The second RCPT uses a high-entropy nonexistent local part; a server that
// accepts both recipients is a catch-all.
type SmtpProber struct {
	HeloDomain string
	MailFrom   string
	Timeout    time.Duration
	Behavior   *behavior.Stats

	// GreylistDelay is the pause before the single retry after a 4xx.
	GreylistDelay time.Duration

	// Dial is injectable for tests; defaults to a plain TCP dialer on :25.
	Dial func(ctx context.Context, host string) (net.Conn, error)

	// Sessions to the same exchanger are serialized so two emails on one
	// domain never race a shared tarpit.
	hostMu sync.Map // host -> *hostLock
}

type hostLock struct {
	sync.Mutex
	lastUsed atomic.Int64 // unix nanos
}

func NewSmtpProber(heloDomain, mailFrom string, timeout time.Duration, stats *behavior.Stats) *SmtpProber {
	p := &SmtpProber{
		HeloDomain:    heloDomain,
		MailFrom:      mailFrom,
		Timeout:       timeout,
		Behavior:      stats,
		GreylistDelay: defaultGreylistDelay,
	}
	p.Dial = func(ctx context.Context, host string) (net.Conn, error) {
		d := net.Dialer{Timeout: p.Timeout}
		return d.DialContext(ctx, "tcp", net.JoinHostPort(host, "25"))
	}
	return p
}

// Probe tries up to the first two MX hosts and returns the first non-error
// verdict, plus any explanatory notes. All failure paths converge on an
// error verdict carrying the last host tried; nothing is ever thrown.
func (p *SmtpProber) Probe(ctx context.Context, email, domain string, mxHosts []string) (models.SmtpResult, []string) {
	hosts := mxHosts
	if len(hosts) > maxMXHosts {
		hosts = hosts[:maxMXHosts]
	}

	var notes []string
	last := models.SmtpResult{Verdict: models.SmtpError}

	for _, host := range hosts {
		res := p.probeHost(ctx, email, domain, host)
		last = res

		if res.Verdict == models.SmtpError {
			continue
		}

		if p.Behavior != nil {
			p.Behavior.Record(host, res.Verdict)
			if res.Verdict == models.SmtpAccepted && p.Behavior.SuspectedCatchAll(host) {
				res.Verdict = models.SmtpCatchAll
				notes = append(notes, "Server has historically accepted all recipients (suspected catch-all)")
			}
		}
		if IsStrictGateway(host) {
			notes = append(notes, "Domain is protected by an enterprise mail gateway")
		}
		return res, notes
	}

	if p.Behavior != nil && last.Host != "" {
		p.Behavior.Record(last.Host, last.Verdict)
	}
	return last, notes
}

// probeHost runs the session against a single exchanger, retrying once after
// a delay when the host greylists the real recipient.
func (p *SmtpProber) probeHost(ctx context.Context, email, domain, host string) models.SmtpResult {
	mu := p.lockFor(host)
	mu.Lock()
	defer mu.Unlock()

	res := p.session(ctx, email, domain, host)
	if res.Verdict != models.SmtpGreylisted {
		return res
	}

	select {
	case <-time.After(p.GreylistDelay):
	case <-ctx.Done():
		return res
	}

	retry := p.session(ctx, email, domain, host)
	if retry.Verdict == models.SmtpError {
		// First pass told us more than a dead retry.
		return res
	}
	return retry
}

func (p *SmtpProber) lockFor(host string) *hostLock {
	v, _ := p.hostMu.LoadOrStore(host, &hostLock{})
	hl := v.(*hostLock)
	hl.lastUsed.Store(time.Now().UnixNano())
	return hl
}

// Sweep drops serialization locks for exchangers not probed recently. A lock
// is only removed when nobody holds it; a caller that kept a stale reference
// still serializes against itself, and the next probe mints a fresh lock.
func (p *SmtpProber) Sweep() {
	cutoff := time.Now().Add(-hostLockIdle).UnixNano()
	p.hostMu.Range(func(key, value interface{}) bool {
		hl := value.(*hostLock)
		if hl.lastUsed.Load() < cutoff && hl.TryLock() {
			p.hostMu.Delete(key)
			hl.Unlock()
		}
		return true
	})
}

// StartSweep evicts idle host locks periodically until ctx is cancelled.
func (p *SmtpProber) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// session is one TCP connection walking the full state machine.
func (p *SmtpProber) session(ctx context.Context, email, domain, host string) models.SmtpResult {
	res := models.SmtpResult{Verdict: models.SmtpError, Host: host}

	conn, err := p.Dial(ctx, host)
	if err != nil {
		return res
	}
	defer conn.Close()

	slow := IsStrictGateway(host)
	tp := textproto.NewConn(conn)
	defer tp.Close()

	deadline := func() { conn.SetDeadline(time.Now().Add(p.Timeout)) }
	pace := func() error {
		if !slow {
			return nil
		}
		select {
		case <-time.After(1 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Banner
	deadline()
	_, banner, err := tp.ReadResponse(220)
	if err != nil {
		return res
	}
	res.Banner = firstLine(banner)

	// EHLO
	if err := pace(); err != nil {
		return res
	}
	deadline()
	if _, err := tp.Cmd("EHLO %s", p.HeloDomain); err != nil {
		return res
	}
	deadline()
	_, ehlo, err := tp.ReadResponse(250)
	if err != nil {
		return res
	}

	// Opportunistic STARTTLS. We are probing, not sending, so certificate
	// validation stays off. A refusal mid-session falls through to plaintext.
	if advertisesStartTLS(ehlo) {
		deadline()
		if _, err := tp.Cmd("STARTTLS"); err != nil {
			return res
		}
		deadline()
		if _, _, err := tp.ReadResponse(220); err == nil {
			tlsConn := tls.Client(conn, &tls.Config{
				ServerName:         strings.TrimSuffix(host, "."),
				InsecureSkipVerify: true,
			})
			tlsConn.SetDeadline(time.Now().Add(p.Timeout))
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				return res
			}
			// The framer re-attaches to the upgraded transport; the old
			// buffer must not survive the switch.
			conn = tlsConn
			tp = textproto.NewConn(tlsConn)
			deadline = func() { tlsConn.SetDeadline(time.Now().Add(p.Timeout)) }

			deadline()
			if _, err := tp.Cmd("EHLO %s", p.HeloDomain); err != nil {
				return res
			}
			deadline()
			if _, _, err := tp.ReadResponse(250); err != nil {
				return res
			}
		}
	}

	// MAIL FROM
	if err := pace(); err != nil {
		return res
	}
	deadline()
	if _, err := tp.Cmd("MAIL FROM:<%s>", p.MailFrom); err != nil {
		return res
	}
	deadline()
	if _, _, err := tp.ReadResponse(250); err != nil {
		return res
	}

	// RCPT TO the real address.
	if err := pace(); err != nil {
		return res
	}
	deadline()
	start := time.Now()
	if _, err := tp.Cmd("RCPT TO:<%s>", email); err != nil {
		return res
	}
	deadline()
	realCode, realMsg, err := readAnyResponse(tp)
	res.RealLatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		return res
	}
	res.Code = realCode

	switch {
	case realCode >= 200 && realCode < 300:
		// Fall through to the random probe below.
	case realCode >= 400 && realCode < 500:
		res.Verdict = models.SmtpGreylisted
		tp.Cmd("QUIT")
		return res
	default:
		if isUserUnknownReply(realMsg) {
			res.Verdict = models.SmtpRejected
		} else {
			// A 5xx that doesn't name the user is policy, not proof the
			// mailbox is missing.
			res.Verdict = models.SmtpError
		}
		tp.Cmd("QUIT")
		return res
	}

	// RCPT TO a recipient that cannot exist. A second 2xx means the server
	// accepts anything.
	if err := pace(); err != nil {
		return res
	}
	deadline()
	start = time.Now()
	if _, err := tp.Cmd("RCPT TO:<%s>", randomProbeAddress(domain)); err != nil {
		return res
	}
	deadline()
	randCode, _, err := readAnyResponse(tp)
	res.RandLatencyMs = time.Since(start).Milliseconds()
	tp.Cmd("QUIT")
	if err != nil {
		return res
	}

	if randCode >= 200 && randCode < 300 {
		res.Verdict = models.SmtpCatchAll
	} else {
		res.Verdict = models.SmtpAccepted
	}
	return res
}

// readAnyResponse reads the next (possibly multi-line) reply without
// expecting a particular code.
func readAnyResponse(tp *textproto.Conn) (int, string, error) {
	code, msg, err := tp.ReadResponse(0)
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) {
			return tpErr.Code, tpErr.Msg, nil
		}
		return 0, "", err
	}
	return code, msg, nil
}

func advertisesStartTLS(ehloReply string) bool {
	for _, line := range strings.Split(ehloReply, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "STARTTLS") {
			return true
		}
	}
	return false
}

// randomProbeAddress builds a high-entropy local part that no sane mail
// system would have provisioned.
func randomProbeAddress(domain string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("xvrf-%d-fallback-nonexist@%s", time.Now().UnixNano(), domain)
	}
	return fmt.Sprintf("xvrf-%d-%s-nonexist@%s", time.Now().Unix(), hex.EncodeToString(b), domain)
}

// Keywords that mean the server rejected us, not the mailbox. Checked before
// the user-unknown set so a policy block never reads as a missing user.
var policyKeywords = []string{
	"spam", "block", "banned", "blacklisted", "policy",
	"relay", "access denied", "rejected by network", "unauthenticated",
	"reputation", "spf", "dmarc", "dkim", "quota",
	"rate limit", "temporarily", "reverse dns", "ptr",
	"spamhaus", "client host rejected", "not permitted", "greylist",
}

// Phrases that explicitly say the mailbox does not exist.
var userUnknownKeywords = []string{
	"5.1.1", "5.1.0",
	"user unknown", "does not exist", "mailbox not found",
	"no such user", "undeliverable", "unknown user",
	"recipient rejected", "invalid mailbox", "not a valid mailbox",
	"mailbox unavailable", "unrouteable address", "no mailbox here",
	"bad destination", "address rejected", "user not found",
}

// isUserUnknownReply decides whether a 5xx reply text actually names a
// missing mailbox, as opposed to a policy rejection.
func isUserUnknownReply(msg string) bool {
	text := strings.ToLower(msg)
	for _, kw := range policyKeywords {
		if strings.Contains(text, kw) {
			return false
		}
	}
	for _, kw := range userUnknownKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
