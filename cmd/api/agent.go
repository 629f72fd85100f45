package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"

	"mailprobe/internal/models"
)

// Agent identity rides on these headers. The signature scheme itself lives
// outside this service; the verifier below is an injectable contract.
const (
	agentUIDHeader       = "X-Agent-UID"
	agentSignatureHeader = "X-Agent-Signature"
)

// AgentVerifier authenticates a request claiming to be an agent. A nil
// verifier means the deployment runs on IP identity only.
type AgentVerifier interface {
	Verify(r *http.Request) (models.Agent, error)
}

// sharedKeyVerifier is the built-in fallback: one static key shared with all
// agents, compared in constant time. Production deployments inject a real
// signature verifier instead.
type sharedKeyVerifier struct {
	key string
}

func (v *sharedKeyVerifier) Verify(r *http.Request) (models.Agent, error) {
	uid := strings.TrimSpace(r.Header.Get(agentUIDHeader))
	sig := strings.TrimSpace(r.Header.Get(agentSignatureHeader))
	if uid == "" || sig == "" {
		return models.Agent{}, errors.New("missing agent headers")
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(v.key)) != 1 {
		return models.Agent{}, errors.New("invalid agent signature")
	}
	return models.Agent{UID: uid}, nil
}

func loadAgentVerifier() AgentVerifier {
	if key := os.Getenv("AGENT_SHARED_KEY"); key != "" {
		return &sharedKeyVerifier{key: key}
	}
	return nil
}

// identify resolves the caller to an identity string for the admission gates.
// Agent UID wins over IP. Carrying signature headers when no verifier is
// configured is an authentication failure, not a silent downgrade to IP.
func (a *app) identify(r *http.Request) (string, *models.Agent, error) {
	hasAgentHeaders := r.Header.Get(agentUIDHeader) != "" || r.Header.Get(agentSignatureHeader) != ""
	if hasAgentHeaders {
		if a.verifier == nil {
			return "", nil, errors.New("agent authentication not configured")
		}
		agent, err := a.verifier.Verify(r)
		if err != nil {
			return "", nil, err
		}
		return "agent:" + agent.UID, &agent, nil
	}
	return "ip:" + clientIP(r), nil, nil
}

// clientIP extracts the caller's address: first X-Forwarded-For hop, then
// X-Real-IP, then "unknown". RemoteAddr is not consulted because the service
// always sits behind a proxy that sets these headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return "unknown"
}

// handleAgentUsage reports today's consumption for the authenticated agent.
func (a *app) handleAgentUsage(w http.ResponseWriter, r *http.Request) {
	identity, agent, err := a.identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "agent authentication required")
		return
	}

	used, limit, requests, err := a.gate.Usage(r.Context(), identity, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "usage lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, models.AgentUsage{
		EmailsVerified: used,
		Requests:       requests,
		DailyLimit:     limit,
		Remaining:      limit - used,
	})
}
