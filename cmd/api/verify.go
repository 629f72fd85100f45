package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mailprobe/internal/limiter"
	"mailprobe/internal/models"
)

type verifyRequest struct {
	Emails []string `json:"emails"`
}

type verifyResponse struct {
	RequestID string                `json:"request_id"`
	Results   []models.VerifyResult `json:"results"`
	// Truncated is how many trailing addresses were dropped because the daily
	// budget could not cover the full batch.
	Truncated int                `json:"truncated,omitempty"`
	Agent     *models.AgentUsage `json:"agent,omitempty"`
}

func (a *app) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if len(req.Emails) == 0 {
		writeError(w, http.StatusBadRequest, "'emails' must be a non-empty array")
		return
	}
	if len(req.Emails) > a.cfg.MaxBatchSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch too large: %d emails (max %d)", len(req.Emails), a.cfg.MaxBatchSize))
		return
	}

	identity, agent, err := a.identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	adm, err := a.gate.Admit(r.Context(), identity, agent != nil, len(req.Emails))
	if err != nil {
		var lerr *limiter.LimitError
		if errors.As(err, &lerr) {
			if lerr.RetryAfter > 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(lerr.RetryAfter/time.Second)))
			}
			writeError(w, lerr.StatusCode, lerr.Reason)
			return
		}
		log.Printf("[ERROR] admission for %s: %v", identity, err)
		writeError(w, http.StatusInternalServerError, "admission check failed")
		return
	}
	defer adm.Release()

	reqID := uuid.New().String()
	emails := req.Emails[:adm.Granted]

	start := time.Now()
	results := a.engine.VerifyBatch(r.Context(), emails)
	log.Printf("[DEBUG] %s: %d emails verified in %s for %s", reqID, len(emails), time.Since(start), identity)

	resp := verifyResponse{
		RequestID: reqID,
		Results:   results,
		Truncated: len(req.Emails) - adm.Granted,
	}
	if agent != nil {
		if used, limit, requests, err := a.gate.Usage(r.Context(), identity, true); err == nil {
			resp.Agent = &models.AgentUsage{
				EmailsVerified: used,
				Requests:       requests,
				DailyLimit:     limit,
				Remaining:      limit - used,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
