package main

import (
	"encoding/json"
	"log"
	"net/http"

	"mailprobe/internal/bounce"
	"mailprobe/internal/validator"
)

type bounceRequest struct {
	Email string `json:"email"`
}

// handleBounce records a crowd-sourced bounce report. Only a hash of the
// address is stored; two or more distinct reporter IPs within 30 days turn
// into a fusion note.
func (a *app) handleBounce(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !a.bounceWindow.Allow(ip, a.cfg.BounceRPM) {
		writeError(w, http.StatusTooManyRequests, "bounce report rate limit exceeded")
		return
	}

	var req bounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	parsed := validator.ParseEmail(req.Email)
	if !parsed.Valid {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	if err := a.bounces.Report(r.Context(), bounce.HashEmail(parsed.Raw), ip); err != nil {
		log.Printf("[ERROR] recording bounce report: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to record report")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
