package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// CheckDomainAge queries RDAP for the registration event and returns the
// domain's age in whole days. rdap.org bootstraps to the right TLD server.
// Returns 0 when the age cannot be determined.
func CheckDomainAge(ctx context.Context, domain string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://rdap.org/domain/"+domain, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := sharedClient.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0
	}

	var rdap struct {
		Events []struct {
			Action string `json:"eventAction"`
			Date   string `json:"eventDate"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rdap); err != nil {
		return 0
	}

	var created time.Time
	for _, event := range rdap.Events {
		if event.Action == "registration" || event.Action == "creation" {
			if t, err := time.Parse(time.RFC3339, event.Date); err == nil {
				created = t
				break
			}
		}
	}
	if created.IsZero() {
		return 0
	}
	return int(time.Since(created).Hours() / 24)
}
