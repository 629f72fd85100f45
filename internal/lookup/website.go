package lookup

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// parkedScanLimit is how much of the body we scan for parking phrases.
const parkedScanLimit = 10 * 1024

// WebsiteResult is the liveness snapshot of http://<domain>.
type WebsiteResult struct {
	Alive  bool
	Parked bool
}

// CheckWebsite fetches the domain's root page over plain HTTP (redirects
// followed) and scans the first 10 KiB for registrar parking phrases.
// Returns nil on any transport error.
func CheckWebsite(ctx context.Context, domain string) *WebsiteResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+domain, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", getRandomUserAgent())

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	res := &WebsiteResult{Alive: resp.StatusCode >= 200 && resp.StatusCode < 300}
	if !res.Alive {
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, parkedScanLimit))
	if err != nil {
		return res
	}
	res.Parked = looksParked(string(body))
	return res
}

func looksParked(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range parkedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
