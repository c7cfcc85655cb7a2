package github

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitError means the API refused the request with an exhausted quota.
// There is no retry; the run ends and the user is told how long to wait.
type RateLimitError struct {
	ResetAt time.Time
	Wait    time.Duration // ResetAt minus the time the response was seen
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github is rate limiting us. we need to wait %s before trying again", formatWait(e.Wait))
}

// checkRateLimit turns a 403/429 response with zero remaining quota into a
// RateLimitError. Other responses pass through untouched.
func checkRateLimit(resp *http.Response) error {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	if resp.Header.Get("x-ratelimit-remaining") != "0" {
		return nil
	}

	reset, err := strconv.ParseInt(resp.Header.Get("x-ratelimit-reset"), 10, 64)
	if err != nil {
		return fmt.Errorf("rate limited with unparsable x-ratelimit-reset %q", resp.Header.Get("x-ratelimit-reset"))
	}

	resetAt := time.Unix(reset, 0)
	return &RateLimitError{
		ResetAt: resetAt,
		Wait:    time.Until(resetAt).Round(time.Second),
	}
}

// formatWait renders a duration as 42s, 3m07s or 2h03m09s.
func formatWait(d time.Duration) string {
	s := int(d.Seconds())
	if s < 0 {
		s = 0
	}
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm%02ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh%02dm%02ds", s/3600, s%3600/60, s%60)
	}
}
