package resilience

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// RetryConfig governs rate-limit retries on the primary model.
type RetryConfig struct {
	MaxAttempts int           // Attempts on the primary model, first try included
	BaseDelay   time.Duration // Multiplied by the failed-attempt count when no delay is suggested
}

// DefaultRetryConfig returns the 3 attempts / 2s linear schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
	}
}

// Delay computes the wait after the given number of failed attempts.
// A delay suggested by the upstream error message wins over the schedule.
func (c RetryConfig) Delay(failedAttempts int, errMsg string) time.Duration {
	if d, ok := SuggestedDelay(errMsg); ok {
		return d
	}
	if failedAttempts < 1 {
		failedAttempts = 1
	}
	return time.Duration(failedAttempts) * c.BaseDelay
}

// Quota errors phrase the hint as "Please retry in 37.2s" in the message and
// as "retryDelay": "37s" in the RetryInfo detail.
var suggestedDelayPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)retry in ([\d.]+)s`),
	regexp.MustCompile(`(?i)retryDelay["\s:]+([\d.]+)s`),
	regexp.MustCompile(`(?i)retryDelay["\s:]+"([\d.]+)s"`),
}

// SuggestedDelay extracts the provider's suggested wait from an error
// message, rounded up to the millisecond.
func SuggestedDelay(msg string) (time.Duration, bool) {
	for _, re := range suggestedDelayPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		d, err := time.ParseDuration(m[1] + "s")
		if err != nil || d < 0 {
			continue
		}
		return (d + time.Millisecond - 1).Truncate(time.Millisecond), true
	}
	return 0, false
}

// Sleep waits for d, returning early with an error if ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry: context cancelled during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
