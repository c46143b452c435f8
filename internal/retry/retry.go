// Package retry implements bounded exponential backoff for hosting-API
// calls. Only transient failures are retried; once the attempt budget is
// exhausted the last error is returned to the caller as terminal.
package retry

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/internal/logging"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultConfig matches the defaults used for hosting-API calls.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: 1 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0}
}

func (c Config) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs op, retrying retryable failures with exponential backoff until
// the attempt budget is exhausted or ctx is cancelled. Non-retryable
// errors return immediately.
func Do(ctx context.Context, cfg Config, log *logging.Logger, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !Retryable(err) || attempt >= cfg.MaxRetries {
			return err
		}
		delay := cfg.delay(attempt)
		if log != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying hosting API call")
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

// transientSubstrings cover transport-level failures that never produced
// an HTTP status at all.
var transientSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"no such host",
	"broken pipe",
}

// Retryable reports whether err is worth retrying: a PlatformError with a
// 429 or 5xx status, or a transport-level error that never reached the
// server. 4xx responses other than 429 are permanent and return
// immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *errs.PlatformError
	if errors.As(err, &pe) {
		return pe.StatusCode == 429 || pe.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
