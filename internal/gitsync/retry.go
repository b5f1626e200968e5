package gitsync

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"git.home.luguber.info/inful/coursesync/internal/retry"
)

// Adaptive delay multipliers keyed by transient error classification.
const (
	multRateLimit      = 3.0
	multNetworkTimeout = 1.0
)

// withRetry wraps an operation with retry logic based on git configuration.
func (c *Client) withRetry(op, key string, fn func() (Result, error)) (Result, error) {
	if c.cfg.MaxRetries <= 0 {
		return fn()
	}
	pol := retry.FromGitConfig(c.cfg)

	var lastErr error
	for attempt := 0; attempt <= pol.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying git operation",
				slog.String("operation", op), logfields.Course(key), slog.Int("attempt", attempt))
			if c.OnRetry != nil {
				c.OnRetry()
			}
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isPermanentGitError(err) {
			slog.Error("permanent git error",
				slog.String("operation", op), logfields.Course(key), logfields.Error(err))
			return Result{}, err
		}
		if attempt == pol.MaxRetries {
			break
		}
		delay := pol.Delay(attempt + 1)
		switch classifyTransientType(err) {
		case "rate_limit":
			delay = time.Duration(float64(delay) * multRateLimit)
		case "network_timeout":
			delay = time.Duration(float64(delay) * multNetworkTimeout)
		}
		time.Sleep(delay)
	}
	return Result{}, fmt.Errorf("git %s failed after retries: %w", op, lastErr)
}

func isPermanentGitError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.As(err, new(*AuthError)),
		errors.As(err, new(*NotFoundError)),
		errors.As(err, new(*UnsupportedProtocolError)),
		errors.As(err, new(*RemoteDivergedError)):
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "auth") || strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return true
	}
	if strings.Contains(msg, "not found") || strings.Contains(msg, "no such remote") || strings.Contains(msg, "invalid reference") {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return !nerr.Timeout()
	}
	return false
}

// expose for tests within package.
var IsPermanentGitError = isPermanentGitError

// classifyTransientType returns a short string key for known transient typed errors; empty if unknown.
func classifyTransientType(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.As(err, new(*RateLimitError)):
		return "rate_limit"
	case errors.As(err, new(*NetworkTimeoutError)):
		return "network_timeout"
	}
	return ""
}
