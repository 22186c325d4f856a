package biz

import (
	"net/http"
	"strconv"
	"time"
)

// OutcomeKind classifies the result of one completed upstream attempt.
type OutcomeKind int

const (
	// OutcomeSuccess covers 2xx and 3xx responses.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRateLimited covers 429 responses, with or without Retry-After.
	OutcomeRateLimited
	// OutcomeServerError covers 5xx responses.
	OutcomeServerError
	// OutcomeTransportError covers connection refused/timeout/DNS/TLS failures.
	OutcomeTransportError
	// OutcomeIgnored covers the remaining 4xx responses. These are caused by the
	// client, not the provider, and must not feed circuit breaker bookkeeping.
	OutcomeIgnored
)

// String returns the label used in logs, audit records and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServerError:
		return "server_error"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Outcome is the classifier output reported back to the router after each
// upstream attempt.
type Outcome struct {
	Kind OutcomeKind
	// RetryAfter is the explicit delay extracted from a 429 response.
	// Zero means the header was absent or malformed; the router then falls
	// back to its configured default cooldown.
	RetryAfter time.Duration
}

// ClassifyResponse maps an upstream HTTP status and response headers to an Outcome.
func ClassifyResponse(statusCode int, header http.Header) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 400:
		return Outcome{Kind: OutcomeSuccess}
	case statusCode == http.StatusTooManyRequests:
		return Outcome{
			Kind:       OutcomeRateLimited,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
		}
	case statusCode >= 500:
		return Outcome{Kind: OutcomeServerError}
	default:
		// Remaining 4xx: malformed request, bad auth, unknown model, etc.
		return Outcome{Kind: OutcomeIgnored}
	}
}

// ClassifyTransportError maps a transport-level failure to an Outcome.
// The dispatch layer calls this when the HTTP round trip itself failed
// and no response was received.
func ClassifyTransportError(err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess}
	}
	return Outcome{Kind: OutcomeTransportError}
}

// parseRetryAfter parses a Retry-After header value, which is either a
// non-negative integer number of seconds or an HTTP-date (RFC 7231 §7.1.3).
// A missing or malformed value yields zero; it must never fail the report.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}
