package biz

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       OutcomeKind
	}{
		{"200 OK", 200, OutcomeSuccess},
		{"201 Created", 201, OutcomeSuccess},
		{"204 No Content", 204, OutcomeSuccess},
		{"302 Found", 302, OutcomeSuccess},
		{"429 Too Many Requests", 429, OutcomeRateLimited},
		{"500 Internal Server Error", 500, OutcomeServerError},
		{"502 Bad Gateway", 502, OutcomeServerError},
		{"503 Service Unavailable", 503, OutcomeServerError},
		{"400 Bad Request", 400, OutcomeIgnored},
		{"401 Unauthorized", 401, OutcomeIgnored},
		{"404 Not Found", 404, OutcomeIgnored},
		{"422 Unprocessable Entity", 422, OutcomeIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ClassifyResponse(tt.statusCode, http.Header{})
			assert.Equal(t, tt.want, out.Kind)
		})
	}
}

func TestClassifyResponseRetryAfterSeconds(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "120")

	out := ClassifyResponse(429, header)

	assert.Equal(t, OutcomeRateLimited, out.Kind)
	assert.Equal(t, 120*time.Second, out.RetryAfter)
}

func TestClassifyResponseRetryAfterHTTPDate(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))

	out := ClassifyResponse(429, header)

	assert.Equal(t, OutcomeRateLimited, out.Kind)
	// HTTP-date has one-second resolution; allow slack on both sides.
	assert.Greater(t, out.RetryAfter, 85*time.Second)
	assert.LessOrEqual(t, out.RetryAfter, 91*time.Second)
}

func TestClassifyResponseRetryAfterMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"garbage", "not-a-duration"},
		{"negative seconds", "-5"},
		{"past date", "Mon, 02 Jan 2006 15:04:05 GMT"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.value != "" {
				header.Set("Retry-After", tt.value)
			}

			out := ClassifyResponse(429, header)

			// Malformed Retry-After still classifies as rate limited, with no
			// explicit delay.
			assert.Equal(t, OutcomeRateLimited, out.Kind)
			assert.Zero(t, out.RetryAfter)
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	out := ClassifyTransportError(errors.New("dial tcp: connection refused"))
	assert.Equal(t, OutcomeTransportError, out.Kind)

	out = ClassifyTransportError(nil)
	assert.Equal(t, OutcomeSuccess, out.Kind)
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "rate_limited", OutcomeRateLimited.String())
	assert.Equal(t, "server_error", OutcomeServerError.String())
	assert.Equal(t, "transport_error", OutcomeTransportError.String())
	assert.Equal(t, "ignored", OutcomeIgnored.String())
}
