package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		assert.Len(t, id, 10)
		for _, ch := range id {
			assert.Contains(t, base36Chars, string(ch))
		}
		seen[id] = true
	}
	// 100 draws from 36^10 must not collide.
	assert.Len(t, seen, 100)
}

func TestRequestContextRoundTrip(t *testing.T) {
	ctx := WithRequestContext(context.Background(), "req123abcd")

	assert.Equal(t, "req123abcd", GetRequestID(ctx))

	SetProvider(ctx, "alpha")
	assert.Equal(t, "alpha", GetRequestContext(ctx).Provider)

	SetMetadata(ctx, "api_key_masked", "sk-12345***")
	val, ok := GetRequestContext(ctx).Metadata["api_key_masked"]
	require.True(t, ok)
	assert.Equal(t, "sk-12345***", val)

	assert.False(t, GetRequestContext(ctx).StartTime.IsZero())
}

func TestRequestContextDefaults(t *testing.T) {
	assert.Equal(t, "unknown", GetRequestID(context.Background()))
	assert.Equal(t, "unknown", GetRequestID(nil)) //nolint:staticcheck

	// SetMetadata on a bare context writes into the fallback RequestContext
	// and must not panic.
	SetMetadata(context.Background(), "anything", "value")
}
