package ratelimiting_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Amund211/stockpile/internal/ratelimiting"
	"github.com/stretchr/testify/require"
)

type mockedRateLimiter struct {
	consumeFunc func(key string) bool
}

func (m *mockedRateLimiter) Consume(key string) bool {
	return m.consumeFunc(key)
}

func TestTokenBucketRateLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test in short mode")
	}
	t.Parallel()

	rateLimiter, stop := ratelimiting.NewTokenBucketRateLimiter(1, 2)
	t.Cleanup(stop)

	require.True(t, rateLimiter.Consume("user2"))

	// Burst of 2
	require.True(t, rateLimiter.Consume("user1"))
	require.True(t, rateLimiter.Consume("user1"))
	require.False(t, rateLimiter.Consume("user1"))

	time.Sleep(1000 * time.Millisecond)

	// Refill rate of 1
	require.True(t, rateLimiter.Consume("user1"))
	require.False(t, rateLimiter.Consume("user1"))

	// Burst of 2 - even after refill
	require.True(t, rateLimiter.Consume("user3"))
	require.True(t, rateLimiter.Consume("user3"))
	require.False(t, rateLimiter.Consume("user3"))
}

func TestKeyFuncs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		request  *http.Request
		keyFunc  func(*http.Request) string
		expected string
	}{
		{
			name:     "ip without port",
			request:  &http.Request{RemoteAddr: "123.123.123.123"},
			keyFunc:  ratelimiting.IPKeyFunc,
			expected: "ip: 123.123.123.123",
		},
		{
			name:     "ip with port",
			request:  &http.Request{RemoteAddr: "123.123.123.123:5432"},
			keyFunc:  ratelimiting.IPKeyFunc,
			expected: "ip: 123.123.123.123",
		},
		{
			name:     "ipv6 with port",
			request:  &http.Request{RemoteAddr: "[dead:beef::1]:5432"},
			keyFunc:  ratelimiting.IPKeyFunc,
			expected: "ip: dead:beef::1",
		},
		{
			name:     "user id",
			request:  &http.Request{Header: http.Header{"X-User-Id": []string{"spawner"}}},
			keyFunc:  ratelimiting.UserIDKeyFunc,
			expected: "user-id: spawner",
		},
		{
			name:     "missing user id",
			request:  &http.Request{Header: http.Header{}},
			keyFunc:  ratelimiting.UserIDKeyFunc,
			expected: "user-id: <missing>",
		},
		{
			name:     "long user id is truncated",
			request:  &http.Request{Header: http.Header{"X-User-Id": []string{strings.Repeat("a", 80)}}},
			keyFunc:  ratelimiting.UserIDKeyFunc,
			expected: "user-id: " + strings.Repeat("a", 50),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, c.expected, c.keyFunc(c.request))
		})
	}
}

func TestRequestBasedRateLimiter(t *testing.T) {
	t.Parallel()

	var expectedKey string
	var allowed bool
	rateLimiter := &mockedRateLimiter{
		consumeFunc: func(key string) bool {
			require.Equal(t, expectedKey, key)
			return allowed
		},
	}
	requestRateLimiter := ratelimiting.NewRequestBasedRateLimiter(rateLimiter, ratelimiting.IPKeyFunc)

	expectedKey = "ip: 1.1.1.1"
	allowed = true
	require.True(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "1.1.1.1:1234"}))
	require.Equal(t, "ip: 1.1.1.1", requestRateLimiter.KeyFor(&http.Request{RemoteAddr: "1.1.1.1:1234"}))
	allowed = false
	require.False(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "1.1.1.1:1234"}))

	expectedKey = "ip: 2.1.1.1"
	allowed = true
	require.True(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "2.1.1.1:1234"}))
}
