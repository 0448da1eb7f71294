package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		status string
		want   string
	}{
		{name: "message field", body: `{"message":"quota"}`, status: "429 Too Many Requests", want: "quota"},
		{name: "detail string", body: `{"detail":"bad voice"}`, status: "400 Bad Request", want: "bad voice"},
		{name: "detail object", body: `{"detail":{"status":"x","message":"nested"}}`, status: "401 Unauthorized", want: "nested"},
		{name: "error field", body: `{"error":"boom"}`, status: "500 Internal Server Error", want: "boom"},
		{name: "plain text", body: "gateway timeout", status: "504 Gateway Timeout", want: "504 Gateway Timeout: gateway timeout"},
		{name: "empty body", body: "", status: "503 Service Unavailable", want: "503 Service Unavailable"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, upstreamMessage(testCase.status, []byte(testCase.body)))
		})
	}
}

func TestHTTPClient_RateLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	client := newHTTPClient("test", time.Second, 1)

	first, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	_, err = client.send(first, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	second, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	_, err = client.send(second, "", nil)
	require.Error(t, err)

	_, isProviderErr := core.KindOf(err)
	assert.False(t, isProviderErr)
}

func TestHTTPClient_EmptyBodyIsAnError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := newHTTPClient("test", time.Second, 0)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	_, err = client.send(req, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), errMsgEmptyAudio)
}

func TestResolveKey(t *testing.T) {
	t.Parallel()

	key, err := resolveKey("p", " request ", "configured")
	require.NoError(t, err)
	assert.Equal(t, "request", key)

	key, err = resolveKey("p", "", "configured")
	require.NoError(t, err)
	assert.Equal(t, "configured", key)

	_, err = resolveKey("p", "", "")
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindAuth, kind)
}
