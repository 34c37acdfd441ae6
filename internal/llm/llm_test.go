package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobinbox/internal/classifier"
	"jobinbox/pkg/circuitbreaker"
)

func newChat(t *testing.T, h http.HandlerFunc) *ChatProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := NewChatProvider(ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestChatProvider_Complete(t *testing.T) {
	var got chatRequest
	p := newChat(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[]"}}]}`))
	})

	out, err := p.Complete(context.Background(), classifier.Prompt{System: "sys", User: "usr", MaxTokens: 300})

	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 300, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "usr", got.Messages[1].Content)
}

func TestChatProvider_RateLimit(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   time.Duration
	}{
		{"millisecond hint", map[string]string{"retry-after-ms": "1500"}, 1500 * time.Millisecond},
		{"seconds hint", map[string]string{"Retry-After": "3"}, 3 * time.Second},
		{"no hint", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newChat(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			})

			_, err := p.Complete(context.Background(), classifier.Prompt{})

			hint, limited := classifier.IsRateLimited(err)
			assert.True(t, limited)
			assert.Equal(t, tt.want, hint)
		})
	}
}

func TestChatProvider_ServerErrorIsNotRateLimit(t *testing.T) {
	p := newChat(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	_, err := p.Complete(context.Background(), classifier.Prompt{})

	require.Error(t, err)
	_, limited := classifier.IsRateLimited(err)
	assert.False(t, limited)
	assert.Contains(t, err.Error(), "status 502")
}

type stubProvider struct {
	err   error
	calls int
}

func (s *stubProvider) Complete(context.Context, classifier.Prompt) (string, error) {
	s.calls++
	return "[]", s.err
}

func TestBreaker_RateLimitsDoNotTrip(t *testing.T) {
	stub := &stubProvider{err: &classifier.RateLimitError{}}
	b := NewBreaker(stub, "stub")

	for i := 0; i < 10; i++ {
		_, err := b.Complete(context.Background(), classifier.Prompt{})
		_, limited := classifier.IsRateLimited(err)
		assert.True(t, limited)
	}
	assert.Equal(t, 10, stub.calls)
}

func TestBreaker_OpensOnFailures(t *testing.T) {
	stub := &stubProvider{err: errors.New("boom")}
	b := NewBreaker(stub, "stub")

	for i := 0; i < 3; i++ {
		_, _ = b.Complete(context.Background(), classifier.Prompt{})
	}
	_, err := b.Complete(context.Background(), classifier.Prompt{})

	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, 3, stub.calls)
}

func TestRateLimited_PassesThrough(t *testing.T) {
	stub := &stubProvider{}
	r := NewRateLimited(stub, 0)

	out, err := r.Complete(context.Background(), classifier.Prompt{})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestClassifyGeminiError(t *testing.T) {
	_, limited := classifier.IsRateLimited(classifyGeminiError(errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED")))
	assert.True(t, limited)

	_, limited = classifier.IsRateLimited(classifyGeminiError(errors.New("invalid argument")))
	assert.False(t, limited)
}
