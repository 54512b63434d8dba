package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyAdapter struct {
	failures int
	err      error
	calls    int
}

func (f *flakyAdapter) Name() string     { return "flaky" }
func (f *flakyAdapter) Models() []string { return []string{"flaky-1"} }

func (f *flakyAdapter) Generate(_ context.Context, model, prompt string) (*Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Response{Content: "ok", Adapter: "flaky", Model: model}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryingRecoversFromTransientErrors(t *testing.T) {
	inner := &flakyAdapter{failures: 2, err: &AdapterError{Provider: "flaky", Status: 503}}
	r := WithRetry(inner, RetryPolicy{MaxRetries: 2, BaseBackoffMs: 1, MaxBackoffMs: 2}, nil)
	r.sleep = noSleep

	resp, err := r.Generate(context.Background(), "flaky-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, resp.Retries)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	inner := &flakyAdapter{failures: 5, err: &AdapterError{Provider: "flaky", Status: 400}}
	r := WithRetry(inner, RetryPolicy{MaxRetries: 3, BaseBackoffMs: 1, MaxBackoffMs: 2}, nil)
	r.sleep = noSleep

	_, err := r.Generate(context.Background(), "flaky-1", "hello")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyAdapter{failures: 10, err: &AdapterError{Provider: "flaky", Status: 429}}
	r := WithRetry(inner, RetryPolicy{MaxRetries: 2, BaseBackoffMs: 1, MaxBackoffMs: 2}, nil)
	r.sleep = noSleep

	_, err := r.Generate(context.Background(), "flaky-1", "hello")
	var adapterErr *AdapterError
	require.True(t, errors.As(err, &adapterErr))
	assert.Equal(t, 429, adapterErr.Status)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingHonorsCancellation(t *testing.T) {
	inner := &flakyAdapter{failures: 10, err: &AdapterError{Provider: "flaky", Temporary: true}}
	r := WithRetry(inner, RetryPolicy{MaxRetries: 5, BaseBackoffMs: 1000, MaxBackoffMs: 1000}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Generate(ctx, "flaky-1", "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestComputeBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 400 * time.Millisecond},
		{2, 800 * time.Millisecond},
		{3, 1600 * time.Millisecond},
		{4, 2000 * time.Millisecond},
		{10, 2000 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := computeBackoff(200, 2000, tt.attempt); got != tt.want {
			t.Errorf("computeBackoff(200, 2000, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"rate limited", &AdapterError{Status: 429}, true},
		{"server error", &AdapterError{Status: 502}, true},
		{"bad request", &AdapterError{Status: 400}, false},
		{"temporary flag", &AdapterError{Temporary: true}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMockAdapterMatchesLongestSubstring(t *testing.T) {
	m := NewMockAdapterWithResponses(map[string]string{
		"revenue":            "short",
		"revenue by country": "long",
	}, "")

	resp, err := m.Generate(context.Background(), "", "show revenue by country please")
	require.NoError(t, err)
	assert.Equal(t, "long", resp.Content)
	assert.Equal(t, "mock-1", resp.Model)
	assert.Len(t, m.Calls(), 1)
}

func TestRegistryAlwaysHasMock(t *testing.T) {
	r := NewRegistry(Keys{}, DefaultParams(), DefaultRetryPolicy(), nil)
	assert.Equal(t, []string{"mock"}, r.Names())

	m, err := r.Model("mock", "mock-1")
	require.NoError(t, err)
	assert.True(t, m.Valid())

	_, err = r.Get("anthropic")
	assert.Error(t, err)
}
