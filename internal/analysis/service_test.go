package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abuseflow/internal/config"
	"abuseflow/internal/logger"
	"abuseflow/pkg/circuitbreaker"
)

func testAnalysisConfig(url string) config.AnalysisConfig {
	return config.AnalysisConfig{
		URL:       url,
		APIKey:    "test-key",
		Model:     "test-model",
		Timeout:   time.Second,
		RateLimit: 100,
		RateBurst: 10,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
			MaxElapsedTime:  time.Second,
		},
	}
}

func newTestDispatcher(url string) *Dispatcher {
	cfg := testAnalysisConfig(url)
	breaker := circuitbreaker.NewWrapper(circuitbreaker.Config{
		Name:         "analysis-test",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.99,
		MinRequests:  100,
	})
	return NewDispatcher(NewClient(cfg), cfg, breaker, logger.NopLogger())
}

func TestDispatchSuccess(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "DMCA notice", req.Subject)

		json.NewEncoder(w).Encode(response{Result: &Result{
			ThreatAssessment:   "copyright takedown request",
			KeyIssues:          []string{"copyright"},
			UrgencyLevel:       "high",
			RecommendedActions: []string{"verify claim", "contact customer"},
		}})
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL)
	result, raw, err := d.Dispatch(context.Background(), "t-1", "DMCA notice", "infringing content at example.com")
	require.NoError(t, err)

	assert.Equal(t, "copyright takedown request", result.ThreatAssessment)
	assert.Equal(t, "high", result.UrgencyLevel)
	assert.Equal(t, "Bearer test-key", gotAuth)

	var roundTripped Result
	require.NoError(t, json.Unmarshal(raw, &roundTripped))
	assert.Equal(t, result, roundTripped)
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(response{Result: &Result{ThreatAssessment: "recovered"}})
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL)
	result, _, err := d.Dispatch(context.Background(), "t-2", "subject", "body")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.ThreatAssessment)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestDispatchExhaustsRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL)
	_, _, err := d.Dispatch(context.Background(), "t-3", "subject", "body")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "bounded retry must stop at the attempt limit")
}

func TestDispatchClientErrorNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL)
	_, _, err := d.Dispatch(context.Background(), "t-4", "subject", "body")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "4xx responses are terminal")
}

func TestDispatchServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Error: "model overloaded"})
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL)
	_, _, err := d.Dispatch(context.Background(), "t-5", "subject", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestDispatchSingleFlightPerTicket(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(response{Result: &Result{ThreatAssessment: "done"}})
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL)

	started := make(chan struct{})
	go func() {
		close(started)
		d.Dispatch(context.Background(), "t-6", "subject", "body")
	}()
	<-started

	// Wait until the first dispatch holds the slot.
	require.Eventually(t, func() bool {
		return d.InFlight("t-6")
	}, time.Second, 5*time.Millisecond)

	_, _, err := d.Dispatch(context.Background(), "t-6", "subject", "body")
	assert.ErrorIs(t, err, ErrInFlight)

	// A different ticket is unaffected.
	assert.False(t, d.InFlight("t-7"))

	close(release)
}
