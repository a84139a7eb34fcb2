package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/resilience"
)

func TestHTTPClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "git", req.Buffer)
		assert.Equal(t, []string{"ls"}, req.History)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"text":" status","score":0.9}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, APIKey: "secret", Timeout: time.Second})
	resp, err := client.Complete(context.Background(), Request{Buffer: "git", Cursor: 3, History: []string{"ls"}})
	require.NoError(t, err)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, " status", resp.Candidates[0].Text)
}

func TestHTTPClientThrottled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, TransportRetries: 3})
	_, err := client.Complete(context.Background(), Request{Buffer: "x", Cursor: 1})
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, int32(1), hits.Load(), "429 is left to the coordinator")
	assert.Equal(t, resilience.StateClosed, client.Breaker().State())
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"text":"a"}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, TransportRetries: 2})
	resp, err := client.Complete(context.Background(), Request{Buffer: "x", Cursor: 1})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Candidates[0].Text)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{Endpoint: srv.URL})
	_, err := client.Complete(context.Background(), Request{Buffer: "x"})
	require.Error(t, err)
	assert.False(t, IsThrottled(err))
	assert.Contains(t, err.Error(), "400")
}

func TestHTTPClientWithoutEndpoint(t *testing.T) {
	client := NewHTTPClient(HTTPConfig{})
	_, err := client.Complete(context.Background(), Request{Buffer: "x"})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestHTTPClientBreakerOpensOnFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{Endpoint: srv.URL})
	for range 6 {
		client.Complete(context.Background(), Request{Buffer: "x"})
	}

	_, err := client.Complete(context.Background(), Request{Buffer: "x"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
