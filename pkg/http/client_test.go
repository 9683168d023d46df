package http_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	xhttp "Guardrail/pkg/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"spread_pips":0.8}`))
	}))
	defer srv.Close()

	c := xhttp.NewClient(xhttp.WithTimeout(time.Second), xhttp.WithRetry(2, time.Millisecond))
	var body map[string]any
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &body))
	assert.Equal(t, 0.8, body["spread_pips"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSON_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := xhttp.NewClient(xhttp.WithRetry(3, time.Millisecond))
	err := c.GetJSON(context.Background(), srv.URL, &map[string]any{})

	var se *xhttp.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetJSON_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := xhttp.NewClient(xhttp.WithRetry(1, time.Millisecond))
	err := c.GetJSON(context.Background(), srv.URL, nil)

	var se *xhttp.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(2), calls.Load())
}
