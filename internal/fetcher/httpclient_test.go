package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewHTTPClient_SingleAttemptByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{})
	defer client.Close()

	resp, err := client.R().SetContext(context.Background()).Get("/")
	if err != nil {
		t.Fatalf("Get() returned unexpected error: %v", err)
	}
	if resp.StatusCode() != http.StatusInternalServerError {
		t.Errorf("StatusCode() = %d, want %d", resp.StatusCode(), http.StatusInternalServerError)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestNewHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{RetryCount: 3}).
		SetRetryWaitTime(time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Millisecond)
	defer client.Close()

	resp, err := client.R().SetContext(context.Background()).Get("/")
	if err != nil {
		t.Fatalf("Get() returned unexpected error: %v", err)
	}
	if !resp.IsSuccess() {
		t.Errorf("IsSuccess() = false, status %d", resp.StatusCode())
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestNewHTTPClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{RetryCount: 3}).
		SetRetryWaitTime(time.Millisecond)
	defer client.Close()

	if _, err := client.R().SetContext(context.Background()).Get("/"); err != nil {
		t.Fatalf("Get() returned unexpected error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}
