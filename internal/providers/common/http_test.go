package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"mediastream/discoveryservice/internal/domain"
)

func TestFetcherGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "heat" || r.URL.Query().Get("fixed") != "1" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Key") != "secret" {
			t.Errorf("expected custom header")
		}
		_, _ = w.Write([]byte(`{"name":"Heat"}`))
	}))
	defer server.Close()

	fetcher := Fetcher{Source: "test", Client: server.Client(), Headers: map[string]string{"X-Key": "secret"}}
	var out struct {
		Name string `json:"name"`
	}
	resp, err := fetcher.GetJSON(context.Background(), server.URL+"/search?fixed=1", url.Values{"q": {"heat"}}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "Heat" || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected response: %+v %+v", out, resp)
	}
}

func TestFetcherClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		_, err := Fetcher{Source: "test", Client: server.Client()}.Get(context.Background(), server.URL, nil)
		server.Close()

		var providerErr *domain.ProviderError
		if !errors.As(err, &providerErr) {
			t.Fatalf("status %d: expected provider error, got %v", tc.status, err)
		}
		if providerErr.StatusCode != tc.status || providerErr.Transient() != tc.transient {
			t.Fatalf("status %d: unexpected classification %+v", tc.status, providerErr)
		}
	}
}

func TestFetcherMalformedPayloadIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	var out map[string]any
	_, err := Fetcher{Source: "test", Client: server.Client()}.GetJSON(context.Background(), server.URL, nil, &out)
	if !errors.Is(err, domain.ErrProviderPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestFetcherTransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	_, err := Fetcher{Source: "test"}.Get(context.Background(), endpoint, nil)
	if !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
