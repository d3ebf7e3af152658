package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediastream/discoveryservice/internal/domain"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	body   map[string]any
}

func newFakeAPI(t *testing.T) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		entry := recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&entry.body)
		}
		requests = append(requests, entry)
	}
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusOK, domain.SearchResponse{
			Query: r.URL.Query().Get("q"),
			Results: []domain.CanonicalResult{{
				ID:         "tmdb:movie/27205",
				Title:      "Inception",
				Kind:       domain.KindMovie,
				Year:       2010,
				Score:      2.5,
				Provenance: []domain.Provenance{{Source: "tmdb"}, {Source: "douban"}},
			}},
			Total:     1,
			Responded: 2,
			Attempted: 2,
			PerSourceStatus: map[string]domain.SourceStatus{
				"tmdb":   {Source: "tmdb", State: domain.SourceOK, Items: 1},
				"douban": {Source: "douban", State: domain.SourceOK, Items: 1},
			},
		})
	})
	mux.HandleFunc("/chart/sources", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusOK, map[string]any{"items": []domain.ChartSource{
			{Name: "netflix", Label: "Netflix Top 10", Enabled: true, Priority: 1},
			{Name: "spotify", Label: "Spotify", Enabled: false, Priority: 0.8},
		}})
	})
	mux.HandleFunc("/chart/items", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "not_found", "message": "no chart runs stored"}})
	})
	mux.HandleFunc("/search/settings/providers", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		reply(w, http.StatusOK, domain.ProviderSettingsView{Name: "tmdb", Enabled: false, Priority: 2, Overridden: true})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &requests
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSearchCommandRendersTable(t *testing.T) {
	server, requests := newFakeAPI(t)
	out, err := runCLI(t, server.URL, "search", "inception", "--type", "movie", "--sources", "tmdb,douban", "--nocache")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, want := range []string{"Inception", "2010", "douban,tmdb", "2/2 sources responded"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	query := (*requests)[0].query
	for _, want := range []string{"q=inception", "type=movie", "sources=tmdb%2Cdouban", "nocache=1"} {
		if !strings.Contains(query, want) {
			t.Fatalf("expected %q in query %q", want, query)
		}
	}
}

func TestSearchCommandJSON(t *testing.T) {
	server, _ := newFakeAPI(t)
	out, err := runCLI(t, server.URL, "--json", "search", "inception")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("expected JSON output, got %v:\n%s", err, out)
	}
	if resp.Total != 1 {
		t.Fatalf("expected total 1, got %d", resp.Total)
	}
}

func TestChartSourcesShowsDisabled(t *testing.T) {
	server, _ := newFakeAPI(t)
	out, err := runCLI(t, server.URL, "chart", "sources")
	if err != nil {
		t.Fatalf("chart sources: %v", err)
	}
	if !strings.Contains(out, "spotify") || !strings.Contains(out, "false") {
		t.Fatalf("expected disabled spotify listed:\n%s", out)
	}
}

func TestAPIErrorsSurface(t *testing.T) {
	server, _ := newFakeAPI(t)
	_, err := runCLI(t, server.URL, "chart", "items")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected apiError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestProvidersSetSendsOnlyChangedFields(t *testing.T) {
	server, requests := newFakeAPI(t)
	if _, err := runCLI(t, server.URL, "providers", "set", "tmdb", "--enabled=false", "--priority", "2"); err != nil {
		t.Fatalf("providers set: %v", err)
	}
	req := (*requests)[0]
	if req.method != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", req.method)
	}
	if req.body["provider"] != "tmdb" || req.body["enabled"] != false || req.body["priority"] != float64(2) {
		t.Fatalf("unexpected body: %v", req.body)
	}
	if _, ok := req.body["region"]; ok {
		t.Fatal("expected unchanged region omitted")
	}

	if _, err := runCLI(t, server.URL, "providers", "set", "tmdb"); err == nil {
		t.Fatal("expected error when nothing changes")
	}
}
