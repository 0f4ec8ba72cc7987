package cachet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_SendsTokenAndDecodesEnvelope(t *testing.T) {
	var gotToken, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(TokenHeader)
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"id":7,"name":"Infra"}],"meta":{"pagination":{"total":1}}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/api/v1/", Token: "tok"}, testLogger())
	groups, err := c.ListGroups(context.Background(), "Infra")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotToken != "tok" {
		t.Errorf("token header: got %q", gotToken)
	}
	if gotPath != "/api/v1/components/groups" {
		t.Errorf("path: got %s", gotPath)
	}
	if gotQuery != "name=Infra" {
		t.Errorf("query: got %s", gotQuery)
	}
	if len(groups) != 1 || groups[0].ID != 7 {
		t.Errorf("groups: got %+v", groups)
	}
}

func TestClient_ListComponentsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"}, testLogger())
	comps, err := c.ListComponents(context.Background(), "API gateway", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comps) != 0 {
		t.Errorf("expected no components, got %d", len(comps))
	}
	if gotQuery != "group_id=3&name=API+gateway" {
		t.Errorf("query: got %s", gotQuery)
	}
}

func TestClient_UpdateComponentBody(t *testing.T) {
	var body UpdateComponentRequest
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"data":{"id":12}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"}, testLogger())
	err := c.UpdateComponent(context.Background(), 12, UpdateComponentRequest{Status: 3, Description: "Core: DOWN\n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != http.MethodPut || path != "/components/12" {
		t.Errorf("got %s %s", method, path)
	}
	if body.Status != 3 || body.Description != "Core: DOWN\n" {
		t.Errorf("body: got %+v", body)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "bad"}, testLogger())
	err := c.Ping(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d", apiErr.StatusCode)
	}
	if apiErr.Body != "nope" {
		t.Errorf("body: got %q", apiErr.Body)
	}
}

func TestClient_CreateWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"}, testLogger())
	if _, err := c.CreateGroup(context.Background(), "Infra"); err == nil {
		t.Error("expected error for response without id")
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok", Timeout: 20 * time.Millisecond}, testLogger())
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected timeout error")
	}
}

func TestWireStatus(t *testing.T) {
	tests := []struct {
		status types.StatusCode
		want   int
	}{
		{types.StatusOperational, 1},
		{types.StatusPerformanceIssues, 2},
		{types.StatusPartialOutage, 3},
		{types.StatusMajorOutage, 4},
	}
	for _, tt := range tests {
		got, err := WireStatus(tt.status)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.status, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.status, got, tt.want)
		}
		if back := StatusFromWire(got); back != tt.status {
			t.Errorf("%d: round trip gave %s", got, back)
		}
	}

	if _, err := WireStatus(types.StatusUnknown); err == nil {
		t.Error("expected error for unknown status")
	}
	if got := StatusFromWire(9); got != types.StatusUnknown {
		t.Errorf("StatusFromWire(9): got %s", got)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ping" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":"Pong!"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/api/v1", Token: "tok"}, testLogger())
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	bad := NewClient(Config{BaseURL: srv.URL + "/wrong", Token: "tok"}, testLogger())
	if err := bad.Ping(context.Background()); err == nil {
		t.Error("expected error for unknown route")
	}
}
