package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

func testOptions() Options {
	return Options{
		Timeout: 2 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func healthServer(code int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		io.WriteString(w, body)
	}))
}

func newProbe(t *testing.T, url string) Probe {
	t.Helper()
	p, err := NewSpringBootProbe([]string{url}, testOptions())
	if err != nil {
		t.Fatalf("building probe: %v", err)
	}
	return p
}

func TestSpringBoot_Check(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantCode types.StatusCode
		wantDesc string
	}{
		{
			name:     "all up",
			code:     200,
			body:     `{"status":"UP","db":{"status":"UP"}}`,
			wantCode: types.StatusOperational,
			wantDesc: "Core: UP\ndb: UP\n",
		},
		{
			name:     "core only",
			code:     200,
			body:     `{"status":"UP"}`,
			wantCode: types.StatusOperational,
			wantDesc: "Core: UP\n",
		},
		{
			name:     "subsystem down",
			code:     200,
			body:     `{"status":"UP","db":{"status":"DOWN"},"redis":{"status":"UP"}}`,
			wantCode: types.StatusPartialOutage,
			wantDesc: "Core: UP\ndb: DOWN\nredis: UP\n",
		},
		{
			name:     "core down",
			code:     503,
			body:     `{"status":"DOWN","diskSpace":{"status":"UP","total":100}}`,
			wantCode: types.StatusPartialOutage,
			wantDesc: "Core: DOWN\ndiskSpace: UP\n",
		},
		{
			name:     "key order preserved",
			code:     200,
			body:     `{"zeta":{"status":"UP"},"status":"UP","alpha":{"status":"UP"}}`,
			wantCode: types.StatusOperational,
			wantDesc: "Core: UP\nzeta: UP\nalpha: UP\n",
		},
		{
			name:     "non object members ignored",
			code:     200,
			body:     `{"status":"UP","version":"1.2","hits":[1,2],"extra":{"total":5}}`,
			wantCode: types.StatusOperational,
			wantDesc: "Core: UP\n",
		},
		{
			name:     "unknown status counts as not up",
			code:     200,
			body:     `{"status":"UNKNOWN"}`,
			wantCode: types.StatusPartialOutage,
			wantDesc: "Core: UNKNOWN\n",
		},
		{
			name:     "actuator 2 components",
			code:     200,
			body:     `{"status":"UP","components":{"db":{"status":"UP","details":{"database":"PostgreSQL"}},"ping":{"status":"OUT_OF_SERVICE"}}}`,
			wantCode: types.StatusPartialOutage,
			wantDesc: "Core: UP\ndb: UP\nping: OUT_OF_SERVICE\n",
		},
		{
			name:     "actuator 2.0 details",
			code:     200,
			body:     `{"status":"UP","details":{"diskSpace":{"status":"UP"}}}`,
			wantCode: types.StatusOperational,
			wantDesc: "Core: UP\ndiskSpace: UP\n",
		},
		{
			name:     "missing core status",
			code:     200,
			body:     `{"db":{"status":"UP"}}`,
			wantCode: types.StatusMajorOutage,
			wantDesc: "malformed health response: missing top-level status",
		},
		{
			name:     "error page",
			code:     502,
			body:     `<html>Bad Gateway</html>`,
			wantCode: types.StatusMajorOutage,
			wantDesc: "unexpected status 502: <html>Bad Gateway</html>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := healthServer(tt.code, tt.body)
			defer srv.Close()

			status, desc, err := newProbe(t, srv.URL+"/health").Check(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != tt.wantCode {
				t.Errorf("status: got %s, want %s", status, tt.wantCode)
			}
			if desc != tt.wantDesc {
				t.Errorf("description: got %q, want %q", desc, tt.wantDesc)
			}
		})
	}
}

func TestSpringBoot_InvalidJSON(t *testing.T) {
	srv := healthServer(200, `not json`)
	defer srv.Close()

	status, desc, err := newProbe(t, srv.URL).Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != types.StatusMajorOutage {
		t.Errorf("status: got %s", status)
	}
	if !strings.HasPrefix(desc, "malformed health response: ") {
		t.Errorf("description: got %q", desc)
	}
}

func TestSpringBoot_ConnectionRefused(t *testing.T) {
	// Grab a free port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	url := "http://" + ln.Addr().String() + "/health"
	ln.Close()

	status, desc, err := newProbe(t, url).Check(context.Background())
	if err != nil {
		t.Fatalf("transport failures must not be returned as errors: %v", err)
	}
	if status != types.StatusMajorOutage {
		t.Errorf("status: got %s", status)
	}

	_, wantErr := http.Get(url)
	if wantErr == nil {
		t.Fatal("expected the port to be closed")
	}
	if desc != wantErr.Error() {
		t.Errorf("description: got %q, want %q", desc, wantErr.Error())
	}
}

func TestSpringBoot_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond
	p, err := NewSpringBootProbe([]string{srv.URL}, opts)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	status, desc, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != types.StatusMajorOutage {
		t.Errorf("status: got %s", status)
	}
	if desc == "" {
		t.Error("expected error description")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("check not bounded by timeout: %s", elapsed)
	}
}

func TestNewSpringBootProbe_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  []string
		wantErr bool
	}{
		{"valid", []string{"http://host/health"}, false},
		{"https", []string{"https://host:8443/actuator/health"}, false},
		{"extra params ignored", []string{"http://host/health", "x", "y"}, false},
		{"trimmed", []string{"  http://host/health  "}, false},
		{"no params", nil, true},
		{"empty", []string{""}, true},
		{"relative", []string{"/health"}, true},
		{"ftp", []string{"ftp://host/health"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewSpringBootProbe(tt.params, testOptions())
			if tt.wantErr {
				var cfgErr *types.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("expected ConfigError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sb := p.(*SpringBootProbe); sb.URL() != strings.TrimSpace(tt.params[0]) {
				t.Errorf("url: got %q", sb.URL())
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	if got := snippet([]byte("  short body \n")); got != "short body" {
		t.Errorf("short: got %q", got)
	}

	ascii := strings.Repeat("x", 300)
	if got := snippet([]byte(ascii)); got != strings.Repeat("x", 200)+"..." {
		t.Errorf("ascii: got %d bytes", len(got))
	}

	// Two-byte runes starting at odd offsets put byte 200 mid-rune.
	body := "a" + strings.Repeat("é", 150)
	got := snippet([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is not valid UTF-8: %q", got)
	}
	if want := "a" + strings.Repeat("é", 99) + "..."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
