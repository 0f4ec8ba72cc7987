package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

var testKinds = []string{"SpringBoot"}

func collect(t *testing.T, text string) ([]types.ProbeSpec, []error) {
	t.Helper()
	var specs []types.ProbeSpec
	var errs []error
	for spec, err := range ParseProbes(LinesFromText(text), testKinds) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}

func TestParseProbes_ValidLine(t *testing.T) {
	specs, errs := collect(t, "Infra,API,SpringBoot,http://host/health")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}

	got := specs[0]
	if got.Group != "Infra" || got.Component != "API" || got.Kind != "SpringBoot" {
		t.Errorf("unexpected spec: %+v", got)
	}
	if !slices.Equal(got.Params, []string{"http://host/health"}) {
		t.Errorf("params: got %v", got.Params)
	}
	if got.Line != 1 {
		t.Errorf("line: got %d, want 1", got.Line)
	}
}

func TestParseProbes_TrimsFields(t *testing.T) {
	specs, errs := collect(t, "  Infra , API ,SpringBoot , http://host/health  , extra ")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := types.ProbeSpec{
		Line:      1,
		Group:     "Infra",
		Component: "API",
		Kind:      "SpringBoot",
		Params:    []string{"http://host/health", "extra"},
	}
	got := specs[0]
	if got.Group != want.Group || got.Component != want.Component || got.Kind != want.Kind {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !slices.Equal(got.Params, want.Params) {
		t.Errorf("params: got %q, want %q", got.Params, want.Params)
	}
}

func TestParseProbes_SkipsBlankAndComments(t *testing.T) {
	text := "# header\n\n   \n  # indented comment\nInfra,API,SpringBoot,http://a\n"
	specs, errs := collect(t, text)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	if specs[0].Line != 5 {
		t.Errorf("line: got %d, want 5", specs[0].Line)
	}
}

func TestParseProbes_NoParams(t *testing.T) {
	specs, errs := collect(t, "Infra,API,SpringBoot")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(specs[0].Params) != 0 {
		t.Errorf("expected no params, got %v", specs[0].Params)
	}
}

func TestParseProbes_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "Infra,API"},
		{"single field", "Infra"},
		{"empty group", " ,API,SpringBoot,http://a"},
		{"empty component", "Infra, ,SpringBoot,http://a"},
		{"unknown kind", "Infra,API,Ping,http://a"},
		{"kind is case sensitive", "Infra,API,springboot,http://a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, errs := collect(t, tt.line)
			if len(specs) != 0 {
				t.Fatalf("malformed line produced a spec: %+v", specs)
			}
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %d", len(errs))
			}
			var cfgErr *types.ConfigError
			if !errors.As(errs[0], &cfgErr) {
				t.Fatalf("expected ConfigError, got %T", errs[0])
			}
			if cfgErr.Line != 1 {
				t.Errorf("line: got %d, want 1", cfgErr.Line)
			}
		})
	}
}

func TestParseProbes_ContinuesAfterError(t *testing.T) {
	specs, errs := collect(t, "bad\nInfra,API,SpringBoot,http://a\nInfra,,SpringBoot,http://b")
	if len(specs) != 1 {
		t.Errorf("expected 1 spec, got %d", len(specs))
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d", len(errs))
	}
}

func TestParseProbes_Idempotent(t *testing.T) {
	text := "# services\n\nInfra,API,SpringBoot,http://api/health,extra\n  # indented comment\nData, DB ,SpringBoot, http://db/health \n\n"

	first, errs := collect(t, text)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	second, _ := collect(t, text)

	if len(first) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("parses differ:\n%+v\n%+v", first, second)
	}
}

func TestParseProbes_StopsWhenConsumerBreaks(t *testing.T) {
	seen := 0
	for range ParseProbes(LinesFromText("A,B,SpringBoot\nC,D,SpringBoot\nE,F,SpringBoot"), testKinds) {
		seen++
		break
	}
	if seen != 1 {
		t.Errorf("expected iteration to stop after 1, got %d", seen)
	}
}

func TestLinesFromText_LineEndings(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"unix", "a\nb\n", []string{"a", "b"}},
		{"windows", "a\r\nb\r\n", []string{"a", "b"}},
		{"old mac", "a\rb", []string{"a", "b"}},
		{"mixed", "a\r\nb\nc\rd", []string{"a", "b", "c", "d"}},
		{"blank lines kept", "a\n\nb", []string{"a", "", "b"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Collect(LinesFromText(tt.text))
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProbeLines_InlineWinsOverFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probing.ConfigFile = filepath.Join(t.TempDir(), "missing.conf")
	cfg.Probing.Definitions = "Infra,API,SpringBoot,http://a"

	lines, source, err := cfg.ProbeLines()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != EnvConfiguration {
		t.Errorf("source: got %s", source)
	}
	if got := slices.Collect(lines); len(got) != 1 {
		t.Errorf("expected 1 line, got %q", got)
	}
}

func TestProbeLines_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.conf")
	if err := os.WriteFile(path, []byte("# probes\nInfra,API,SpringBoot,http://a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Probing.ConfigFile = path

	lines, source, err := cfg.ProbeLines()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != path {
		t.Errorf("source: got %s, want %s", source, path)
	}
	if got := slices.Collect(lines); len(got) != 2 {
		t.Errorf("expected 2 lines, got %q", got)
	}
}

func TestProbeLines_MissingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probing.ConfigFile = filepath.Join(t.TempDir(), "missing.conf")

	_, _, err := cfg.ProbeLines()
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped not-exist error, got %v", err)
	}
}
