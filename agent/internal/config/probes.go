package config

import (
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// Probe definitions are one per line:
//
//	# comment
//	GroupName,ComponentName,ProbeKind,param1,param2,...
//
// Fields are trimmed. Blank lines and lines whose first non-space character
// is '#' are skipped.

// ParseProbes lazily parses probe definition lines in input order.
//
// Each malformed line yields a *types.ConfigError instead of a spec; parsing
// continues with the next line so callers that want every problem can keep
// ranging. The agent stops at the first error.
func ParseProbes(lines iter.Seq[string], kinds []string) iter.Seq2[types.ProbeSpec, error] {
	known := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		known[k] = true
	}

	return func(yield func(types.ProbeSpec, error) bool) {
		n := 0
		for line := range lines {
			n++
			spec, skip, err := parseLine(n, line, known)
			if skip {
				continue
			}
			if !yield(spec, err) {
				return
			}
		}
	}
}

func parseLine(n int, line string, known map[string]bool) (types.ProbeSpec, bool, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return types.ProbeSpec{}, true, nil
	}

	fields := strings.Split(trimmed, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if len(fields) < 3 {
		return types.ProbeSpec{}, false, &types.ConfigError{
			Line: n,
			Msg:  fmt.Sprintf("expected Group,Component,Kind[,params...], got %d field(s)", len(fields)),
		}
	}
	if fields[0] == "" {
		return types.ProbeSpec{}, false, &types.ConfigError{Line: n, Msg: "group name is empty"}
	}
	if fields[1] == "" {
		return types.ProbeSpec{}, false, &types.ConfigError{Line: n, Msg: "component name is empty"}
	}
	if !known[fields[2]] {
		return types.ProbeSpec{}, false, &types.ConfigError{
			Line: n,
			Msg:  fmt.Sprintf("unknown probe kind %q", fields[2]),
		}
	}

	return types.ProbeSpec{
		Line:      n,
		Group:     fields[0],
		Component: fields[1],
		Kind:      fields[2],
		Params:    fields[3:],
	}, false, nil
}

// LinesFromText splits a multi-line blob on \r\n, \r or \n.
func LinesFromText(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for len(text) > 0 {
			i := strings.IndexAny(text, "\r\n")
			if i < 0 {
				yield(text)
				return
			}
			line := text[:i]
			if text[i] == '\r' && i+1 < len(text) && text[i+1] == '\n' {
				text = text[i+2:]
			} else {
				text = text[i+1:]
			}
			if !yield(line) {
				return
			}
		}
	}
}

// LinesFromFile reads a probe definition file.
func LinesFromFile(path string) (iter.Seq[string], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigError{Msg: "reading probe config", Err: err}
	}
	return LinesFromText(string(data)), nil
}

// ProbeLines returns the configured probe definitions and a label for logs.
// Inline definitions win over the config file.
func (c *Config) ProbeLines() (iter.Seq[string], string, error) {
	if strings.TrimSpace(c.Probing.Definitions) != "" {
		return LinesFromText(c.Probing.Definitions), EnvConfiguration, nil
	}
	path := c.Probing.ConfigFile
	if path == "" {
		path = DefaultProbeConfigFile
	}
	lines, err := LinesFromFile(path)
	if err != nil {
		return nil, path, err
	}
	return lines, path, nil
}
