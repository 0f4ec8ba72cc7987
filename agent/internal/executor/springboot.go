package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// KindSpringBoot is the config name of the Spring Boot actuator probe.
const KindSpringBoot = "SpringBoot"

// maxHealthBody caps how much of a health response is read.
const maxHealthBody = 1 << 20

// healthUp is the only status value that counts as healthy.
const healthUp = "UP"

// SpringBootProbe checks a Spring Boot actuator health endpoint.
//
// The response's top-level "status" is the core status. Every other
// top-level member that is an object with a string "status" is a subsystem.
// Actuator 2+ nests subsystems under "components" (or "details" in 2.0);
// those containers are flattened. Key order of the response is preserved in
// the description.
type SpringBootProbe struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewSpringBootProbe builds the probe from a config line's parameters.
// The first parameter is the health URL; further parameters are ignored.
func NewSpringBootProbe(params []string, opts Options) (Probe, error) {
	opts = opts.withDefaults()

	if len(params) == 0 || strings.TrimSpace(params[0]) == "" {
		return nil, &types.ConfigError{Msg: "SpringBoot probe requires a health URL"}
	}
	raw := strings.TrimSpace(params[0])

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &types.ConfigError{Msg: "invalid SpringBoot health URL", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &types.ConfigError{Msg: fmt.Sprintf("SpringBoot health URL must be absolute http(s), got %q", raw)}
	}

	if len(params) > 1 {
		opts.Logger.Debug("ignoring extra SpringBoot parameters", "url", raw, "extra", params[1:])
	}

	return &SpringBootProbe{
		url:     raw,
		client:  opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}, nil
}

// Kind returns "SpringBoot".
func (p *SpringBootProbe) Kind() string {
	return KindSpringBoot
}

// URL returns the checked health URL.
func (p *SpringBootProbe) URL() string {
	return p.url
}

func (p *SpringBootProbe) String() string {
	return fmt.Sprintf("SpringBootProbe(check_url=%s)", p.url)
}

// Check performs one GET of the health URL. It never returns an error:
// transport failures become a major outage described by the error text.
func (p *SpringBootProbe) Check(ctx context.Context) (types.StatusCode, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return types.StatusMajorOutage, err.Error(), nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.StatusMajorOutage, err.Error(), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBody))
	if err != nil {
		return types.StatusMajorOutage, err.Error(), nil
	}

	health, err := parseHealth(body)
	if err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return types.StatusMajorOutage, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, snippet(body)), nil
		}
		return types.StatusMajorOutage, "malformed health response: " + err.Error(), nil
	}

	status, description := health.evaluate()
	p.logger.Debug("springboot check",
		"url", p.url,
		"http_status", resp.StatusCode,
		"core", health.core,
		"subsystems", len(health.subsystems),
		"status", status)
	return status, description, nil
}

// =============================================================================
// HEALTH DOCUMENT
// =============================================================================

type subsystem struct {
	name   string
	status string
}

type healthDoc struct {
	core       string
	subsystems []subsystem
}

var errMissingStatus = errors.New("missing top-level status")

// evaluate derives the component status and description.
func (h *healthDoc) evaluate() (types.StatusCode, string) {
	var b strings.Builder
	allUp := h.core == healthUp

	b.WriteString("Core: ")
	b.WriteString(h.core)
	b.WriteString("\n")
	for _, s := range h.subsystems {
		if s.status != healthUp {
			allUp = false
		}
		b.WriteString(s.name)
		b.WriteString(": ")
		b.WriteString(s.status)
		b.WriteString("\n")
	}

	if allUp {
		return types.StatusOperational, b.String()
	}
	return types.StatusPartialOutage, b.String()
}

// parseHealth decodes an actuator health document keeping member order.
func parseHealth(data []byte) (*healthDoc, error) {
	members, err := orderedObject(data)
	if err != nil {
		return nil, err
	}

	doc := &healthDoc{}
	hasCore := false
	for _, m := range members {
		if m.key == "status" {
			var s string
			if err := json.Unmarshal(m.value, &s); err == nil {
				doc.core = s
				hasCore = true
			}
			continue
		}

		if status, ok := memberStatus(m.value); ok {
			doc.subsystems = append(doc.subsystems, subsystem{name: m.key, status: status})
			continue
		}

		if m.key == "components" || m.key == "details" {
			children, err := orderedObject(m.value)
			if err != nil {
				continue
			}
			for _, c := range children {
				if status, ok := memberStatus(c.value); ok {
					doc.subsystems = append(doc.subsystems, subsystem{name: c.key, status: status})
				}
			}
		}
	}

	if !hasCore {
		return nil, errMissingStatus
	}
	return doc, nil
}

// memberStatus returns the string "status" of a JSON object value.
func memberStatus(raw json.RawMessage) (string, bool) {
	members, err := orderedObject(raw)
	if err != nil {
		return "", false
	}
	for _, m := range members {
		if m.key != "status" {
			continue
		}
		var s string
		if err := json.Unmarshal(m.value, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return "", false
}

type member struct {
	key   string
	value json.RawMessage
}

// orderedObject splits a JSON object into its members in document order.
func orderedObject(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("health response is not a JSON object")
	}

	var members []member
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		members = append(members, member{key: key, value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

const maxSnippet = 200

// snippet shortens body for a description, cutting on a rune boundary.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxSnippet {
		return s
	}
	n := maxSnippet
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
