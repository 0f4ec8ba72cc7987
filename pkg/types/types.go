// Package types defines the core domain types shared by the agent packages.
//
// # Design Principles
//
// 1. One status vocabulary: StatusCode is the only way a status travels through
// the agent; the wire integers of the status page live in one table in the
// cachet package.
// 2. Serialization: result types are JSON-serializable for history backends and
// the status server.
// 3. Validation: values that come from configuration are validated where they
// enter the system, not where they are used.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

// StatusCode is the health of a status-page component.
//
// The zero value is StatusUnknown and is never sent to the status page.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	// StatusOperational - everything the probe can see is up
	StatusOperational
	// StatusPerformanceIssues - degraded but serving; no built-in probe emits it
	StatusPerformanceIssues
	// StatusPartialOutage - the service answered but some subsystem is not up
	StatusPartialOutage
	// StatusMajorOutage - the service could not be checked at all
	StatusMajorOutage
)

var statusNames = map[StatusCode]string{
	StatusUnknown:           "unknown",
	StatusOperational:       "operational",
	StatusPerformanceIssues: "performance_issues",
	StatusPartialOutage:     "partial_outage",
	StatusMajorOutage:       "major_outage",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s can be reported to a status page.
func (s StatusCode) Valid() bool {
	return s >= StatusOperational && s <= StatusMajorOutage
}

// MarshalText encodes the status by name.
func (s StatusCode) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *StatusCode) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for code, n := range statusNames {
		if n == name {
			*s = code
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

// =============================================================================
// PROBES
// =============================================================================

// ProbeSpec is one parsed configuration line.
type ProbeSpec struct {
	Line      int      `json:"line"`
	Group     string   `json:"group"`
	Component string   `json:"component"`
	Kind      string   `json:"kind"`
	Params    []string `json:"params,omitempty"`
}

// CheckResult records one scheduler step for one component: the probe's
// verdict and whether it reached the status page.
type CheckResult struct {
	CycleID     string        `json:"cycle_id"`
	ComponentID int           `json:"component_id"`
	Group       string        `json:"group"`
	Component   string        `json:"component"`
	Kind        string        `json:"kind"`
	Status      StatusCode    `json:"status"`
	Description string        `json:"description"`
	CheckedAt   time.Time     `json:"checked_at"`
	Duration    time.Duration `json:"duration"`

	// ProbeError is set when the probe failed and the exception report was used.
	ProbeError string `json:"probe_error,omitempty"`
	// ReportError is set when the status page could not be updated.
	ReportError string `json:"report_error,omitempty"`
}

// Reported reports whether the status page accepted the result.
func (r *CheckResult) Reported() bool {
	return r.ReportError == ""
}
