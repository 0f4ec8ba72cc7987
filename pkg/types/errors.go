package types

import "fmt"

// ConfigError is a malformed probe definition. It aborts startup.
type ConfigError struct {
	Line int // 1-based; zero when the error is not tied to a line
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Line > 0 {
		return fmt.Sprintf("config line %d: %s", e.Line, msg)
	}
	return "config: " + msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ResolutionError means a group or component could not be looked up or
// created on the status page. It aborts startup.
type ResolutionError struct {
	Group     string
	Component string
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Group == "" && e.Component == "" {
		return fmt.Sprintf("status page: %v", e.Err)
	}
	if e.Component == "" {
		return fmt.Sprintf("resolving group %q: %v", e.Group, e.Err)
	}
	return fmt.Sprintf("resolving component %q in group %q: %v", e.Component, e.Group, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ProbeError is an unexpected failure inside a probe, including a recovered
// panic. The component is reported as a major outage.
type ProbeError struct {
	Kind string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s probe: %v", e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ReportError means a status update was not accepted by the status page.
type ReportError struct {
	ComponentID int
	Err         error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("reporting component %d: %v", e.ComponentID, e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }
