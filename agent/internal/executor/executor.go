// Package executor defines the plugin interface for probe kinds.
//
// # Design Principles
//
// 1. Small interface: a probe only knows how to check its target and turn
// the answer into a status and a description
// 2. Construction from config: each kind registers a Factory that validates
// the kind's parameters when the config is loaded, not on the first check
// 3. Failures are statuses: a probe reports an unreachable target as a
// major outage instead of returning an error
//
// # Adding New Probe Kinds
//
// To add a new probe kind:
//
//  1. Create a new file (e.g., tcp.go) implementing the Probe interface
//  2. Write a Factory that builds it from the config line's parameters
//  3. Register the factory in DefaultRegistry
//
// Example:
//
//	type TCPProbe struct { /* ... */ }
//	func (p *TCPProbe) Kind() string { return "TCP" }
//	func (p *TCPProbe) Check(ctx) (types.StatusCode, string, error) { /* ... */ }
//
//	// In DefaultRegistry:
//	r.Register("TCP", NewTCPProbe)
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// Probe is the interface all probe kinds implement.
type Probe interface {
	// Kind returns the config name of the probe kind (e.g., "SpringBoot")
	Kind() string

	// Check inspects the target once. Expected failures of the target are
	// returned as a status with a nil error; a non-nil error means the probe
	// itself could not do its job.
	Check(ctx context.Context) (types.StatusCode, string, error)
}

// Options are shared settings handed to every factory.
type Options struct {
	// Timeout bounds a single check (default: 5s)
	Timeout time.Duration

	// HTTPClient is used by HTTP based probes; nil builds a default client
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DefaultTimeout bounds a check when Options.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// Factory builds a probe from the parameters after the kind on a config line.
type Factory func(params []string, opts Options) (Probe, error)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps probe kinds to their factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with every built-in probe kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.Register(KindSpringBoot, NewSpringBootProbe); err != nil {
		panic(err)
	}
	return r
}

// Register adds a factory for kind.
// Returns an error if the kind is already registered.
func (r *Registry) Register(kind string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == "" || f == nil {
		return fmt.Errorf("invalid probe registration for kind %q", kind)
	}
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("probe kind already registered: %s", kind)
	}
	r.factories[kind] = f
	return nil
}

// Get returns the factory for kind.
func (r *Registry) Get(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build constructs the probe described by spec. Construction failures are
// reported as *types.ConfigError pointing at the spec's line.
func (r *Registry) Build(spec types.ProbeSpec, opts Options) (Probe, error) {
	f, ok := r.Get(spec.Kind)
	if !ok {
		return nil, &types.ConfigError{Line: spec.Line, Msg: fmt.Sprintf("unknown probe kind %q", spec.Kind)}
	}

	p, err := f(spec.Params, opts.withDefaults())
	if err != nil {
		var cfgErr *types.ConfigError
		if errors.As(err, &cfgErr) {
			if cfgErr.Line == 0 {
				cfgErr.Line = spec.Line
			}
			return nil, cfgErr
		}
		return nil, &types.ConfigError{Line: spec.Line, Msg: spec.Kind, Err: err}
	}
	return p, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// SafeCheck runs p.Check and converts a panic into a *types.ProbeError.
// A non-nil error from the probe is wrapped the same way.
func SafeCheck(ctx context.Context, p Probe) (status types.StatusCode, description string, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, description = types.StatusUnknown, ""
			err = &types.ProbeError{
				Kind: p.Kind(),
				Err:  fmt.Errorf("panic: %v", r),
			}
		}
	}()

	status, description, err = p.Check(ctx)
	if err != nil {
		return types.StatusUnknown, "", &types.ProbeError{Kind: p.Kind(), Err: err}
	}
	if !status.Valid() {
		return types.StatusUnknown, "", &types.ProbeError{
			Kind: p.Kind(),
			Err:  fmt.Errorf("probe returned invalid status %s", status),
		}
	}
	return status, description, nil
}
