// Package agent wires the status page agent together.
//
// # Agent Lifecycle
//
//  1. Resolve the API token (plain, file:// or op:// reference)
//  2. Ping the status page
//  3. Parse probe definitions; the first malformed line aborts startup
//  4. Resolve every (group, component) pair to a component id, creating
//     missing groups and components
//  5. Start the status server, if configured
//  6. Run the probe loop until shutdown
//
// Steps 2 to 4 run once, sequentially, before any probe is checked. A
// failure in any of them is fatal; nothing after step 5 is.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pilot-net/cachet-agent/agent/internal/cachet"
	"github.com/pilot-net/cachet-agent/agent/internal/config"
	"github.com/pilot-net/cachet-agent/agent/internal/executor"
	"github.com/pilot-net/cachet-agent/agent/internal/history"
	"github.com/pilot-net/cachet-agent/agent/internal/metrics"
	"github.com/pilot-net/cachet-agent/agent/internal/reporter"
	"github.com/pilot-net/cachet-agent/agent/internal/resolver"
	"github.com/pilot-net/cachet-agent/agent/internal/scheduler"
	"github.com/pilot-net/cachet-agent/agent/internal/secrets"
	"github.com/pilot-net/cachet-agent/agent/internal/server"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

// Version is set at build time.
var Version = "dev"

// ErrNoProbes is returned when the configuration defines no probes.
var ErrNoProbes = scheduler.ErrNoProbes

// Agent is the status page agent.
type Agent struct {
	cfg      *config.Config
	client   *cachet.Client
	resolver *resolver.Resolver
	reporter *reporter.Reporter
	probes   *executor.Registry
	metrics  *metrics.Collector
	board    *server.Board
	history  history.Recorder
	writer   *history.Writer
	logger   *slog.Logger

	// probeHTTP is shared by every probe; nil uses executor defaults.
	probeHTTP *http.Client

	scheduler  *scheduler.Scheduler
	instanceID string
	startTime  time.Time
}

// Option customizes an Agent.
type Option func(*Agent)

// WithProbeHTTPClient sets the HTTP client used by probes.
func WithProbeHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.probeHTTP = c }
}

// WithRegistry replaces the built-in probe kinds.
func WithRegistry(r *executor.Registry) Option {
	return func(a *Agent) { a.probes = r }
}

// New creates an agent. It resolves the API token and opens the history
// backend but does not contact the status page.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	token, err := secrets.NewResolver(cfg.Secrets, logger).Resolve(ctx, cfg.Cachet.Token)
	if err != nil {
		return nil, fmt.Errorf("resolving API token: %w", err)
	}

	instanceID := uuid.NewString()
	client := cachet.NewClient(cachet.Config{
		BaseURL:            cfg.Cachet.Endpoint,
		Token:              token,
		Timeout:            cfg.Cachet.RequestTimeout,
		RateLimit:          cfg.Cachet.RateLimit,
		InsecureSkipVerify: cfg.Cachet.InsecureSkipVerify,
		UserAgent:          "cachet-agent/" + Version,
		InstanceID:         instanceID,
	}, logger)

	a := &Agent{
		cfg:        cfg,
		client:     client,
		resolver:   resolver.New(client, logger),
		reporter:   reporter.New(client, logger),
		probes:     executor.DefaultRegistry(),
		metrics:    metrics.NewCollector(),
		board:      server.NewBoard(),
		logger:     logger,
		instanceID: instanceID,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}

	rec, err := history.New(ctx, cfg.History, logger)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	a.history = rec
	a.writer = history.NewWriter(rec, 0, 0, logger)

	return a, nil
}

// Run prepares the agent and runs the probe loop until ctx is cancelled.
// A cancelled context is a clean shutdown and returns nil.
//
// The status server address is bound before anything else, so a bad address
// fails startup without a remote call. Once running, a status server error
// is logged and probing continues.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting agent",
		"version", Version,
		"instance", a.instanceID,
		"endpoint", a.client.BaseURL())

	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		ln = l
	}

	if err := a.Prepare(ctx); err != nil {
		if ln != nil {
			ln.Close()
		}
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var serverDone chan struct{}
	if ln != nil {
		serverDone = make(chan struct{})
		srv := server.New(a.cfg.Server, server.Deps{
			Board:    a.board,
			Health:   a.Health,
			History:  a.history,
			Gatherer: a.metrics.Registry(),
		}, a.logger)
		go func() {
			defer close(serverDone)
			if err := srv.Serve(ctx, ln); err != nil {
				a.logger.Error("status server failed, probing continues", "error", err)
			}
		}()
	}

	err := a.scheduler.Run(ctx)
	cancel()
	if serverDone != nil {
		<-serverDone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Prepare parses the probe definitions, pings the status page and resolves
// every component. Definitions are fully checked before the first remote
// call. Prepare is called by Run and RunOnce and does nothing the second
// time.
func (a *Agent) Prepare(ctx context.Context) error {
	if a.scheduler != nil {
		return nil
	}

	specs, source, err := a.loadProbes()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return ErrNoProbes
	}
	a.logger.Info("probe definitions loaded", "source", source, "count", len(specs))

	probes, err := a.buildProbes(specs)
	if err != nil {
		return err
	}

	if !a.cfg.Cachet.SkipPing {
		if err := a.client.Ping(ctx); err != nil {
			return &types.ResolutionError{Err: fmt.Errorf("ping %s: %w", a.client.BaseURL(), err)}
		}
		a.logger.Debug("status page reachable")
	}

	registry, err := a.register(ctx, specs, probes)
	if err != nil {
		return err
	}

	a.metrics.SetComponents(len(registry))
	a.scheduler = scheduler.NewScheduler(registry, a.reporter, a.handleResult, scheduler.Config{
		Interval:    a.cfg.Probing.CheckInterval,
		Concurrency: a.cfg.Probing.Concurrency,
		OnCycle: func(s scheduler.CycleSummary) {
			a.metrics.ObserveCycle(s.Took)
		},
	}, a.logger)
	return nil
}

// RunOnce prepares the agent if needed and runs a single cycle.
func (a *Agent) RunOnce(ctx context.Context) (scheduler.CycleSummary, error) {
	if err := a.Prepare(ctx); err != nil {
		return scheduler.CycleSummary{}, err
	}
	return a.scheduler.RunCycle(ctx), nil
}

// loadProbes parses every definition, stopping at the first malformed line.
func (a *Agent) loadProbes() ([]types.ProbeSpec, string, error) {
	lines, source, err := a.cfg.ProbeLines()
	if err != nil {
		return nil, source, err
	}

	var specs []types.ProbeSpec
	for spec, err := range config.ParseProbes(lines, a.probes.Kinds()) {
		if err != nil {
			return nil, source, err
		}
		specs = append(specs, spec)
	}
	return specs, source, nil
}

func (a *Agent) buildProbes(specs []types.ProbeSpec) ([]executor.Probe, error) {
	opts := executor.Options{
		Timeout:    a.cfg.Probing.ProbeTimeout,
		HTTPClient: a.probeHTTP,
		Logger:     a.logger,
	}

	probes := make([]executor.Probe, len(specs))
	for i, spec := range specs {
		p, err := a.probes.Build(spec, opts)
		if err != nil {
			return nil, err
		}
		probes[i] = p
	}
	return probes, nil
}

// register resolves the component of every spec, sequentially and in
// definition order. A component defined twice keeps the last probe.
func (a *Agent) register(ctx context.Context, specs []types.ProbeSpec, probes []executor.Probe) (map[int]scheduler.Entry, error) {
	registry := make(map[int]scheduler.Entry, len(specs))
	for i, spec := range specs {
		id, err := a.resolver.ResolveComponent(ctx, spec.Group, spec.Component)
		if err != nil {
			return nil, err
		}
		if prev, dup := registry[id]; dup {
			a.logger.Warn("component configured more than once, keeping the last definition",
				"component_id", id,
				"group", spec.Group,
				"name", spec.Component,
				"replaced_kind", prev.Probe.Kind(),
				"line", spec.Line)
		}
		registry[id] = scheduler.Entry{
			ComponentID: id,
			Group:       spec.Group,
			Component:   spec.Component,
			Probe:       probes[i],
		}
		a.logger.Info("component registered",
			"component_id", id,
			"group", spec.Group,
			"name", spec.Component,
			"kind", spec.Kind)
	}
	return registry, nil
}

// handleResult fans a result out to metrics, the status board and history.
func (a *Agent) handleResult(r types.CheckResult) {
	a.metrics.ObserveResult(r)
	a.board.Update(r)
	a.writer.Add(r)
}

// Health returns the agent's own health.
func (a *Agent) Health() types.AgentHealth {
	h := types.AgentHealth{
		Timestamp:  time.Now(),
		Version:    Version,
		InstanceID: a.instanceID,
		Process:    a.metrics.ProcessHealth(),
		History:    a.history.Backend(),
	}
	if a.scheduler != nil {
		h.Scheduler = a.scheduler.Stats()
	}
	return h
}

// Board returns the last result of every component.
func (a *Agent) Board() *server.Board {
	return a.board
}

// Close flushes queued history writes and releases the history backend.
func (a *Agent) Close() error {
	a.writer.Close()
	return a.history.Close()
}

// CheckProbes parses the configured probe definitions and builds every probe
// without contacting the status page. Every problem found is combined into
// the returned error.
func CheckProbes(cfg *config.Config, registry *executor.Registry) ([]types.ProbeSpec, error) {
	if registry == nil {
		registry = executor.DefaultRegistry()
	}
	lines, _, err := cfg.ProbeLines()
	if err != nil {
		return nil, err
	}

	var (
		specs []types.ProbeSpec
		errs  error
	)
	opts := executor.Options{Timeout: cfg.Probing.ProbeTimeout}
	for spec, err := range config.ParseProbes(lines, registry.Kinds()) {
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := registry.Build(spec, opts); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 && errs == nil {
		return nil, ErrNoProbes
	}
	return specs, errs
}
