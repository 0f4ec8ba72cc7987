// Package scheduler runs the probe loop.
//
// # Probe Loop
//
// Each cycle:
//  1. Check every registered component (ordered by component id)
//  2. Report the outcome to the status page
//  3. On a probe error, a probe panic or a failed report, report the
//     component as a major outage with the error text
//  4. Hand a CheckResult to the result handler
//
// After a cycle the loop sleeps for the configured interval, so a slow cycle
// delays the next one instead of overlapping it.
//
// # Failure Isolation
//
// Nothing a single component does can stop the loop or skip another
// component. The loop only ends when its context is cancelled.
//
// # Concurrency
//
// With Concurrency > 1 components are checked in parallel, bounded by the
// limit. Check and report of one component always run on the same goroutine,
// one after the other.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pilot-net/cachet-agent/agent/internal/executor"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

// ErrNoProbes is returned by Run when nothing is registered.
var ErrNoProbes = errors.New("there are no configured probes")

// Entry binds a probe to the status page component it reports on.
type Entry struct {
	ComponentID int
	Group       string
	Component   string
	Probe       executor.Probe
}

// Reporter is where outcomes go.
type Reporter interface {
	Report(ctx context.Context, componentID int, status types.StatusCode, description string) error
	ReportException(ctx context.Context, componentID int, err error) error
}

// ResultHandler receives one result per component per cycle.
// It is called from the goroutine that checked the component.
type ResultHandler func(result types.CheckResult)

// Config controls loop timing.
type Config struct {
	Interval    time.Duration // sleep between cycles (default: 60s)
	Concurrency int           // parallel checks (default: 1)

	// OnCycle, if set, is called after every cycle.
	OnCycle func(CycleSummary)
}

// Scheduler manages probe execution for all components.
type Scheduler struct {
	entries  []Entry
	reporter Reporter
	handler  ResultHandler
	logger   *slog.Logger
	cfg      Config

	mu            sync.Mutex
	cycles        int64
	lastCycleAt   time.Time
	lastCycleTook time.Duration
	reportErrors  int64
}

// NewScheduler creates a scheduler over a fixed registry.
// The registry is copied; later changes to the map are not seen.
func NewScheduler(registry map[int]Entry, reporter Reporter, handler ResultHandler, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	entries := make([]Entry, 0, len(registry))
	for id, e := range registry {
		e.ComponentID = id
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ComponentID < entries[j].ComponentID
	})

	return &Scheduler{
		entries:  entries,
		reporter: reporter,
		handler:  handler,
		logger:   logger.With("component", "scheduler"),
		cfg:      cfg,
	}
}

// Run checks every component, sleeps, and repeats until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		return ErrNoProbes
	}

	s.logger.Info("starting probe loop",
		"components", len(s.entries),
		"interval", s.cfg.Interval,
		"concurrency", s.cfg.Concurrency)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping probe loop")
			return ctx.Err()
		case <-timer.C:
		}

		s.RunCycle(ctx)
		timer.Reset(s.cfg.Interval)
	}
}

// CycleSummary describes one pass over all components.
type CycleSummary struct {
	ID           string
	Started      time.Time
	Took         time.Duration
	Checked      int
	ProbeErrors  int
	ReportErrors int
}

// RunCycle checks and reports every component once.
func (s *Scheduler) RunCycle(ctx context.Context) CycleSummary {
	summary := CycleSummary{
		ID:      uuid.NewString(),
		Started: time.Now(),
	}

	var mu sync.Mutex
	record := func(r types.CheckResult) {
		mu.Lock()
		summary.Checked++
		if r.ProbeError != "" {
			summary.ProbeErrors++
		}
		if !r.Reported() {
			summary.ReportErrors++
		}
		mu.Unlock()
	}

	if s.cfg.Concurrency == 1 {
		for _, e := range s.entries {
			if ctx.Err() != nil {
				break
			}
			record(s.step(ctx, summary.ID, e))
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, e := range s.entries {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				record(s.step(gctx, summary.ID, e))
				return nil
			})
		}
		g.Wait()
	}

	summary.Took = time.Since(summary.Started)

	s.mu.Lock()
	s.cycles++
	s.lastCycleAt = summary.Started
	s.lastCycleTook = summary.Took
	s.reportErrors += int64(summary.ReportErrors)
	s.mu.Unlock()

	s.logger.Info("probe cycle complete",
		"cycle", summary.ID,
		"checked", summary.Checked,
		"probe_errors", summary.ProbeErrors,
		"report_errors", summary.ReportErrors,
		"elapsed", summary.Took)

	if s.cfg.OnCycle != nil {
		s.cfg.OnCycle(summary)
	}
	return summary
}

// step checks one component and reports the outcome.
func (s *Scheduler) step(ctx context.Context, cycleID string, e Entry) types.CheckResult {
	start := time.Now()
	result := types.CheckResult{
		CycleID:     cycleID,
		ComponentID: e.ComponentID,
		Group:       e.Group,
		Component:   e.Component,
		Kind:        e.Probe.Kind(),
		CheckedAt:   start,
	}
	logger := s.logger.With("component_id", e.ComponentID, "group", e.Group, "name", e.Component)

	status, description, err := executor.SafeCheck(ctx, e.Probe)
	result.Duration = time.Since(start)

	if err == nil {
		result.Status, result.Description = status, description
		err = s.reporter.Report(ctx, e.ComponentID, status, description)
		if err == nil {
			logger.Debug("component checked", "status", status, "elapsed", result.Duration)
			s.emit(result)
			return result
		}
		result.ReportError = err.Error()
		logger.Warn("report failed", "error", err)
	} else {
		result.ProbeError = err.Error()
		logger.Error("probe failed", "kind", result.Kind, "error", err)
	}

	if ctx.Err() != nil {
		if result.ReportError == "" {
			result.ReportError = ctx.Err().Error()
		}
		s.emit(result)
		return result
	}

	result.Status = types.StatusMajorOutage
	result.Description = err.Error()
	if rerr := s.reporter.ReportException(ctx, e.ComponentID, err); rerr != nil {
		result.ReportError = rerr.Error()
		logger.Error("exception report failed", "error", rerr)
	} else {
		result.ReportError = ""
	}

	s.emit(result)
	return result
}

func (s *Scheduler) emit(r types.CheckResult) {
	if s.handler != nil {
		s.handler(r)
	}
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() types.SchedulerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := types.SchedulerInfo{
		Components:    len(s.entries),
		Interval:      s.cfg.Interval,
		Cycles:        s.cycles,
		LastCycleTook: s.lastCycleTook,
		ReportErrors:  s.reportErrors,
	}
	if !s.lastCycleAt.IsZero() {
		t := s.lastCycleAt
		info.LastCycleAt = &t
	}
	return info
}

// Entries returns the registered components in check order.
func (s *Scheduler) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}
