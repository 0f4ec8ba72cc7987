// Package testutil provides testing utilities and fixtures for the agent.
//
// Fixtures use functional options for customization:
//
//	r := testutil.FixtureCheckResult(7)
//	r := testutil.FixtureCheckResult(7, func(r *types.CheckResult) {
//		r.Status = types.StatusPartialOutage
//	})
package testutil

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewVerboseTestLogger returns a debug logger that writes to stderr.
// Use for debugging test failures.
func NewVerboseTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// =============================================================================
// PROBE FIXTURES
// =============================================================================

// FixtureProbeSpec creates a SpringBoot definition on line 1.
func FixtureProbeSpec(overrides ...func(*types.ProbeSpec)) types.ProbeSpec {
	spec := types.ProbeSpec{
		Line:      1,
		Group:     "Infra",
		Component: "API",
		Kind:      "SpringBoot",
		Params:    []string{"http://api.internal:8080/actuator/health"},
	}
	for _, override := range overrides {
		override(&spec)
	}
	return spec
}

// =============================================================================
// RESULT FIXTURES
// =============================================================================

// FixtureCheckResult creates an operational, reported result for the
// component.
func FixtureCheckResult(componentID int, overrides ...func(*types.CheckResult)) types.CheckResult {
	r := types.CheckResult{
		CycleID:     uuid.NewString(),
		ComponentID: componentID,
		Group:       "Infra",
		Component:   "API",
		Kind:        "SpringBoot",
		Status:      types.StatusOperational,
		Description: "Core: UP\n",
		CheckedAt:   time.Now().UTC().Truncate(time.Millisecond),
		Duration:    15 * time.Millisecond,
	}
	for _, override := range overrides {
		override(&r)
	}
	return r
}

// FixtureCheckResultFailed creates a result whose probe failed and whose
// exception report was accepted.
func FixtureCheckResultFailed(componentID int, overrides ...func(*types.CheckResult)) types.CheckResult {
	return FixtureCheckResult(componentID, append([]func(*types.CheckResult){
		func(r *types.CheckResult) {
			r.Status = types.StatusMajorOutage
			r.ProbeError = "SpringBoot probe: panic: boom"
			r.Description = r.ProbeError
		},
	}, overrides...)...)
}

// =============================================================================
// HELPERS
// =============================================================================

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// TimeAgo returns the time d before now.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().Add(-d)
}
