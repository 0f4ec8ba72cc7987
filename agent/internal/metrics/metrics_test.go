package metrics

import (
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pilot-net/cachet-agent/agent/internal/testutil"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

func TestObserveResult(t *testing.T) {
	c := NewCollector()

	c.ObserveResult(testutil.FixtureCheckResult(3))
	c.ObserveResult(testutil.FixtureCheckResultFailed(3, func(r *types.CheckResult) {
		r.ReportError = "status page returned 500"
	}))

	if got := promtestutil.ToFloat64(c.checks.WithLabelValues("SpringBoot", "operational")); got != 1 {
		t.Errorf("operational checks: got %v", got)
	}
	if got := promtestutil.ToFloat64(c.checks.WithLabelValues("SpringBoot", "major_outage")); got != 1 {
		t.Errorf("major outage checks: got %v", got)
	}
	if got := promtestutil.ToFloat64(c.probeErrors.WithLabelValues("SpringBoot")); got != 1 {
		t.Errorf("probe errors: got %v", got)
	}
	if got := promtestutil.ToFloat64(c.reportFailures.WithLabelValues("3")); got != 1 {
		t.Errorf("report failures: got %v", got)
	}
	if got := promtestutil.ToFloat64(c.componentStatus.WithLabelValues("3", "Infra", "API")); got != 4 {
		t.Errorf("component status: got %v", got)
	}
}

func TestObserveCycle(t *testing.T) {
	c := NewCollector()
	c.ObserveCycle(2 * time.Second)
	c.ObserveCycle(time.Second)
	c.SetComponents(5)

	if got := promtestutil.ToFloat64(c.cycles); got != 2 {
		t.Errorf("cycles: got %v", got)
	}
	if got := promtestutil.ToFloat64(c.components); got != 5 {
		t.Errorf("components: got %v", got)
	}
}

func TestRegistryGathers(t *testing.T) {
	c := NewCollector()
	c.ObserveCycle(time.Second)

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "cachet_agent_cycles_total" {
			found = true
		}
	}
	if !found {
		t.Error("cachet_agent_cycles_total not gathered")
	}
}

func TestProcessHealth(t *testing.T) {
	c := NewCollector()
	h := c.ProcessHealth()
	if h.Goroutines < 1 {
		t.Errorf("goroutines: got %d", h.Goroutines)
	}
	if h.MemoryMB <= 0 {
		t.Errorf("memory: got %v", h.MemoryMB)
	}

	// Second call within the cache window returns the same sample.
	if again := c.ProcessHealth(); again != h {
		t.Errorf("expected cached sample, got %+v then %+v", h, again)
	}
}
