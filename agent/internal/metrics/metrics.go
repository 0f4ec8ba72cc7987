// Package metrics exposes probe loop metrics to Prometheus and samples the
// agent process with gopsutil.
package metrics

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

const namespace = "cachet_agent"

// Collector owns the agent's Prometheus registry.
type Collector struct {
	registry *prometheus.Registry
	start    time.Time

	checks          *prometheus.CounterVec
	checkDuration   *prometheus.HistogramVec
	probeErrors     *prometheus.CounterVec
	reportFailures  *prometheus.CounterVec
	componentStatus *prometheus.GaugeVec
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	components      prometheus.Gauge

	// Process samples are cached; CPUPercent is expensive on some platforms.
	mu            sync.Mutex
	cachedProcess *types.ProcessHealth
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a collector with a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry:      reg,
		start:         time.Now(),
		cacheDuration: 10 * time.Second,

		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Component checks by probe kind and resulting status",
		}, []string{"kind", "status"}),

		checkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Time spent running a probe",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		probeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_errors_total",
			Help:      "Probes that failed or panicked",
		}, []string{"kind"}),

		reportFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_failures_total",
			Help:      "Results that could not be written to the status page",
		}, []string{"component_id"}),

		componentStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "component_status",
			Help:      "Last status per component (1=operational, 2=performance issues, 3=partial outage, 4=major outage)",
		}, []string{"component_id", "group", "component"}),

		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed probe cycles",
		}),

		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent checking every component once",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		components: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "components",
			Help:      "Components registered with the probe loop",
		}),
	}
}

// Registry returns the registry to serve on /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveResult records one component check.
func (c *Collector) ObserveResult(r types.CheckResult) {
	c.checks.WithLabelValues(r.Kind, r.Status.String()).Inc()
	c.checkDuration.WithLabelValues(r.Kind).Observe(r.Duration.Seconds())
	if r.ProbeError != "" {
		c.probeErrors.WithLabelValues(r.Kind).Inc()
	}
	id := strconv.Itoa(r.ComponentID)
	if !r.Reported() {
		c.reportFailures.WithLabelValues(id).Inc()
	}
	c.componentStatus.WithLabelValues(id, r.Group, r.Component).Set(float64(r.Status))
}

// ObserveCycle records a completed cycle.
func (c *Collector) ObserveCycle(took time.Duration) {
	c.cycles.Inc()
	c.cycleDuration.Observe(took.Seconds())
}

// SetComponents records how many components the loop checks.
func (c *Collector) SetComponents(n int) {
	c.components.Set(float64(n))
}

// ProcessHealth samples the agent process.
func (c *Collector) ProcessHealth() types.ProcessHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedProcess != nil && time.Now().Before(c.cacheExpiry) {
		return *c.cachedProcess
	}

	health := sampleProcess(c.start)
	c.cachedProcess = &health
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	return health
}

func sampleProcess(start time.Time) types.ProcessHealth {
	health := types.ProcessHealth{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(start).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return health
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		health.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		health.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if memPct, err := proc.MemoryPercent(); err == nil {
		health.MemoryPercent = float64(memPct)
	}
	return health
}
