package types

import "time"

// AgentHealth is the agent's view of itself, served by the status server.
type AgentHealth struct {
	Timestamp  time.Time     `json:"timestamp"`
	Version    string        `json:"version"`
	InstanceID string        `json:"instance_id"`
	Process    ProcessHealth `json:"process"`
	Scheduler  SchedulerInfo `json:"scheduler"`
	History    string        `json:"history_backend"`
}

// ProcessHealth contains agent runtime metrics.
type ProcessHealth struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// SchedulerInfo summarizes the run loop.
type SchedulerInfo struct {
	Components    int           `json:"components"`
	Interval      time.Duration `json:"interval"`
	Cycles        int64         `json:"cycles"`
	LastCycleAt   *time.Time    `json:"last_cycle_at,omitempty"`
	LastCycleTook time.Duration `json:"last_cycle_took"`
	ReportErrors  int64         `json:"report_errors"`
}
