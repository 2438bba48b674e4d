// Package health serves a liveness/readiness endpoint describing the
// streaming endpoint's connection and resource state, in the style of
// the teacher's handleHealth: JSON body, healthy-vs-degraded status,
// CPU/memory figures from gopsutil.
//
// Grounded on ws/internal/single/core/handlers_http.go's handleHealth
// (status/checks/warnings/errors shape) and
// ws/internal/single/platform/cgroup_cpu.go's CPUMonitor.GetHostPercent
// gopsutil fallback path — this endpoint runs uncontainerized-by-default,
// so the host-percent path is used directly rather than the teacher's
// full cgroup quota detector.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status reports the subset of endpoint state relevant to an operator
// or orchestrator probing /health.
type Status struct {
	ConnectionActive  bool
	SignalsSubscribed int
	NATSConnected     bool
}

// StatusFunc supplies the current endpoint state at request time.
type StatusFunc func() Status

// Handler serves a JSON health report. status is always healthy unless
// sampling the host's CPU/memory fails outright.
func Handler(statusFn StatusFunc, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := statusFn()

		cpuPercent, cpuErr := cpu.Percent(0, false)
		vmem, memErr := mem.VirtualMemory()

		healthy := cpuErr == nil && memErr == nil
		status := "healthy"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
		}

		body := map[string]any{
			"status":             status,
			"uptime_seconds":     time.Since(startTime).Seconds(),
			"connection_active":  st.ConnectionActive,
			"signals_subscribed": st.SignalsSubscribed,
			"nats_connected":     st.NATSConnected,
		}
		if cpuErr == nil && len(cpuPercent) > 0 {
			body["cpu_percent"] = cpuPercent[0]
		}
		if memErr == nil {
			body["memory_used_percent"] = vmem.UsedPercent
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}
