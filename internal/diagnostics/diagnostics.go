// Package diagnostics captures a host and pipeline snapshot when the
// pipeline misbehaves, for example when a stage keeps stalling.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tphakala/sensorflow/internal/dpu"
	"github.com/tphakala/sensorflow/internal/errors"
)

// Snapshot is a point in time view of the host, the process and the
// stages.
type Snapshot struct {
	Reason     string      `json:"reason"`
	Time       time.Time   `json:"time"`
	CPUPercent float64     `json:"cpu_percent"`
	MemPercent float64     `json:"mem_percent"`
	SwapPct    float64     `json:"swap_percent"`
	ProcessRSS uint64      `json:"process_rss_bytes"`
	Goroutines int         `json:"goroutines"`
	HeapAlloc  uint64      `json:"heap_alloc_bytes"`
	NumGC      uint32      `json:"num_gc"`
	DiskFree   uint64      `json:"disk_free_bytes,omitempty"`
	Stages     []dpu.Stats `json:"stages"`
}

// Capture collects a snapshot. Host metrics that cannot be read are left
// zero; the CPU figure is measured since the previous call.
func Capture(reason string, stages []dpu.Stats) Snapshot {
	s := Snapshot{
		Reason:     reason,
		Time:       time.Now(),
		Goroutines: runtime.NumGoroutine(),
		Stages:     stages,
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemPercent = vm.UsedPercent
	}
	if sw, err := mem.SwapMemory(); err == nil {
		s.SwapPct = sw.UsedPercent
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pid fits int32
		if info, err := p.MemoryInfo(); err == nil {
			s.ProcessRSS = info.RSS
		}
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.HeapAlloc = m.HeapAlloc
	s.NumGC = m.NumGC
	return s
}

// String renders the snapshot for a log or a support ticket.
func (s Snapshot) String() string {
	var b strings.Builder
	separator := "======== DEBUG INFO START ========"
	fmt.Fprintf(&b, "%s\n", separator)
	fmt.Fprintf(&b, "Reason: %s\n", s.Reason)
	fmt.Fprintf(&b, "Time: %s\n", s.Time.Format(time.RFC3339))
	fmt.Fprintf(&b, "CPU Utilization: %.2f%%\n", s.CPUPercent)
	fmt.Fprintf(&b, "RAM Usage: %.2f%%\n", s.MemPercent)
	fmt.Fprintf(&b, "Swap Usage: %.2f%%\n", s.SwapPct)
	fmt.Fprintf(&b, "Process RSS: %d MiB\n", bToMb(s.ProcessRSS))
	fmt.Fprintf(&b, "Go Runtime: Goroutines = %d, HeapAlloc = %d MiB, NumGC = %d\n",
		s.Goroutines, bToMb(s.HeapAlloc), s.NumGC)
	if s.DiskFree > 0 {
		fmt.Fprintf(&b, "Disk Free: %d MiB\n", bToMb(s.DiskFree))
	}
	for _, st := range s.Stages {
		fmt.Fprintf(&b, "Stage %s: active=%t processed=%d stalls=%d dropped=%d",
			st.Name, st.Active, st.Processed, st.Stalls, st.DroppedElements)
		if st.Fault != "" {
			fmt.Fprintf(&b, " fault=%q", st.Fault)
		}
		b.WriteString("\n")
		for _, l := range st.Links {
			fmt.Fprintf(&b, "  link %s: ready=%d free=%d of %d\n", l.Name, l.Ready, l.Free, l.ItemCount)
		}
	}
	fmt.Fprintf(&b, "%s\n", strings.ReplaceAll(separator, "START", "END"))
	return b.String()
}

// WriteFile stores the snapshot as JSON in dir and returns the file path.
// The free space left on dir's filesystem is recorded in the file.
func (s Snapshot) WriteFile(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if free, err := diskFree(dir); err == nil {
		s.DiskFree = free
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", errors.New(err).Component("diagnostics").Category(errors.CategorySystem).Build()
	}
	path := filepath.Join(dir, fmt.Sprintf("debug_%s.json", s.Time.Format("2006-01-02_15-04-05")))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryFileIO).
			FileContext(path, int64(len(data))).
			Build()
	}
	return path, nil
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
