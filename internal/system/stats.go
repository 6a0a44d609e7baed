package system

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a point-in-time resource snapshot for reports and health checks.
type Stats struct {
	ProcessRSS      uint64  `json:"processRss"`
	HostTotal       uint64  `json:"hostTotal"`
	HostAvailable   uint64  `json:"hostAvailable"`
	HostUsedPercent float64 `json:"hostUsedPercent"`
	CPUs            int     `json:"cpus"`
	Goroutines      int     `json:"goroutines"`
}

// Snapshot collects what it can; fields gopsutil cannot read stay zero.
func Snapshot() Stats {
	st := Stats{CPUs: runtime.NumCPU(), Goroutines: runtime.NumGoroutine()}

	if n, err := cpu.Counts(true); err == nil && n > 0 {
		st.CPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.HostTotal = vm.Total
		st.HostAvailable = vm.Available
		st.HostUsedPercent = vm.UsedPercent
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			st.ProcessRSS = mi.RSS
		}
	}
	return st
}
