package scheduler

import (
	"runtime"

	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/dbops/fleetmon/internal/log"
)

// logHostInfo prints a one-line summary of the host the monitor runs on.
// Collection load is dominated by remote DB round-trips, but a saturated
// monitor host skews QPS and lag readings, so the baseline is worth a line
// in the log.
func logHostInfo() {
	avg, err := load.Avg()
	if err != nil {
		log.Debugf("host info: load average unavailable: %s", err)
		avg = &load.AvgStat{}
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debugf("host info: memory stats unavailable: %s", err)
		vm = &mem.VirtualMemoryStat{}
	}
	log.Infof("host: %d CPUs, load average %.2f/%.2f/%.2f, memory %.1f%% used",
		runtime.NumCPU(), avg.Load1, avg.Load5, avg.Load15, vm.UsedPercent)
}
