package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

// Throttle refuses to start a job when the host is short on CPU, memory or
// disk in the work root.
type Throttle struct {
	enabled  bool
	cpuIdle  float64
	freeMem  int64
	freeDisk int64
	dir      string
	sample   time.Duration
	log      *slog.Logger
}

func NewThrottle(cfg *config.Config, dir string, log *slog.Logger) *Throttle {
	return &Throttle{
		enabled:  cfg.ThrottleEnable,
		cpuIdle:  cfg.ThrottleCPU,
		freeMem:  cfg.ThrottleFreeMem,
		freeDisk: cfg.ThrottleFreeDisk,
		dir:      dir,
		sample:   time.Second,
		log:      logging.WithComponent(log, "throttle"),
	}
}

// Check verifies that the system has enough free resources to start a new job.
func (t *Throttle) Check(ctx context.Context) error {
	if t == nil || !t.enabled {
		return nil
	}

	if t.cpuIdle > 0 {
		p, err := cpu.PercentWithContext(ctx, t.sample, false)
		if err != nil {
			t.log.Warn("could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > 100.0-t.cpuIdle {
			return insufficient(fmt.Errorf("not enough idle CPU: usage %.2f%%, idle threshold %.2f%%", p[0], t.cpuIdle))
		}
	}

	if t.freeMem > 0 {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			t.log.Warn("could not get memory usage", "error", err)
		} else if vm.Available < uint64(t.freeMem) {
			return insufficient(fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, t.freeMem))
		}
	}

	if t.freeDisk > 0 {
		d, err := disk.UsageWithContext(ctx, t.dir)
		if err != nil {
			t.log.Warn("could not get disk usage", "dir", t.dir, "error", err)
		} else if d.Free < uint64(t.freeDisk) {
			return insufficient(fmt.Errorf("not enough free disk space: available %d, required %d", d.Free, t.freeDisk))
		}
	}
	return nil
}

func insufficient(err error) error {
	return task.Errorf(task.KindInternal, "resources", fmt.Errorf("insufficient system resources: %w", err))
}
