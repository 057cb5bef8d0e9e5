package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"photoproc/config"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// cpuSampleWindow is how long CPU usage is measured before deciding.
const cpuSampleWindow = 200 * time.Millisecond

// ResourceGuard refuses new work while the host is short of CPU, memory or disk.
// A zero threshold disables that check.
type ResourceGuard struct {
	idleCPU  float64
	freeMem  uint64
	freeDisk uint64
	diskPath string
	logger   *slog.Logger
}

func NewResourceGuard(cfg *config.Config, logger *slog.Logger) *ResourceGuard {
	return &ResourceGuard{
		idleCPU:  cfg.ThrottleCPU,
		freeMem:  uint64(cfg.ThrottleFreeMem),
		freeDisk: uint64(cfg.ThrottleFreeDisk),
		diskPath: cfg.ThrottleDiskPath,
		logger:   logger,
	}
}

func (g *ResourceGuard) Enabled() bool {
	return g != nil && (g.idleCPU > 0 || g.freeMem > 0 || g.freeDisk > 0)
}

// Check returns ErrInsufficientResources when a threshold is not met. Metrics that
// cannot be read are logged and skipped.
func (g *ResourceGuard) Check(ctx context.Context) error {
	if !g.Enabled() {
		return nil
	}

	if g.idleCPU > 0 {
		p, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
		if err != nil {
			g.logger.WarnContext(ctx, "could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > 100.0-g.idleCPU {
			return fmt.Errorf("%w: CPU usage %.2f%%, required idle %.2f%%", ErrInsufficientResources, p[0], g.idleCPU)
		}
	}

	if g.freeMem > 0 {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			g.logger.WarnContext(ctx, "could not get memory usage", "error", err)
		} else if vm.Available < g.freeMem {
			return fmt.Errorf("%w: available memory %d, required %d", ErrInsufficientResources, vm.Available, g.freeMem)
		}
	}

	if g.freeDisk > 0 {
		d, err := disk.UsageWithContext(ctx, g.diskPath)
		if err != nil {
			g.logger.WarnContext(ctx, "could not get disk usage", "path", g.diskPath, "error", err)
		} else if d.Free < g.freeDisk {
			return fmt.Errorf("%w: free disk %d, required %d", ErrInsufficientResources, d.Free, g.freeDisk)
		}
	}
	return nil
}
