package pipeline

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/SunilSharmaNP/ssm/config"
)

// checkResources verifies the host has enough headroom to start another
// ffmpeg job. Read failures are ignored; a monitoring hiccup should not
// block work.
func checkResources(cfg *config.Config) error {
	if p, err := cpu.Percent(time.Second, false); err == nil && len(p) > 0 {
		if p[0] > 100.0-cfg.ThrottleCPU {
			return errors.Errorf("not enough idle CPU: usage %.2f%%, need %.2f%% idle", p[0], cfg.ThrottleCPU)
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		if vm.Available < uint64(cfg.ThrottleFreeMem) {
			return errors.Errorf("not enough free memory: %d available, %d required", vm.Available, cfg.ThrottleFreeMem)
		}
	}

	if d, err := disk.Usage(cfg.DownloadDir); err == nil {
		if d.Free < uint64(cfg.ThrottleFreeDisk) {
			return errors.Errorf("not enough free disk: %d available, %d required", d.Free, cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
