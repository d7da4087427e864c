package monitor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Probe reads host and process statistics.
type Probe interface {
	Memory(ctx context.Context) (total, used uint64, err error)
	ProcessRSS(ctx context.Context) (uint64, error)
	// CPU blocks for window and returns per-core utilisation over it.
	CPU(ctx context.Context, window time.Duration) ([]float64, error)
}

// HostProbe reads the local machine through gopsutil.
type HostProbe struct {
	pid int32
}

func NewHostProbe() *HostProbe {
	return &HostProbe{pid: int32(os.Getpid())}
}

func (p *HostProbe) Memory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.Total, vm.Used, nil
}

func (p *HostProbe) ProcessRSS(ctx context.Context) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, p.pid)
	if err != nil {
		return 0, fmt.Errorf("process %d: %w", p.pid, err)
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("process %d memory: %w", p.pid, err)
	}
	return info.RSS, nil
}

func (p *HostProbe) CPU(ctx context.Context, window time.Duration) ([]float64, error) {
	cores, err := cpu.PercentWithContext(ctx, window, true)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	return cores, nil
}

var _ Probe = (*HostProbe)(nil)
