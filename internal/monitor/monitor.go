// Package monitor samples memory, CPU and storage usage for the resource panel.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/unclebandit/reminder-mailer/internal/metrics"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/scheduler"
)

const jobName = "resource-monitor"

// Monitor keeps the most recent ResourceUsage snapshot.
type Monitor struct {
	Probe     Probe
	FS        afero.Fs
	Dir       string
	CPUWindow time.Duration
	Now       func() time.Time

	log zerolog.Logger

	mu     sync.RWMutex
	latest model.ResourceUsage
	ok     bool
}

func New(probe Probe, fs afero.Fs, dir string, log zerolog.Logger) *Monitor {
	return &Monitor{
		Probe:     probe,
		FS:        fs,
		Dir:       dir,
		CPUWindow: time.Second,
		Now:       time.Now,
		log:       log.With().Str("component", "monitor").Logger(),
	}
}

// Sample takes a fresh reading. Readings that fail are left zero and the
// first error is returned alongside the partial snapshot.
func (m *Monitor) Sample(ctx context.Context) (model.ResourceUsage, error) {
	return m.sample(ctx, m.CPUWindow)
}

func (m *Monitor) sample(ctx context.Context, cpuWindow time.Duration) (model.ResourceUsage, error) {
	var (
		u        model.ResourceUsage
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	total, used, err := m.Probe.Memory(ctx)
	keep(err)
	u.TotalMemoryBytes, u.UsedMemoryBytes = total, used

	rss, err := m.Probe.ProcessRSS(ctx)
	keep(err)
	u.ProcessRSSBytes = rss

	cores, err := m.Probe.CPU(ctx, cpuWindow)
	keep(err)
	u.CPUCorePercent = cores
	u.CPUTotalPercent = average(cores)

	size, err := DirSize(m.FS, m.Dir)
	keep(err)
	u.AppStorageBytes = size

	u.SampledAt = m.Now()
	return u, firstErr
}

// Refresh samples, caches the snapshot and updates the exported gauges.
func (m *Monitor) Refresh(ctx context.Context) error {
	return m.refresh(ctx, m.CPUWindow)
}

func (m *Monitor) refresh(ctx context.Context, cpuWindow time.Duration) error {
	u, err := m.sample(ctx, cpuWindow)
	m.mu.Lock()
	m.latest = u
	m.ok = true
	m.mu.Unlock()

	metrics.HostMemoryTotal.Set(float64(u.TotalMemoryBytes))
	metrics.HostMemoryUsed.Set(float64(u.UsedMemoryBytes))
	metrics.ProcessRSS.Set(float64(u.ProcessRSSBytes))
	metrics.CPUPercent.Set(u.CPUTotalPercent)
	metrics.AppStorage.Set(float64(u.AppStorageBytes))
	return err
}

// Latest returns the cached snapshot, if any sample has been taken.
func (m *Monitor) Latest() (model.ResourceUsage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.ok
}

// Current returns the cached snapshot. With nothing cached yet it takes a
// quick sample whose CPU figures cover the time since the previous reading
// instead of waiting out CPUWindow.
func (m *Monitor) Current(ctx context.Context) model.ResourceUsage {
	if u, ok := m.Latest(); ok {
		return u
	}
	if err := m.refresh(ctx, 0); err != nil {
		m.log.Warn().Err(err).Msg("resource sample incomplete")
	}
	u, _ := m.Latest()
	return u
}

// Register refreshes the snapshot on the scheduler every interval.
func (m *Monitor) Register(s *scheduler.Service, every time.Duration) error {
	return s.Every(jobName, every, m.Refresh)
}

// DirSize sums the sizes of regular files under root.
func DirSize(fs afero.Fs, root string) (int64, error) {
	if root == "" {
		return 0, nil
	}
	var total int64
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// unreadable entries are skipped
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("walk %s: %w", root, err)
	}
	return total, nil
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Display is the human-readable form of a snapshot.
type Display struct {
	Memory     string   `json:"memory"`
	ProcessRSS string   `json:"process_rss"`
	CPU        string   `json:"cpu"`
	Cores      []string `json:"cores"`
	AppStorage string   `json:"app_storage"`
	SampledAt  string   `json:"sampled_at"`
}

func Format(u model.ResourceUsage) Display {
	d := Display{
		Memory:     fmt.Sprintf("%s / %s", humanize.IBytes(u.UsedMemoryBytes), humanize.IBytes(u.TotalMemoryBytes)),
		ProcessRSS: humanize.IBytes(u.ProcessRSSBytes),
		CPU:        fmt.Sprintf("%.1f%%", u.CPUTotalPercent),
		AppStorage: humanize.IBytes(uint64(max(u.AppStorageBytes, 0))),
	}
	if u.TotalMemoryBytes > 0 {
		d.Memory += fmt.Sprintf(" (%.1f%%)", float64(u.UsedMemoryBytes)/float64(u.TotalMemoryBytes)*100)
	}
	for i, c := range u.CPUCorePercent {
		d.Cores = append(d.Cores, fmt.Sprintf("Core %d: %.1f%%", i+1, c))
	}
	if !u.SampledAt.IsZero() {
		d.SampledAt = humanize.Time(u.SampledAt)
	}
	return d
}
