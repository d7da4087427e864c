package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/reminder-mailer/internal/logger"
	"github.com/unclebandit/reminder-mailer/internal/metrics"
	"github.com/unclebandit/reminder-mailer/internal/model"
)

type fakeProbe struct {
	total, used, rss uint64
	cores            []float64
	memErr           error

	mu      sync.Mutex
	windows []time.Duration
}

func (p *fakeProbe) Memory(context.Context) (uint64, uint64, error) {
	return p.total, p.used, p.memErr
}

func (p *fakeProbe) ProcessRSS(context.Context) (uint64, error) { return p.rss, nil }

func (p *fakeProbe) CPU(_ context.Context, window time.Duration) ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = append(p.windows, window)
	return p.cores, nil
}

func appFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/main", make([]byte, 1000), 0o755))
	require.NoError(t, afero.WriteFile(fs, "/app/static/site.css", make([]byte, 24), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/other/big", make([]byte, 5000), 0o644))
	return fs
}

func TestDirSize(t *testing.T) {
	fs := appFS(t)

	size, err := DirSize(fs, "/app")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)

	size, err = DirSize(fs, "")
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestRefresh_CachesAndExports(t *testing.T) {
	probe := &fakeProbe{total: 8 << 30, used: 2 << 30, rss: 64 << 20, cores: []float64{10, 30}}
	m := New(probe, appFS(t), "/app", logger.Nop())
	fixed := time.Date(2024, 12, 1, 21, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return fixed }

	_, ok := m.Latest()
	assert.False(t, ok)

	require.NoError(t, m.Refresh(context.Background()))
	u, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(8<<30), u.TotalMemoryBytes)
	assert.Equal(t, 20.0, u.CPUTotalPercent)
	assert.Equal(t, []float64{10, 30}, u.CPUCorePercent)
	assert.Equal(t, int64(1024), u.AppStorageBytes)
	assert.Equal(t, fixed, u.SampledAt)

	assert.Equal(t, float64(64<<20), testutil.ToFloat64(metrics.ProcessRSS))
	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.CPUPercent))
}

func TestSample_PartialFailure(t *testing.T) {
	probe := &fakeProbe{memErr: errors.New("no /proc"), rss: 1, cores: []float64{50}}
	m := New(probe, appFS(t), "/app", logger.Nop())

	u, err := m.Sample(context.Background())
	assert.Error(t, err)
	assert.Equal(t, uint64(1), u.ProcessRSSBytes)
	assert.Equal(t, 50.0, u.CPUTotalPercent)
}

func TestCurrent_SamplesWhenEmpty(t *testing.T) {
	probe := &fakeProbe{rss: 42}
	m := New(probe, appFS(t), "/app", logger.Nop())
	u := m.Current(context.Background())
	assert.Equal(t, uint64(42), u.ProcessRSSBytes)
	assert.Equal(t, []time.Duration{0}, probe.windows, "first page render does not wait for a CPU window")

	require.NoError(t, m.Refresh(context.Background()))
	m.Current(context.Background())
	assert.Equal(t, []time.Duration{0, time.Second}, probe.windows)
}

func TestFormat(t *testing.T) {
	d := Format(model.ResourceUsage{
		TotalMemoryBytes: 8 << 30,
		UsedMemoryBytes:  2 << 30,
		ProcessRSSBytes:  64 << 20,
		CPUTotalPercent:  12.34,
		CPUCorePercent:   []float64{5, 19.68},
		AppStorageBytes:  2048,
	})
	assert.Equal(t, "2.0 GiB / 8.0 GiB (25.0%)", d.Memory)
	assert.Equal(t, "64 MiB", d.ProcessRSS)
	assert.Equal(t, "12.3%", d.CPU)
	assert.Equal(t, []string{"Core 1: 5.0%", "Core 2: 19.7%"}, d.Cores)
	assert.Equal(t, "2.0 KiB", d.AppStorage)
	assert.Empty(t, d.SampledAt)
}
