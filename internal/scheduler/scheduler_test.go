package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mycoool/portsync/internal/config"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	ticks  atomic.Int32
	forces atomic.Int32
}

func (r *countingRunner) Tick(context.Context) reconciler.Outcome {
	r.ticks.Add(1)
	return reconciler.Outcome{Action: reconciler.ActionNoOp}
}

func (r *countingRunner) Force(context.Context) reconciler.Outcome {
	r.forces.Add(1)
	return reconciler.Outcome{Action: reconciler.ActionNoOp}
}

func start(t *testing.T, s *Scheduler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func TestRun_TicksImmediatelyAndPeriodically(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := &countingRunner{}
	cfg := config.Static{PortFile: filepath.Join(t.TempDir(), "port"), CheckInterval: 30}
	stop := start(t, New(r, cfg, WithPeriod(10*time.Millisecond), WithLogger(logger)))

	require.Eventually(t, func() bool { return r.ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, int32(0), r.forces.Load())
}

func TestRun_FileEventForcesCheck(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	path := filepath.Join(dir, "forwarded_port")
	r := &countingRunner{}
	cfg := config.Static{PortFile: path, CheckInterval: 30}
	stop := start(t, New(r, cfg, WithPeriod(time.Hour), WithDebounce(20*time.Millisecond), WithLogger(logger)))
	defer stop()

	require.Eventually(t, func() bool { return r.ticks.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))

	require.Eventually(t, func() bool { return r.forces.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), r.forces.Load())
}

func TestRun_WatchDisabled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	path := filepath.Join(dir, "forwarded_port")
	disabled := false
	r := &countingRunner{}
	cfg := config.Static{PortFile: path, CheckInterval: 30, Watch: &disabled}
	stop := start(t, New(r, cfg, WithPeriod(time.Hour), WithDebounce(10*time.Millisecond), WithLogger(logger)))
	defer stop()

	require.Eventually(t, func() bool { return r.ticks.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), r.forces.Load())
}
