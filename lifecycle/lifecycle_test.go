package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type countingStopper struct {
	stops atomic.Int32
}

func (s *countingStopper) Stop() { s.stops.Inc() }

func newTestLifecycle(onTerminate func()) (*Lifecycle, *countingStopper) {
	stopper := &countingStopper{}
	return New(stopper, onTerminate, slog.New(slog.NewTextHandler(io.Discard, nil))), stopper
}

func TestBegin(t *testing.T) {
	l, _ := newTestLifecycle(nil)
	assert.Equal(t, Idle, l.State())

	require.NoError(t, l.Begin())
	assert.Equal(t, Announcing, l.State())

	assert.ErrorIs(t, l.Begin(), ErrAlreadyStarted)

	l.Terminate()
	assert.ErrorIs(t, l.Begin(), ErrTerminated)
}

func TestAccept_RequiresAnnouncing(t *testing.T) {
	l, stopper := newTestLifecycle(nil)

	assert.ErrorIs(t, l.Accept("provision"), ErrCommandRejected)
	assert.Equal(t, Idle, l.State())
	assert.Equal(t, int32(0), stopper.stops.Load())
}

func TestAccept_OnlyFirstCommandWins(t *testing.T) {
	l, stopper := newTestLifecycle(nil)
	require.NoError(t, l.Begin())

	require.NoError(t, l.Accept("provision"))
	assert.Equal(t, CommandAccepted, l.State())
	assert.Equal(t, int32(1), stopper.stops.Load(), "announce loop must be stopped on acceptance")

	assert.ErrorIs(t, l.Accept("restore"), ErrCommandRejected)
	assert.Equal(t, int32(1), stopper.stops.Load())
}

func TestAccept_ConcurrentCommands(t *testing.T) {
	l, stopper := newTestLifecycle(nil)
	require.NoError(t, l.Begin())

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Accept("provision") == nil {
				accepted.Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), stopper.stops.Load())
}

func TestExecute_TerminatesWithoutWaitingForInstaller(t *testing.T) {
	var terminations atomic.Int32
	l, _ := newTestLifecycle(func() { terminations.Inc() })
	require.NoError(t, l.Begin())
	require.NoError(t, l.Accept("provision"))

	release := make(chan struct{})
	var ran atomic.Bool
	l.Execute(context.Background(), "provision", func(ctx context.Context) error {
		<-release
		ran.Store(true)
		return nil
	})

	assert.Equal(t, Terminated, l.State())
	assert.Equal(t, int32(1), terminations.Load())
	assert.False(t, ran.Load())

	close(release)
	l.Wait()
	assert.True(t, ran.Load())
}

func TestExecute_InstallerFailureStillTerminates(t *testing.T) {
	var terminations atomic.Int32
	l, _ := newTestLifecycle(func() { terminations.Inc() })
	require.NoError(t, l.Begin())
	require.NoError(t, l.Accept("restore"))

	var calls atomic.Int32
	l.Execute(context.Background(), "restore", func(ctx context.Context) error {
		calls.Inc()
		return errors.New("download failed")
	})
	l.Wait()

	assert.Equal(t, Terminated, l.State())
	assert.Equal(t, int32(1), terminations.Load())
	assert.Equal(t, int32(1), calls.Load(), "installer failures are not retried")
}

func TestExecute_DetachesFromRequestContext(t *testing.T) {
	l, _ := newTestLifecycle(nil)
	require.NoError(t, l.Begin())
	require.NoError(t, l.Accept("provision"))

	ctx, cancel := context.WithCancel(context.Background())
	var installCtxErr error
	l.Execute(ctx, "provision", func(installCtx context.Context) error {
		cancel()
		installCtxErr = installCtx.Err()
		return nil
	})
	l.Wait()

	assert.NoError(t, installCtxErr)
}

func TestExecute_WithoutAcceptIsIgnored(t *testing.T) {
	l, _ := newTestLifecycle(nil)
	require.NoError(t, l.Begin())

	called := false
	l.Execute(context.Background(), "provision", func(ctx context.Context) error {
		called = true
		return nil
	})
	l.Wait()

	assert.False(t, called)
	assert.Equal(t, Announcing, l.State())
}

func TestTerminate_Once(t *testing.T) {
	l, _ := newTestLifecycle(nil)

	assert.True(t, l.Terminate())
	assert.False(t, l.Terminate())
	assert.Equal(t, Terminated, l.State())
}

func TestTerminate_AcceptedCommandStillRuns(t *testing.T) {
	var terminations atomic.Int32
	l, _ := newTestLifecycle(func() { terminations.Inc() })
	require.NoError(t, l.Begin())
	require.NoError(t, l.Accept("provision"))

	assert.False(t, l.Terminate())
	assert.Equal(t, CommandAccepted, l.State())

	var ran atomic.Bool
	l.Execute(context.Background(), "provision", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	l.Wait()

	assert.True(t, ran.Load())
	assert.Equal(t, Terminated, l.State())
	assert.Equal(t, int32(1), terminations.Load())
}

func TestStateGauge_PerInstance(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_lifecycle_state"})

	published, _ := newTestLifecycle(nil)
	published.SetStateGauge(gauge)
	assert.Equal(t, float64(Idle), testutil.ToFloat64(gauge))

	require.NoError(t, published.Begin())
	assert.Equal(t, float64(Announcing), testutil.ToFloat64(gauge))

	other, _ := newTestLifecycle(nil)
	require.NoError(t, other.Begin())
	other.Terminate()
	assert.Equal(t, float64(Announcing), testutil.ToFloat64(gauge))

	published.Terminate()
	assert.Equal(t, float64(Terminated), testutil.ToFloat64(gauge))
}
