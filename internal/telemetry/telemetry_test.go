package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/genacp/config"
	"github.com/coachpo/genacp/internal/pool"
)

func TestInitDisabledReturnsNoopProvider(t *testing.T) {
	mp, shutdown, err := Init(context.Background(), config.TelemetryConfig{EnableMetrics: false})
	require.NoError(t, err)
	require.NotNil(t, mp)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitEnabledWithoutEndpointFallsBackToNoop(t *testing.T) {
	mp, shutdown, err := Init(context.Background(), config.TelemetryConfig{EnableMetrics: true, ServiceName: "genacp-test"})
	require.NoError(t, err)
	require.NotNil(t, mp)
	require.NoError(t, shutdown(context.Background()))
}

func TestRegisterPoolInstallsInstrumentsAndRecorder(t *testing.T) {
	p, err := pool.New(pool.Attr{
		MinThreads: 1, MaxThreads: 2, JobsPerThread: 4,
		MaxIdleTime: 50 * time.Millisecond, StarvationTime: 20 * time.Millisecond, MaxJobsTotal: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown() })

	mp, _, err := Init(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)

	rec, err := RegisterPool(mp, "genacp_test", p)
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.NotPanics(t, func() {
		rec.RecordRejection(context.Background(), "too_many_jobs")
	})
}
