package metricsserver

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/couchbase/gocbclientcore/configprovider"
	"github.com/couchbase/gocbclientcore/endpoint"
	"github.com/couchbase/gocbclientcore/eventbus"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestConsumeEventsIncrementsConnectionCounter(t *testing.T) {
	bus := eventbus.New()
	srv := New(Options{Bus: bus})
	defer srv.Shutdown(context.Background())

	bus.Publish(endpoint.Connected{Host: "10.0.0.1"})

	require.Eventually(t, func() bool {
		return counterValue(t, srv.connectionsTotal.WithLabelValues("10.0.0.1")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConsumeEventsTracksOpenBucketGauge(t *testing.T) {
	bus := eventbus.New()
	srv := New(Options{Bus: bus})
	defer srv.Shutdown(context.Background())

	bus.Publish(configprovider.BucketOpened{Bucket: "default"})

	var gm dto.Metric
	require.Eventually(t, func() bool {
		require.NoError(t, srv.bucketsOpen.Write(&gm))
		return gm.GetGauge().GetValue() == 1
	}, time.Second, 5*time.Millisecond)

	bus.Publish(configprovider.BucketClosed{Bucket: "default"})
	require.Eventually(t, func() bool {
		require.NoError(t, srv.bucketsOpen.Write(&gm))
		return gm.GetGauge().GetValue() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))
}
