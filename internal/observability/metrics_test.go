package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ConnectionLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConnectionOpened("chat")
	m.ConnectionOpened("chat")
	m.ConnectionClosed("chat", "idle timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionCloses.WithLabelValues("chat", "idle timeout")))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Inbound("location", "location_update")
	m.Outbound("location", "location_received")
	m.Outbound("location", "location_received")
	m.UpgradeRejected("location", "not_in_progress")
	m.SlowConsumer("chat")
	m.StoreAppend(time.Now(), nil)
	m.StoreAppend(time.Now(), errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnvelopesInbound.WithLabelValues("location", "location_update")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EnvelopesOutbound.WithLabelValues("location", "location_received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpgradeRejections.WithLabelValues("location", "not_in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlowConsumerDrops.WithLabelValues("chat")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StoreAppendDuration))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened("chat")
		m.ConnectionClosed("chat", "x")
		m.Inbound("chat", "message")
		m.Outbound("chat", "message")
		m.UpgradeRejected("chat", "unauthorized")
		m.StoreAppend(time.Now(), nil)
		m.SlowConsumer("chat")
	})
}
