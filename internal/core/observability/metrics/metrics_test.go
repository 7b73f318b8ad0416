package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldcore/internal/core/events/bus"
	"github.com/zeusync/worldcore/internal/core/persist"
)

var (
	_ persist.Observer     = (*Metrics)(nil)
	_ bus.EventBusObserver = (*Metrics)(nil)
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := New(reg)

	m.ObserveTick(3 * time.Millisecond)
	m.ObserveTick(4 * time.Millisecond)
	m.SetEntities("player", 12)
	m.SetSessions(3)
	m.Notice("enter")
	m.Notice("enter")
	m.Notice("leave")
	m.OperationDone("transaction", nil, time.Millisecond)
	m.OperationDone("transaction", errors.New("deadlock"), time.Millisecond)
	m.TransactionRetried()
	m.QueueDepth(7)
	m.Request("GET", "/admin/stats", 404, time.Millisecond)

	b := bus.New()
	b.AddObserver(m)
	_, _ = b.Subscribe(bus.PersistRollback, func(bus.Event) error { return errors.New("x") })
	_ = b.Publish(bus.Event{Kind: bus.PersistRollback})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.entities.WithLabelValues("player")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.notices.WithLabelValues("enter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOps.WithLabelValues("transaction", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbRetries))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.dbQueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpReqs.WithLabelValues("GET", "/admin/stats", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("persist.rollback", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
