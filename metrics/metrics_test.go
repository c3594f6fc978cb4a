package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFlush(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := New(reg)

	m.ObserveFlush(time.Now(), nil)
	m.ObserveFlush(time.Now(), nil)
	m.ObserveFlush(time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Flushes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flushes.WithLabelValues("error")))

	count, err := testutil.GatherAndCount(reg, "tapir_uow_flush_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnregistered(t *testing.T) {
	m := New(nil)
	m.DocumentsWritten.WithLabelValues(KindInsert).Add(3)
	m.Managed.Set(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.DocumentsWritten.WithLabelValues(KindInsert)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Managed))
}
