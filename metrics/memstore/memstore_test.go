package memstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/promexporter/metrics"
	"github.com/remiges-tech/promexporter/metrics/memstore"
	"github.com/remiges-tech/promexporter/metrics/storagetest"
)

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) metrics.Storage {
		return memstore.New()
	})
}

func TestKeyPrefixIsEmpty(t *testing.T) {
	storage := memstore.New()
	assert.Equal(t, "", storage.KeyPrefix())

	gauge := metrics.NewGauge(storage, "flownative_prometheus_test_sessions", "A gauge for testing", nil)
	assert.Equal(t, ":gauge:flownative_prometheus_test_sessions", gauge.Identifier())
}

func TestCollectIncludesCollectorsWithoutSamples(t *testing.T) {
	storage := memstore.New()
	metrics.NewCounter(storage, "unused_total", "A counter which was not used", nil)

	collections, err := storage.Collect()
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, "unused_total", collections[0].Name())
	assert.Equal(t, 0, collections[0].Len())
}

func TestCounterAndGaugeWithSameNameAreSeparate(t *testing.T) {
	storage := memstore.New()
	counter := metrics.NewCounter(storage, "same_name", "", nil)
	gauge := metrics.NewGauge(storage, "same_name", "", nil)
	require.NoError(t, counter.Inc(2, nil))
	require.NoError(t, gauge.Set(7, nil))

	collections, err := storage.Collect()
	require.NoError(t, err)
	require.Len(t, collections, 2)
	assert.Equal(t, metrics.CounterType, collections[0].Type())
	assert.Equal(t, float64(2), collections[0].Samples()[0].Value())
	assert.Equal(t, metrics.GaugeType, collections[1].Type())
	assert.Equal(t, float64(7), collections[1].Samples()[0].Value())
}
