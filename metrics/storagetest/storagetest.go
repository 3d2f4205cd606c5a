// Package storagetest provides the behavior tests every metrics.Storage
// implementation has to pass. Backend packages call Run from their own tests.
package storagetest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/promexporter/metrics"
)

// Run executes the storage behavior tests. newStorage must return an empty
// storage for every call.
func Run(t *testing.T, newStorage func(t *testing.T) metrics.Storage) {
	t.Run("flush removes existing metrics", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "", nil)
		require.NoError(t, counter.Inc(1, nil))

		collections, err := storage.Collect()
		require.NoError(t, err)
		assert.Len(t, collections, 1)

		require.NoError(t, storage.Flush())
		collections, err = storage.Collect()
		require.NoError(t, err)
		assert.Len(t, collections, 0)
	})

	t.Run("update after flush fails with unknown collector", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "", nil)
		gauge := metrics.NewGauge(storage, "test_gauge", "", nil)
		require.NoError(t, storage.Flush())

		assert.ErrorIs(t, counter.Inc(1, nil), metrics.ErrUnknownCollector)
		assert.ErrorIs(t, gauge.Set(1, nil), metrics.ErrUnknownCollector)
	})

	t.Run("counter increases by given values", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "", nil)
		require.NoError(t, counter.Inc(5, nil))
		require.NoError(t, counter.Inc(3, nil))
		require.NoError(t, counter.Inc(1.5, nil))

		samples := samplesOf(t, storage, counter)
		require.Len(t, samples, 1)
		assert.Equal(t, 9.5, samples[0].Value())
		assert.Empty(t, samples[0].Labels())
	})

	t.Run("counter supports labels", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "http_responses_total", "", []string{"code"})
		require.NoError(t, counter.Inc(25, metrics.Labels{"code": "200"}))
		require.NoError(t, counter.Inc(3, metrics.Labels{"code": "404"}))
		require.NoError(t, counter.Inc(43, metrics.Labels{"code": "200"}))

		samples := samplesOf(t, storage, counter)
		require.Len(t, samples, 2)
		assert.Equal(t, metrics.Labels{"code": "200"}, samples[0].LabelMap())
		assert.Equal(t, float64(68), samples[0].Value())
		assert.Equal(t, metrics.Labels{"code": "404"}, samples[1].LabelMap())
		assert.Equal(t, float64(3), samples[1].Value())
	})

	t.Run("samples are sorted by labels", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "http_responses_total", "", nil)
		require.NoError(t, counter.Inc(25, metrics.Labels{"code": "200", "access_protection": "no"}))
		require.NoError(t, counter.Inc(3, metrics.Labels{"code": "404"}))
		require.NoError(t, counter.Inc(105, metrics.Labels{"code": "200", "access_protection": "yes"}))
		require.NoError(t, counter.Inc(9, metrics.Labels{"code": "404"}))

		expected := []metrics.Sample{
			metrics.NewSample("http_responses_total", []metrics.Label{{Name: "access_protection", Value: "no"}, {Name: "code", Value: "200"}}, 25),
			metrics.NewSample("http_responses_total", []metrics.Label{{Name: "access_protection", Value: "yes"}, {Name: "code", Value: "200"}}, 105),
			metrics.NewSample("http_responses_total", []metrics.Label{{Name: "code", Value: "404"}}, 12),
		}
		assert.Equal(t, expected, samplesOf(t, storage, counter))
	})

	t.Run("label order does not create new series", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "", nil)
		first := metrics.Labels{}
		first["method"] = "get"
		first["code"] = "200"
		second := metrics.Labels{}
		second["code"] = "200"
		second["method"] = "get"
		require.NoError(t, counter.Inc(1, first))
		require.NoError(t, counter.Inc(2, second))

		samples := samplesOf(t, storage, counter)
		require.Len(t, samples, 1)
		assert.Equal(t, float64(3), samples[0].Value())
	})

	t.Run("counter set operation resets to zero", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "", nil)
		require.NoError(t, counter.Inc(5, nil))

		update, err := metrics.NewCounterUpdate(metrics.OperationSet, 2, nil)
		require.NoError(t, err)
		require.NoError(t, storage.UpdateCounter(counter, update))

		samples := samplesOf(t, storage, counter)
		require.Len(t, samples, 1)
		assert.Equal(t, float64(0), samples[0].Value())
	})

	t.Run("multiple counters don't influence each other", func(t *testing.T) {
		storage := newStorage(t)
		counterA := metrics.NewCounter(storage, "test_counter_a", "", nil)
		counterB := metrics.NewCounter(storage, "test_counter_b", "", nil)
		require.NoError(t, counterA.Inc(5, nil))
		require.NoError(t, counterB.Inc(3, nil))
		require.NoError(t, counterA.Inc(1.5, nil))
		require.NoError(t, counterB.Inc(2.75, nil))
		require.NoError(t, counterA.Inc(2, nil))

		collections, err := storage.Collect()
		require.NoError(t, err)
		assert.Len(t, collections, 2)

		samplesA := samplesOf(t, storage, counterA)
		require.Len(t, samplesA, 1)
		assert.Equal(t, 8.5, samplesA[0].Value())

		samplesB := samplesOf(t, storage, counterB)
		require.Len(t, samplesB, 1)
		assert.Equal(t, 5.75, samplesB[0].Value())
	})

	t.Run("gauge operations", func(t *testing.T) {
		storage := newStorage(t)
		gauge := metrics.NewGauge(storage, "test_gauge", "", []string{"state"})
		active := metrics.Labels{"state": "active"}
		require.NoError(t, gauge.Inc(5, active))
		require.NoError(t, gauge.Dec(2, active))
		require.NoError(t, gauge.Inc(1, active))
		require.NoError(t, gauge.Set(42, metrics.Labels{"state": "expired"}))
		require.NoError(t, gauge.Dec(1.5, nil))

		samples := samplesOf(t, storage, gauge)
		require.Len(t, samples, 3)
		assert.Empty(t, samples[0].Labels())
		assert.Equal(t, -1.5, samples[0].Value())
		assert.Equal(t, active, samples[1].LabelMap())
		assert.Equal(t, float64(4), samples[1].Value())
		assert.Equal(t, float64(42), samples[2].Value())
	})

	t.Run("gauge set overrides previous value", func(t *testing.T) {
		storage := newStorage(t)
		gauge := metrics.NewGauge(storage, "test_gauge", "", nil)
		require.NoError(t, gauge.Inc(10, nil))
		require.NoError(t, gauge.Set(-3.25, nil))

		samples := samplesOf(t, storage, gauge)
		require.Len(t, samples, 1)
		assert.Equal(t, -3.25, samples[0].Value())
	})

	t.Run("collect orders counters before gauges by identifier", func(t *testing.T) {
		storage := newStorage(t)
		gaugeA := metrics.NewGauge(storage, "a_gauge", "", nil)
		counterB := metrics.NewCounter(storage, "b_counter", "", nil)
		counterA := metrics.NewCounter(storage, "a_counter", "", nil)
		require.NoError(t, gaugeA.Set(1, nil))
		require.NoError(t, counterB.Inc(1, nil))
		require.NoError(t, counterA.Inc(1, nil))

		collections, err := storage.Collect()
		require.NoError(t, err)
		require.Len(t, collections, 3)
		assert.Equal(t, "a_counter", collections[0].Name())
		assert.Equal(t, "b_counter", collections[1].Name())
		assert.Equal(t, "a_gauge", collections[2].Name())
		assert.Equal(t, metrics.GaugeType, collections[2].Type())
	})

	t.Run("collections carry collector metadata", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "A counter for testing", []string{"code"})
		require.NoError(t, counter.Inc(1, metrics.Labels{"code": "200"}))

		c := collectionOf(t, storage, counter)
		assert.Equal(t, "test_counter", c.Name())
		assert.Equal(t, metrics.CounterType, c.Type())
		assert.Equal(t, "A counter for testing", c.Help())
		assert.Equal(t, []string{"code"}, c.LabelNames())
	})

	t.Run("registering again keeps values", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "", nil)
		require.NoError(t, counter.Inc(4, nil))

		again := metrics.NewCounter(storage, "test_counter", "new help", nil)
		require.NoError(t, again.Inc(1, nil))

		samples := samplesOf(t, storage, again)
		require.Len(t, samples, 1)
		assert.Equal(t, float64(5), samples[0].Value())
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		storage := newStorage(t)
		counter := metrics.NewCounter(storage, "test_counter", "", nil)
		gauge := metrics.NewGauge(storage, "test_gauge", "", nil)

		const workers, perWorker = 10, 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					assert.NoError(t, counter.Inc(1, metrics.Labels{"worker": "all"}))
					assert.NoError(t, gauge.Inc(2, nil))
					assert.NoError(t, gauge.Dec(1, nil))
				}
			}()
		}
		wg.Wait()

		counterSamples := samplesOf(t, storage, counter)
		require.Len(t, counterSamples, 1)
		assert.Equal(t, float64(workers*perWorker), counterSamples[0].Value())

		gaugeSamples := samplesOf(t, storage, gauge)
		require.Len(t, gaugeSamples, 1)
		assert.Equal(t, float64(workers*perWorker), gaugeSamples[0].Value())
	})
}

func collectionOf(t *testing.T, storage metrics.Storage, c metrics.Collector) metrics.SampleCollection {
	t.Helper()
	collections, err := storage.Collect()
	require.NoError(t, err)
	for _, collection := range collections {
		if collection.Name() == c.Name() && collection.Type() == c.Type() {
			return collection
		}
	}
	require.Failf(t, "collection not found", "no collection for %s", c.Identifier())
	return metrics.SampleCollection{}
}

func samplesOf(t *testing.T, storage metrics.Storage, c metrics.Collector) []metrics.Sample {
	t.Helper()
	return collectionOf(t, storage, c).Samples()
}
