package redisstore_test

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/promexporter/metrics"
	"github.com/remiges-tech/promexporter/metrics/redisstore"
	"github.com/remiges-tech/promexporter/metrics/storagetest"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) metrics.Storage {
		_, client := newMiniredis(t)
		return redisstore.NewWithClient(client, redisstore.Options{}, nil)
	})
}

func TestKeyPrefixDefaultsToFlownativePrometheus(t *testing.T) {
	_, client := newMiniredis(t)
	storage := redisstore.NewWithClient(client, redisstore.Options{}, nil)
	assert.Equal(t, "flownative_prometheus", storage.KeyPrefix())

	counter := metrics.NewCounter(storage, "flownative_prometheus_test_hits_total", "", nil)
	assert.Equal(t, "flownative_prometheus:counter:flownative_prometheus_test_hits_total", counter.Identifier())
}

func TestUpdateWritesHashNameAndMembership(t *testing.T) {
	mr, client := newMiniredis(t)
	storage := redisstore.NewWithClient(client, redisstore.Options{KeyPrefix: "test"}, nil)

	counter := metrics.NewCounter(storage, "http_requests_total", "", []string{"code"})
	require.NoError(t, counter.Inc(2, metrics.Labels{"code": "200"}))
	require.NoError(t, counter.Inc(0.5, metrics.Labels{"code": "200"}))

	members, err := mr.Members("testcounter_KEYS")
	require.NoError(t, err)
	assert.Equal(t, []string{"test:counter:http_requests_total"}, members)

	assert.Equal(t, "http_requests_total", mr.HGet("test:counter:http_requests_total", "__name"))
	assert.Equal(t, "2.5", mr.HGet("test:counter:http_requests_total", metrics.EncodeLabels(metrics.Labels{"code": "200"})))
}

func TestRegisterAloneWritesNothing(t *testing.T) {
	mr, client := newMiniredis(t)
	storage := redisstore.NewWithClient(client, redisstore.Options{}, nil)
	metrics.NewGauge(storage, "sessions", "", nil)

	assert.Empty(t, mr.Keys())
	collections, err := storage.Collect()
	require.NoError(t, err)
	assert.Empty(t, collections)
}

func TestCollectParsesIntegerAndFloatValues(t *testing.T) {
	mr, client := newMiniredis(t)
	storage := redisstore.NewWithClient(client, redisstore.Options{}, nil)
	gauge := metrics.NewGauge(storage, "temperature", "", []string{"room"})

	key := gauge.Identifier()
	mr.HSet(key, "__name", "temperature")
	mr.HSet(key, metrics.EncodeLabels(metrics.Labels{"room": "a"}), "21")
	mr.HSet(key, metrics.EncodeLabels(metrics.Labels{"room": "b"}), "19.25")
	_, err := mr.SetAdd("flownative_prometheusgauge_KEYS", key)
	require.NoError(t, err)

	collections, err := storage.Collect()
	require.NoError(t, err)
	require.Len(t, collections, 1)
	samples := collections[0].Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, float64(21), samples[0].Value())
	assert.Equal(t, 19.25, samples[1].Value())
}

func TestCollectSkipsMalformedFields(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		mr, client := newMiniredis(t)
		storage := redisstore.NewWithClient(client, redisstore.Options{IgnoreConnectionErrors: ignore}, nil)
		counter := metrics.NewCounter(storage, "http_requests_total", "", nil)
		require.NoError(t, counter.Inc(3, nil))

		mr.HSet(counter.Identifier(), "not-base64!!", "1")
		mr.HSet(counter.Identifier(), metrics.EncodeLabels(metrics.Labels{"code": "200"}), "many")

		collections, err := storage.Collect()
		require.NoError(t, err, "ignore=%v", ignore)
		require.Len(t, collections, 1)
		samples := collections[0].Samples()
		require.Len(t, samples, 1)
		assert.Equal(t, float64(3), samples[0].Value())
	}
}

func TestCollectReadsEmptyLabelSetWrittenAsList(t *testing.T) {
	mr, client := newMiniredis(t)
	storage := redisstore.NewWithClient(client, redisstore.Options{}, nil)
	counter := metrics.NewCounter(storage, "http_requests_total", "", nil)

	key := counter.Identifier()
	mr.HSet(key, "__name", "http_requests_total")
	mr.HSet(key, "W10=", "4")
	_, err := mr.SetAdd("flownative_prometheuscounter_KEYS", key)
	require.NoError(t, err)

	collections, err := storage.Collect()
	require.NoError(t, err)
	require.Len(t, collections, 1)
	samples := collections[0].Samples()
	require.Len(t, samples, 1)
	assert.Empty(t, samples[0].Labels())
	assert.Equal(t, float64(4), samples[0].Value())
}

func TestCollectSkipsCollectorsNotRegisteredInThisProcess(t *testing.T) {
	_, client := newMiniredis(t)
	writer := redisstore.NewWithClient(client, redisstore.Options{}, nil)
	reader := redisstore.NewWithClient(client, redisstore.Options{}, nil)

	shared := metrics.NewCounter(writer, "shared_total", "", nil)
	metrics.NewCounter(reader, "shared_total", "Shared counter", nil)
	other := metrics.NewCounter(writer, "writer_only_total", "", nil)
	require.NoError(t, shared.Inc(3, nil))
	require.NoError(t, other.Inc(1, nil))

	collections, err := reader.Collect()
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, "shared_total", collections[0].Name())
	assert.Equal(t, "Shared counter", collections[0].Help())
	assert.Equal(t, float64(3), collections[0].Samples()[0].Value())
}

func TestProcessesSharingRedisAccumulate(t *testing.T) {
	_, client := newMiniredis(t)
	a := redisstore.NewWithClient(client, redisstore.Options{}, nil)
	b := redisstore.NewWithClient(client, redisstore.Options{}, nil)

	counterA := metrics.NewCounter(a, "requests_total", "", nil)
	counterB := metrics.NewCounter(b, "requests_total", "", nil)
	require.NoError(t, counterA.Inc(2, nil))
	require.NoError(t, counterB.Inc(3, nil))

	collections, err := a.Collect()
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, float64(5), collections[0].Samples()[0].Value())
}

func TestFlushKeepsKeysOfOtherPrefixes(t *testing.T) {
	mr, client := newMiniredis(t)
	require.NoError(t, mr.Set("unrelated", "value"))

	mine := redisstore.NewWithClient(client, redisstore.Options{KeyPrefix: "mine"}, nil)
	theirs := redisstore.NewWithClient(client, redisstore.Options{KeyPrefix: "theirs"}, nil)
	require.NoError(t, metrics.NewCounter(mine, "a_total", "", nil).Inc(1, nil))
	theirCounter := metrics.NewCounter(theirs, "a_total", "", nil)
	require.NoError(t, theirCounter.Inc(1, nil))

	require.NoError(t, mine.Flush())

	assert.True(t, mr.Exists("unrelated"))
	assert.False(t, mr.Exists("mine:counter:a_total"))
	assert.False(t, mr.Exists("minecounter_KEYS"))
	assert.True(t, mr.Exists("theirs:counter:a_total"))

	collections, err := theirs.Collect()
	require.NoError(t, err)
	assert.Len(t, collections, 1)
}

func TestConnectionErrors(t *testing.T) {
	newUnreachable := func(t *testing.T, ignore bool) (*redisstore.Storage, *metrics.Counter) {
		mr, client := newMiniredis(t)
		storage := redisstore.NewWithClient(client, redisstore.Options{IgnoreConnectionErrors: ignore}, nil)
		counter := metrics.NewCounter(storage, "test_total", "", nil)
		mr.Close()
		return storage, counter
	}

	t.Run("propagated by default", func(t *testing.T) {
		storage, counter := newUnreachable(t, false)

		assert.ErrorIs(t, counter.Inc(1, nil), metrics.ErrConnectionFailure)
		_, err := storage.Collect()
		assert.ErrorIs(t, err, metrics.ErrConnectionFailure)
		assert.ErrorIs(t, storage.Flush(), metrics.ErrConnectionFailure)
	})

	t.Run("ignored for collect and flush", func(t *testing.T) {
		storage, counter := newUnreachable(t, true)

		collections, err := storage.Collect()
		assert.NoError(t, err)
		assert.Empty(t, collections)
		assert.NoError(t, storage.Flush())

		metrics.NewCounter(storage, "test_total", "", nil)
		assert.ErrorIs(t, counter.Inc(1, nil), metrics.ErrConnectionFailure)
	})
}

func TestCollectWithMockedClient(t *testing.T) {
	client, mock := redismock.NewClientMock()
	storage := redisstore.NewWithClient(client, redisstore.Options{KeyPrefix: "mock"}, nil)
	counter := metrics.NewCounter(storage, "hits_total", "Hits", nil)

	unlabeled := metrics.EncodeLabels(nil)
	mock.ExpectSMembers("mockcounter_KEYS").SetVal([]string{counter.Identifier()})
	mock.ExpectHGetAll(counter.Identifier()).SetVal(map[string]string{
		"__name":  "hits_total",
		unlabeled: "7",
	})
	mock.ExpectSMembers("mockgauge_KEYS").SetVal(nil)

	collections, err := storage.Collect()
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, float64(7), collections[0].Samples()[0].Value())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectMockedConnectionFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	storage := redisstore.NewWithClient(client, redisstore.Options{KeyPrefix: "mock"}, nil)

	mock.ExpectSMembers("mockcounter_KEYS").SetErr(io.EOF)
	_, err := storage.Collect()
	assert.ErrorIs(t, err, metrics.ErrConnectionFailure)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectDoesNotIgnoreServerErrors(t *testing.T) {
	_, client := newMiniredis(t)
	storage := redisstore.NewWithClient(client, redisstore.Options{IgnoreConnectionErrors: true}, nil)
	require.NoError(t, client.Set(context.Background(), "flownative_prometheuscounter_KEYS", "not a set", 0).Err())

	_, err := storage.Collect()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, metrics.ErrConnectionFailure)
}

func TestNewFailsWhenRedisIsUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Server().Addr()
	mr.Close()

	opts := redisstore.Options{Hostname: addr.IP.String(), Port: addr.Port}
	_, err = redisstore.New(opts, nil)
	assert.ErrorIs(t, err, metrics.ErrConnectionFailure)

	opts.IgnoreConnectionErrors = true
	storage, err := redisstore.New(opts, nil)
	require.NoError(t, err)
	assert.NoError(t, storage.Close())
}

func TestNewConnects(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	addr := mr.Server().Addr()
	storage, err := redisstore.New(redisstore.Options{Hostname: addr.IP.String(), Port: addr.Port, KeyPrefix: "app"}, nil)
	require.NoError(t, err)
	defer storage.Close()

	require.NoError(t, metrics.NewGauge(storage, "sessions", "", nil).Set(3, nil))
	assert.Equal(t, "3", mr.HGet("app:gauge:sessions", metrics.EncodeLabels(nil)))
}
