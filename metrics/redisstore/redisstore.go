// Package redisstore provides a metrics storage which keeps all values in
// Redis, so several processes can update and export the same metrics.
//
// Each collector is stored as a hash named by the collector identifier. The
// hash has one field per encoded label set and a "__name" field with the
// metric name. The identifiers of all written collectors are kept in one SET
// per metric type:
//
//	flownative_prometheuscounter_KEYS -> {"flownative_prometheus:counter:http_requests_total", ...}
//	flownative_prometheus:counter:http_requests_total -> {"__name": "http_requests_total", "eyJjb2RlIjoiMjAwIn0=": "42"}
//
// Increments are applied with HINCRBYFLOAT and are atomic across processes.
// SET is a plain HSET, so a concurrent SET and INCREASE on the same label set
// race and the last write wins.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/remiges-tech/promexporter/metrics"
)

// Storage is a metrics.Storage backed by Redis.
type Storage struct {
	client redis.UniversalClient
	opts   Options
	logger *logharbour.Logger

	mu       sync.RWMutex
	counters map[string]metrics.Collector
	gauges   map[string]metrics.Collector
}

var _ metrics.Storage = (*Storage)(nil)

// New validates opts, connects to Redis and returns the storage. If Redis
// cannot be reached, New fails unless IgnoreConnectionErrors is set.
func New(opts Options, logger *logharbour.Logger) (*Storage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s := NewWithClient(newClient(opts.withDefaults()), opts, logger)

	ctx, cancel := s.context()
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		if !s.opts.IgnoreConnectionErrors {
			s.client.Close()
			return nil, &metrics.ConnectionError{Op: "redis ping", Err: err}
		}
		s.logger.WithOp("connect").Warn().LogActivity("Redis is not reachable, continuing without it", map[string]any{
			"error": err.Error(),
		})
	}
	return s, nil
}

// NewWithClient returns a storage using an existing client. Connection
// settings in opts are ignored.
func NewWithClient(client redis.UniversalClient, opts Options, logger *logharbour.Logger) *Storage {
	if logger == nil {
		logger = logharbour.NewLogger(logharbour.NewLoggerContext(logharbour.DefaultPriority), "redisstore", io.Discard)
	}
	return &Storage{
		client:   client,
		opts:     opts.withDefaults(),
		logger:   logger.WithModule("redisstore"),
		counters: make(map[string]metrics.Collector),
		gauges:   make(map[string]metrics.Collector),
	}
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) KeyPrefix() string { return s.opts.KeyPrefix }

func (s *Storage) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.OperationTimeout)
}

// RegisterCollector makes c known to this process. Nothing is written to
// Redis until the first update.
func (s *Storage) RegisterCollector(c metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c.(type) {
	case *metrics.Counter:
		s.counters[c.Identifier()] = c
	case *metrics.Gauge:
		s.gauges[c.Identifier()] = c
	}
}

func (s *Storage) registered(t metrics.MetricType, identifier string) (metrics.Collector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c metrics.Collector
	var ok bool
	if t == metrics.CounterType {
		c, ok = s.counters[identifier]
	} else {
		c, ok = s.gauges[identifier]
	}
	return c, ok
}

func (s *Storage) UpdateCounter(c *metrics.Counter, u metrics.CounterUpdate) error {
	if _, ok := s.registered(metrics.CounterType, c.Identifier()); !ok {
		return &metrics.UnknownCollectorError{Type: metrics.CounterType, Name: c.Name(), Identifier: c.Identifier()}
	}
	if u.Operation == metrics.OperationIncrease {
		return s.write(c, metrics.OperationIncrease, u.Value, u.Labels)
	}
	return s.write(c, metrics.OperationSet, 0, u.Labels)
}

func (s *Storage) UpdateGauge(g *metrics.Gauge, u metrics.GaugeUpdate) error {
	if _, ok := s.registered(metrics.GaugeType, g.Identifier()); !ok {
		return &metrics.UnknownCollectorError{Type: metrics.GaugeType, Name: g.Name(), Identifier: g.Identifier()}
	}
	return s.write(g, u.Operation, u.Value, u.Labels)
}

// write applies one update together with the name field and the set
// membership of the collector in a single MULTI/EXEC.
//
// This is equivalent to the following Redis commands:
//
//	MULTI
//	HINCRBYFLOAT flownative_prometheus:counter:hits eyJjb2RlIjoiMjAwIn0= 1
//	HSET flownative_prometheus:counter:hits __name hits
//	SADD flownative_prometheuscounter_KEYS flownative_prometheus:counter:hits
//	EXEC
func (s *Storage) write(c metrics.Collector, op metrics.Operation, value float64, labels metrics.Labels) error {
	key := c.Identifier()
	field := metrics.EncodeLabels(labels)

	ctx, cancel := s.context()
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch op {
		case metrics.OperationIncrease:
			pipe.HIncrByFloat(ctx, key, field, value)
		case metrics.OperationDecrease:
			pipe.HIncrByFloat(ctx, key, field, -value)
		case metrics.OperationSet:
			pipe.HSet(ctx, key, field, value)
		}
		pipe.HSet(ctx, key, nameField, c.Name())
		pipe.SAdd(ctx, collectorSetKey(s.opts.KeyPrefix, c.Type()), key)
		return nil
	})
	if err != nil {
		if isConnectionError(err) {
			err = &metrics.ConnectionError{Op: "redis update " + key, Err: err}
		}
		s.logger.WithOp("update").Error(err).LogActivity("Failed updating collector in Redis", map[string]any{
			"identifier": key,
			"operation":  op.String(),
		})
		return fmt.Errorf("failed updating %s %s: %w", c.Type(), c.Name(), err)
	}
	return nil
}

// Collect reads the samples of all collectors registered in this process.
// Collectors written by other processes under the same prefix but not
// registered here are skipped, because their metadata is unknown.
func (s *Storage) Collect() ([]metrics.SampleCollection, error) {
	ctx, cancel := s.context()
	defer cancel()

	collections, err := s.collect(ctx)
	if err != nil {
		if isConnectionError(err) && s.opts.IgnoreConnectionErrors {
			s.logger.WithOp("collect").Warn().LogActivity("Ignoring Redis connection error while collecting", map[string]any{
				"error": err.Error(),
			})
			return []metrics.SampleCollection{}, nil
		}
		if isConnectionError(err) {
			err = &metrics.ConnectionError{Op: "redis collect", Err: err}
		}
		return nil, err
	}
	return collections, nil
}

func (s *Storage) collect(ctx context.Context) ([]metrics.SampleCollection, error) {
	var collections []metrics.SampleCollection
	for _, t := range []metrics.MetricType{metrics.CounterType, metrics.GaugeType} {
		keys, err := s.client.SMembers(ctx, collectorSetKey(s.opts.KeyPrefix, t)).Result()
		if err != nil {
			return nil, err
		}
		sort.Strings(keys)

		for _, key := range keys {
			c, ok := s.registered(t, key)
			if !ok {
				continue
			}
			hash, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, err
			}
			collections = append(collections, s.toCollection(c, key, hash))
		}
	}
	return collections, nil
}

// toCollection converts the hash of a collector. Fields which cannot be
// decoded, for example written by another client, are logged and skipped.
func (s *Storage) toCollection(c metrics.Collector, key string, hash map[string]string) metrics.SampleCollection {
	name := hash[nameField]
	if name == "" {
		name = c.Name()
	}
	delete(hash, nameField)

	samples := make([]metrics.Sample, 0, len(hash))
	for field, raw := range hash {
		labels, err := metrics.DecodeLabels(field)
		var value float64
		if err == nil {
			value, err = parseValue(raw)
		}
		if err != nil {
			s.logger.WithOp("collect").Warn().LogActivity("Skipping malformed sample in Redis", map[string]any{
				"identifier": key,
				"field":      field,
				"error":      err.Error(),
			})
			continue
		}
		samples = append(samples, metrics.NewSample(name, labels, value))
	}
	metrics.SortSamples(samples)
	return metrics.NewSampleCollection(name, c.Type(), c.Help(), c.LabelNames(), samples)
}

// parseValue reads a stored value. Values with a decimal point are floats,
// all others integers.
func parseValue(raw string) (float64, error) {
	if !strings.Contains(raw, ".") {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return float64(i), nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid stored value %q: %v", metrics.ErrInvalidArgument, raw, err)
	}
	return v, nil
}

// Flush deletes all collector hashes and membership sets under the key prefix
// and forgets all registered collectors. Other keys in the database are kept.
func (s *Storage) Flush() error {
	s.mu.Lock()
	s.counters = make(map[string]metrics.Collector)
	s.gauges = make(map[string]metrics.Collector)
	s.mu.Unlock()

	ctx, cancel := s.context()
	defer cancel()

	if err := s.flush(ctx); err != nil {
		if isConnectionError(err) && s.opts.IgnoreConnectionErrors {
			s.logger.WithOp("flush").Warn().LogActivity("Ignoring Redis connection error while flushing", map[string]any{
				"error": err.Error(),
			})
			return nil
		}
		if isConnectionError(err) {
			err = &metrics.ConnectionError{Op: "redis flush", Err: err}
		}
		return err
	}
	return nil
}

func (s *Storage) flush(ctx context.Context) error {
	var keys []string
	for _, t := range []metrics.MetricType{metrics.CounterType, metrics.GaugeType} {
		setKey := collectorSetKey(s.opts.KeyPrefix, t)
		members, err := s.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return err
		}
		keys = append(keys, members...)
		keys = append(keys, setKey)
	}
	return s.client.Del(ctx, keys...).Err()
}

// isConnectionError reports whether err is a transport failure rather than an
// error reply of the Redis server or malformed stored data.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, metrics.ErrInvalidArgument) {
		return false
	}
	var replyErr redis.Error
	return !errors.As(err, &replyErr)
}
