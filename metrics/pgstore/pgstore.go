// Package pgstore provides a metrics storage which keeps all values in
// PostgreSQL. Like the Redis storage it can be shared by several processes;
// every update runs in its own transaction and increments are applied with an
// atomic upsert.
//
// Run Migrate once before creating a Storage.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/remiges-tech/promexporter/metrics"
)

const (
	DefaultKeyPrefix        = "flownative_prometheus"
	DefaultOperationTimeout = 5 * time.Second
)

type Options struct {
	KeyPrefix              string        `json:"keyPrefix" yaml:"keyPrefix"`
	IgnoreConnectionErrors bool          `json:"ignoreConnectionErrors" yaml:"ignoreConnectionErrors"`
	OperationTimeout       time.Duration `json:"operationTimeout" yaml:"operationTimeout"`
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.OperationTimeout == 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	return o
}

const (
	upsertCollectorSQL = `INSERT INTO prometheus_collectors (identifier, key_prefix, type, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO NOTHING`

	increaseSQL = `INSERT INTO prometheus_samples (identifier, labels, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (identifier, labels) DO UPDATE SET value = prometheus_samples.value + excluded.value`

	setSQL = `INSERT INTO prometheus_samples (identifier, labels, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (identifier, labels) DO UPDATE SET value = excluded.value`

	collectSQL = `SELECT c.type, c.identifier, s.labels, s.value
		FROM prometheus_collectors c
		JOIN prometheus_samples s ON s.identifier = c.identifier
		WHERE c.key_prefix = $1
		ORDER BY c.type, c.identifier COLLATE "C"`

	flushSQL = `DELETE FROM prometheus_collectors WHERE key_prefix = $1`
)

// Storage is a metrics.Storage backed by PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *logharbour.Logger

	mu       sync.RWMutex
	counters map[string]metrics.Collector
	gauges   map[string]metrics.Collector
}

var _ metrics.Storage = (*Storage)(nil)

// New returns a storage using pool. A nil logger discards log output.
func New(pool *pgxpool.Pool, opts Options, logger *logharbour.Logger) *Storage {
	if logger == nil {
		logger = logharbour.NewLogger(logharbour.NewLoggerContext(logharbour.DefaultPriority), "pgstore", io.Discard)
	}
	return &Storage{
		pool:     pool,
		opts:     opts.withDefaults(),
		logger:   logger.WithModule("pgstore"),
		counters: make(map[string]metrics.Collector),
		gauges:   make(map[string]metrics.Collector),
	}
}

func (s *Storage) KeyPrefix() string { return s.opts.KeyPrefix }

func (s *Storage) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.OperationTimeout)
}

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
	if t == metrics.CounterType {
		c, ok := s.counters[identifier]
		return c, ok
	}
	c, ok := s.gauges[identifier]
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

func (s *Storage) write(c metrics.Collector, op metrics.Operation, value float64, labels metrics.Labels) error {
	sql := increaseSQL
	switch op {
	case metrics.OperationDecrease:
		value = -value
	case metrics.OperationSet:
		sql = setSQL
	}

	ctx, cancel := s.context()
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertCollectorSQL, c.Identifier(), s.opts.KeyPrefix, string(c.Type()), c.Name()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, sql, c.Identifier(), metrics.EncodeLabels(labels), value)
		return err
	})
	if err != nil {
		if isConnectionError(err) {
			err = &metrics.ConnectionError{Op: "postgres update " + c.Identifier(), Err: err}
		}
		s.logger.WithOp("update").Error(err).LogActivity("Failed updating collector in PostgreSQL", map[string]any{
			"identifier": c.Identifier(),
			"operation":  op.String(),
		})
		return fmt.Errorf("failed updating %s %s: %w", c.Type(), c.Name(), err)
	}
	return nil
}

// Collect reads all samples under the key prefix in one statement. Rows of
// collectors not registered in this process are skipped.
func (s *Storage) Collect() ([]metrics.SampleCollection, error) {
	ctx, cancel := s.context()
	defer cancel()

	collections, err := s.collect(ctx)
	if err != nil {
		if !isConnectionError(err) {
			return nil, err
		}
		if s.opts.IgnoreConnectionErrors {
			s.logger.WithOp("collect").Warn().LogActivity("Ignoring PostgreSQL connection error while collecting", map[string]any{
				"error": err.Error(),
			})
			return []metrics.SampleCollection{}, nil
		}
		return nil, &metrics.ConnectionError{Op: "postgres collect", Err: err}
	}
	return collections, nil
}

func (s *Storage) collect(ctx context.Context) ([]metrics.SampleCollection, error) {
	rows, err := s.pool.Query(ctx, collectSQL, s.opts.KeyPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		collections []metrics.SampleCollection
		current     metrics.Collector
		samples     []metrics.Sample
	)
	flushCurrent := func() {
		if current == nil {
			return
		}
		metrics.SortSamples(samples)
		collections = append(collections, metrics.NewSampleCollection(current.Name(), current.Type(), current.Help(), current.LabelNames(), samples))
		current, samples = nil, nil
	}

	lastIdentifier := ""
	for rows.Next() {
		var (
			metricType, identifier, encoded string
			value                           float64
		)
		if err := rows.Scan(&metricType, &identifier, &encoded, &value); err != nil {
			return nil, err
		}
		if identifier != lastIdentifier {
			flushCurrent()
			lastIdentifier = identifier
			if c, ok := s.registered(metrics.MetricType(metricType), identifier); ok {
				current = c
			}
		}
		if current == nil {
			continue
		}
		labels, err := metrics.DecodeLabels(encoded)
		if err != nil {
			s.logger.WithOp("collect").Warn().LogActivity("Skipping malformed sample in PostgreSQL", map[string]any{
				"identifier": identifier,
				"labels":     encoded,
				"error":      err.Error(),
			})
			continue
		}
		samples = append(samples, metrics.NewSample(current.Name(), labels, value))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flushCurrent()
	return collections, nil
}

// Flush deletes all collectors and samples under the key prefix and forgets
// all registered collectors.
func (s *Storage) Flush() error {
	s.mu.Lock()
	s.counters = make(map[string]metrics.Collector)
	s.gauges = make(map[string]metrics.Collector)
	s.mu.Unlock()

	ctx, cancel := s.context()
	defer cancel()

	if _, err := s.pool.Exec(ctx, flushSQL, s.opts.KeyPrefix); err != nil {
		if !isConnectionError(err) {
			return err
		}
		if s.opts.IgnoreConnectionErrors {
			s.logger.WithOp("flush").Warn().LogActivity("Ignoring PostgreSQL connection error while flushing", map[string]any{
				"error": err.Error(),
			})
			return nil
		}
		return &metrics.ConnectionError{Op: "postgres flush", Err: err}
	}
	return nil
}

// isConnectionError reports whether err is a transport failure rather than an
// error reported by the server or malformed stored data.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, metrics.ErrInvalidArgument) {
		return false
	}
	var pgErr *pgconn.PgError
	return !errors.As(err, &pgErr)
}
