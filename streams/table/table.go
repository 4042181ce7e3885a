// Package table holds the keyed reference state joined against the event stream.
// A Table is written by exactly one Syncer and read concurrently by the join.
package table

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gmbyapa/kenrich/backend"
	"github.com/gmbyapa/kenrich/backend/memory"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/encoding"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

var (
	// ErrDecode wraps changelog values the table value encoder rejects.
	ErrDecode = errors.Sentinel(`table: value decode failed`)
	// ErrNotReady is returned by WaitReady when the context ends before bootstrap completes.
	ErrNotReady = errors.Sentinel(`table: not ready`)
)

// offsetKeyPrefix namespaces changelog positions stored next to the data in
// persistent backends.
var offsetKeyPrefix = []byte("\x00__changelog_offset__/")

// Reader is the read side used by the join.
type Reader interface {
	Name() string
	// Get returns nil when the key is absent.
	Get(ctx context.Context, key interface{}) (interface{}, error)
	Ready() bool
}

type Config struct {
	Name            string
	KeyEncoder      encoding.Encoder
	ValEncoder      encoding.Encoder
	BackendBuilder  backend.Builder
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	return &Config{
		KeyEncoder:      encoding.StringEncoder{},
		ValEncoder:      encoding.ByteEncoder{},
		Logger:          log.NewNoopLogger(),
		MetricsReporter: metrics.NoopReporter(),
	}
}

func (c *Config) setUp() {
	if c.BackendBuilder == nil {
		conf := memory.NewConfig()
		conf.MetricsReporter = c.MetricsReporter
		c.BackendBuilder = memory.Builder(conf)
	}
}

func (c *Config) validate() error {
	if c.Name == `` {
		return errors.New(`table name cannot be empty`)
	}

	if c.KeyEncoder == nil || c.ValEncoder == nil {
		return errors.New(`table encoders cannot be empty`)
	}

	return nil
}

type Table struct {
	name       string
	backend    backend.Backend
	keyEncoder encoding.Encoder
	valEncoder encoding.Encoder
	logger     log.Logger

	ready     chan struct{}
	readyOnce sync.Once

	metrics struct {
		applied      metrics.Counter
		deleted      metrics.Counter
		decodeErrors metrics.Counter
		lookups      metrics.Counter
	}
}

func New(conf *Config) (*Table, error) {
	conf.setUp()
	if err := conf.validate(); err != nil {
		return nil, errors.Wrap(err, `invalid table config`)
	}

	bk, err := conf.BackendBuilder(conf.Name)
	if err != nil {
		return nil, errors.Wrapf(err, `backend builder error for table %s`, conf.Name)
	}

	t := &Table{
		name:       conf.Name,
		backend:    bk,
		keyEncoder: conf.KeyEncoder,
		valEncoder: conf.ValEncoder,
		logger:     conf.Logger.NewLog(log.Prefixed(fmt.Sprintf(`Table(%s)`, conf.Name))),
		ready:      make(chan struct{}),
	}

	labels := []string{`table`}
	t.metrics.applied = conf.MetricsReporter.Counter(metrics.MetricConf{Path: `table_applied_records`, Labels: labels})
	t.metrics.deleted = conf.MetricsReporter.Counter(metrics.MetricConf{Path: `table_tombstones`, Labels: labels})
	t.metrics.decodeErrors = conf.MetricsReporter.Counter(metrics.MetricConf{Path: `table_decode_errors`, Labels: labels})
	t.metrics.lookups = conf.MetricsReporter.Counter(metrics.MetricConf{Path: `table_lookups`, Labels: []string{`table`, `hit`}})

	return t, nil
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) String() string {
	return fmt.Sprintf(`%s (backend: %s)`, t.name, t.backend.String())
}

func (t *Table) Backend() backend.Backend {
	return t.backend
}

// Apply replaces the value of the record key, or deletes it when the value is empty.
func (t *Table) Apply(_ context.Context, record kafka.Record) error {
	kv, err := t.mutation(record)
	if err != nil {
		return err
	}

	if err := t.backend.Write([]backend.KeyVal{kv}); err != nil {
		return errors.Wrapf(err, `table %s write failed`, t.name)
	}

	t.count(kv)
	return nil
}

// applyBatch writes every valid record of records together with the next
// changelog offsets. Records the value encoder rejects are skipped.
func (t *Table) applyBatch(records []kafka.Record) (skipped int, err error) {
	batch := make([]backend.KeyVal, 0, len(records))
	for _, record := range records {
		kv, err := t.mutation(record)
		if err != nil {
			skipped++
			t.metrics.decodeErrors.Count(1, map[string]string{`table`: t.name})
			t.logger.Warn(fmt.Sprintf(`Skipping %s: %s`, record, err))
			continue
		}
		batch = append(batch, kv)
	}

	if t.backend.Persistent() {
		for _, off := range kafka.NextOffsets(records) {
			batch = append(batch, backend.KeyVal{
				Key: offsetKey(kafka.TopicPartition{Topic: off.Topic, Partition: off.Partition}),
				Val: []byte(strconv.FormatInt(off.Offset, 10)),
			})
		}
	}

	if err := t.backend.Write(batch); err != nil {
		return skipped, errors.Wrapf(err, `table %s batch write failed`, t.name)
	}

	for _, kv := range batch {
		if !bytes.HasPrefix(kv.Key, offsetKeyPrefix) {
			t.count(kv)
		}
	}

	return skipped, nil
}

func (t *Table) mutation(record kafka.Record) (backend.KeyVal, error) {
	if len(record.Key()) < 1 {
		return backend.KeyVal{}, errors.Wrapf(ErrDecode, `record %s has no key`, record)
	}

	// Tombstone
	if len(record.Value()) < 1 {
		return backend.KeyVal{Key: record.Key()}, nil
	}

	if _, err := t.valEncoder.Decode(record.Value()); err != nil {
		return backend.KeyVal{}, errors.Wrapf(ErrDecode, `record %s: %s`, record, err)
	}

	return backend.KeyVal{Key: record.Key(), Val: record.Value()}, nil
}

func (t *Table) count(kv backend.KeyVal) {
	lbs := map[string]string{`table`: t.name}
	if kv.Val == nil {
		t.metrics.deleted.Count(1, lbs)
		return
	}

	t.metrics.applied.Count(1, lbs)
}

func (t *Table) Get(_ context.Context, key interface{}) (interface{}, error) {
	k, err := t.keyEncoder.Encode(key)
	if err != nil {
		return nil, errors.Wrapf(err, `table %s key encode error`, t.name)
	}

	byt, err := t.backend.Get(k)
	if err != nil {
		return nil, errors.Wrapf(err, `table %s read failed`, t.name)
	}

	if byt == nil {
		t.metrics.lookups.Count(1, map[string]string{`table`: t.name, `hit`: `false`})
		return nil, nil
	}
	t.metrics.lookups.Count(1, map[string]string{`table`: t.name, `hit`: `true`})

	v, err := t.valEncoder.Decode(byt)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, `table %s key %v: %s`, t.name, key, err)
	}

	return v, nil
}

// Iterate calls fn for every entry in key order until fn returns false.
func (t *Table) Iterate(_ context.Context, fn func(key, value interface{}) bool) error {
	i := t.backend.Iterator()
	defer i.Close()

	for i.SeekToFirst(); i.Valid(); i.Next() {
		if bytes.HasPrefix(i.Key(), offsetKeyPrefix) {
			continue
		}

		k, err := t.keyEncoder.Decode(i.Key())
		if err != nil {
			return errors.Wrapf(err, `table %s key decode error`, t.name)
		}

		v, err := t.valEncoder.Decode(i.Value())
		if err != nil {
			return errors.Wrapf(ErrDecode, `table %s key %v: %s`, t.name, k, err)
		}

		if !fn(k, v) {
			break
		}
	}

	return i.Error()
}

// Offset returns the stored next changelog offset for tp, or kafka.Unknown
// when the backend is not persistent or nothing was stored yet.
func (t *Table) Offset(tp kafka.TopicPartition) (kafka.Offset, error) {
	if !t.backend.Persistent() {
		return kafka.Unknown, nil
	}

	byt, err := t.backend.Get(offsetKey(tp))
	if err != nil {
		return kafka.Unknown, errors.Wrapf(err, `offset read failed for %s`, tp)
	}

	if byt == nil {
		return kafka.Unknown, nil
	}

	off, err := strconv.ParseInt(string(byt), 10, 64)
	if err != nil {
		return kafka.Unknown, errors.Wrapf(err, `corrupted offset for %s`, tp)
	}

	return kafka.Offset(off), nil
}

func (t *Table) Ready() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the table finished its bootstrap.
func (t *Table) WaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ErrNotReady, `table %s: %s`, t.name, ctx.Err())
	}
}

func (t *Table) markReady() {
	t.readyOnce.Do(func() {
		close(t.ready)
	})
}

func (t *Table) Close() error {
	if err := t.backend.Flush(); err != nil {
		t.logger.Warn(fmt.Sprintf(`Backend flush failed due to %s`, err))
	}

	return t.backend.Close()
}

func offsetKey(tp kafka.TopicPartition) []byte {
	return append(append([]byte{}, offsetKeyPrefix...), tp.String()...)
}
