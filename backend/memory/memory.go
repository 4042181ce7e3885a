/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package memory

import (
	"bytes"
	"sync"
	"time"

	"github.com/gmbyapa/kenrich/backend"
	"github.com/tryfix/metrics"
)

type Config struct {
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	conf := new(Config)
	conf.parse()

	return conf
}

func (c *Config) parse() {
	if c.MetricsReporter == nil {
		c.MetricsReporter = metrics.NoopReporter()
	}
}

type memory struct {
	name    string
	mu      sync.RWMutex
	records map[string][]byte
	metrics struct {
		readLatency   metrics.Observer
		updateLatency metrics.Observer
		deleteLatency metrics.Observer
	}
}

func Builder(config *Config) backend.Builder {
	return func(name string) (backend.Backend, error) {
		return NewMemoryBackend(name, config), nil
	}
}

func NewMemoryBackend(name string, config *Config) backend.Backend {
	config.parse()
	m := &memory{
		name:    name,
		records: make(map[string][]byte),
	}

	labels := []string{`name`, `type`}
	m.metrics.readLatency = config.MetricsReporter.Observer(metrics.MetricConf{Path: `backend_read_latency_microseconds`, Labels: labels})
	m.metrics.updateLatency = config.MetricsReporter.Observer(metrics.MetricConf{Path: `backend_update_latency_microseconds`, Labels: labels})
	m.metrics.deleteLatency = config.MetricsReporter.Observer(metrics.MetricConf{Path: `backend_delete_latency_microseconds`, Labels: labels})

	return m
}

func (m *memory) labels() map[string]string {
	return map[string]string{`name`: m.name, `type`: `memory`}
}

func (m *memory) Name() string {
	return m.name
}

func (m *memory) String() string {
	return `memory`
}

func (m *memory) Persistent() bool {
	return false
}

func (m *memory) Set(key []byte, value []byte) error {
	defer func(begin time.Time) {
		m.metrics.updateLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	// stored values are copies, callers may reuse their buffers
	value = append([]byte(nil), value...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[string(key)] = value

	return nil
}

func (m *memory) Write(batch []backend.KeyVal) error {
	defer func(begin time.Time) {
		m.metrics.updateLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range batch {
		if kv.Val == nil {
			delete(m.records, string(kv.Key))
			continue
		}
		m.records[string(kv.Key)] = append([]byte(nil), kv.Val...)
	}

	return nil
}

func (m *memory) Get(key []byte) ([]byte, error) {
	defer func(begin time.Time) {
		m.metrics.readLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.records[string(key)], nil
}

func (m *memory) PrefixedIterator(keyPrefix []byte) backend.Iterator {
	return backend.NewSliceIterator(m.snapshot(keyPrefix))
}

func (m *memory) Iterator() backend.Iterator {
	return backend.NewSliceIterator(m.snapshot(nil))
}

func (m *memory) snapshot(prefix []byte) []backend.KeyVal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]backend.KeyVal, 0, len(m.records))
	for key, val := range m.records {
		if prefix != nil && !bytes.HasPrefix([]byte(key), prefix) {
			continue
		}
		records = append(records, backend.KeyVal{Key: []byte(key), Val: val})
	}

	return records
}

func (m *memory) Delete(key []byte) error {
	defer func(begin time.Time) {
		m.metrics.deleteLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, string(key))

	return nil
}

func (m *memory) Flush() error { return nil }

func (m *memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string][]byte)

	return nil
}
