/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package badger

import (
	"fmt"
	"time"

	badgerDB "github.com/dgraph-io/badger/v3"
	"github.com/gmbyapa/kenrich/backend"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/metrics"
)

type Config struct {
	StorageDir string
	// InMemory keeps every value in memory. The backend is then not persistent.
	InMemory         bool
	ValueLogGCPeriod time.Duration
	MetricsReporter  metrics.Reporter
}

func NewConfig() *Config {
	conf := new(Config)
	conf.parse()

	return conf
}

func (c *Config) parse() {
	if c.ValueLogGCPeriod == time.Duration(0) {
		c.ValueLogGCPeriod = 1 * time.Minute
	}

	if c.StorageDir == `` {
		c.StorageDir = `storage`
	}

	if c.MetricsReporter == nil {
		c.MetricsReporter = metrics.NoopReporter()
	}
}

type badger struct {
	name     string
	db       *badgerDB.DB
	inMemory bool
	stop     chan struct{}
	metrics  struct {
		readLatency   metrics.Observer
		updateLatency metrics.Observer
		deleteLatency metrics.Observer
	}
}

func Builder(config *Config) backend.Builder {
	return func(name string) (backend.Backend, error) {
		return NewBadgerBackend(name, config)
	}
}

func NewBadgerBackend(name string, config *Config) (backend.Backend, error) {
	config.parse()
	storageDir := fmt.Sprintf(`%s/badger/%s`, config.StorageDir, name)
	if config.InMemory {
		storageDir = ``
	}

	db, err := badgerDB.Open(badgerDB.DefaultOptions(storageDir).
		WithLoggingLevel(badgerDB.ERROR).
		WithInMemory(config.InMemory))
	if err != nil {
		return nil, errors.Wrapf(err, `db open error, backend:%s`, name)
	}

	m := &badger{
		name:     name,
		db:       db,
		inMemory: config.InMemory,
		stop:     make(chan struct{}),
	}

	labels := []string{`name`, `type`}
	m.metrics.readLatency = config.MetricsReporter.Observer(metrics.MetricConf{Path: `backend_read_latency_microseconds`, Labels: labels})
	m.metrics.updateLatency = config.MetricsReporter.Observer(metrics.MetricConf{Path: `backend_update_latency_microseconds`, Labels: labels})
	m.metrics.deleteLatency = config.MetricsReporter.Observer(metrics.MetricConf{Path: `backend_delete_latency_microseconds`, Labels: labels})

	if !config.InMemory {
		go m.runGC(config.ValueLogGCPeriod)
	}

	return m, nil
}

func (m *badger) runGC(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			for m.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (m *badger) labels() map[string]string {
	return map[string]string{`name`: m.name, `type`: `badger`}
}

func (m *badger) Name() string {
	return m.name
}

func (m *badger) String() string {
	return `badger`
}

func (m *badger) Persistent() bool {
	return !m.inMemory
}

func (m *badger) Set(key []byte, value []byte) error {
	defer func(begin time.Time) {
		m.metrics.updateLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	return m.db.Update(func(txn *badgerDB.Txn) error {
		return txn.Set(key, value)
	})
}

func (m *badger) Write(batch []backend.KeyVal) error {
	defer func(begin time.Time) {
		m.metrics.updateLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	return m.db.Update(func(txn *badgerDB.Txn) error {
		for _, kv := range batch {
			if kv.Val == nil {
				if err := txn.Delete(kv.Key); err != nil {
					return err
				}
				continue
			}

			if err := txn.Set(kv.Key, kv.Val); err != nil {
				return err
			}
		}

		return nil
	})
}

func (m *badger) Get(key []byte) ([]byte, error) {
	defer func(begin time.Time) {
		m.metrics.readLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	var v []byte

	if err := m.db.View(func(txn *badgerDB.Txn) error {
		itm, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badgerDB.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		v, err = itm.ValueCopy(nil)
		return err
	}); err != nil {
		return nil, errors.Wrapf(err, `read failed on %s`, m.name)
	}

	return v, nil
}

func (m *badger) PrefixedIterator(keyPrefix []byte) backend.Iterator {
	return m.iterator(keyPrefix)
}

func (m *badger) Iterator() backend.Iterator {
	return m.iterator(nil)
}

// iterator holds a read transaction open until the returned iterator is closed.
func (m *badger) iterator(prefix []byte) backend.Iterator {
	txn := m.db.NewTransaction(false)
	opts := badgerDB.DefaultIteratorOptions
	if prefix != nil {
		opts.Prefix = prefix
	}

	return &Iterator{itr: txn.NewIterator(opts), txn: txn}
}

func (m *badger) Delete(key []byte) error {
	defer func(begin time.Time) {
		m.metrics.deleteLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	return m.db.Update(func(txn *badgerDB.Txn) error {
		err := txn.Delete(key)
		if err != nil && !errors.Is(err, badgerDB.ErrKeyNotFound) {
			return err
		}

		return nil
	})
}

func (m *badger) Flush() error {
	if m.inMemory {
		return nil
	}

	return m.db.Sync()
}

func (m *badger) Close() error {
	close(m.stop)
	return m.db.Close()
}
