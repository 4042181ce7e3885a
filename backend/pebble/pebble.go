/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package pebble

import (
	"fmt"

	pebbleDB "github.com/cockroachdb/pebble"
	"github.com/gmbyapa/kenrich/backend"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/metrics"
)

type Config struct {
	MetricsReporter metrics.Reporter
	Dir             string
	Options         *pebbleDB.Options
}

func NewConfig() *Config {
	conf := new(Config)
	conf.Dir = `storage`
	conf.Options = &pebbleDB.Options{}
	conf.parse()

	return conf
}

func (c *Config) parse() {
	if c.MetricsReporter == nil {
		c.MetricsReporter = metrics.NoopReporter()
	}

	if c.Options == nil {
		c.Options = &pebbleDB.Options{}
	}
}

// Pebble is a persistent backend. Mutations are written without fsync and
// made durable on Flush.
type Pebble struct {
	name   string
	pebble *pebbleDB.DB
	*Reader
	*Writer
}

func Builder(config *Config) backend.Builder {
	return func(name string) (backend.Backend, error) {
		return NewPebbleBackend(name, config)
	}
}

func NewPebbleBackend(name string, config *Config) (*Pebble, error) {
	config.parse()
	dbName := fmt.Sprintf(`%s/pebble/%s`, config.Dir, name)

	pb, err := pebbleDB.Open(dbName, config.Options)
	if err != nil {
		return nil, errors.Wrapf(err, `db open error, backend:%s`, dbName)
	}

	m := &Pebble{name: name}
	m.pebble = pb
	m.Reader = &Reader{pebble: pb, name: dbName}
	m.Writer = &Writer{pebble: pb}

	constLabels := map[string]string{`name`: name, `type`: `pebble`}
	m.Reader.metrics.readLatency = config.MetricsReporter.Observer(
		metrics.MetricConf{Path: `backend_read_latency_microseconds`, ConstLabels: constLabels})
	m.Reader.metrics.iteratorLatency = config.MetricsReporter.Observer(
		metrics.MetricConf{Path: `backend_read_iterator_latency_microseconds`, ConstLabels: constLabels})
	m.Writer.metrics.updateLatency = config.MetricsReporter.Observer(
		metrics.MetricConf{Path: `backend_update_latency_microseconds`, ConstLabels: constLabels})
	m.Writer.metrics.deleteLatency = config.MetricsReporter.Observer(
		metrics.MetricConf{Path: `backend_delete_latency_microseconds`, ConstLabels: constLabels})

	return m, nil
}

func (p *Pebble) Name() string {
	return p.name
}

func (p *Pebble) String() string {
	return `pebble`
}

func (p *Pebble) Persistent() bool {
	return true
}

func (p *Pebble) Close() error {
	if err := p.pebble.Flush(); err != nil {
		return errors.Wrap(err, `flush before close failed`)
	}

	return p.pebble.Close()
}
