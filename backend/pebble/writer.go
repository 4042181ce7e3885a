package pebble

import (
	"time"

	pebbleDB "github.com/cockroachdb/pebble"
	"github.com/gmbyapa/kenrich/backend"
	"github.com/tryfix/metrics"
)

type Writer struct {
	pebble  *pebbleDB.DB
	metrics struct {
		updateLatency metrics.Observer
		deleteLatency metrics.Observer
	}
}

func (w *Writer) Set(key []byte, value []byte) error {
	defer func(begin time.Time) {
		w.metrics.updateLatency.Observe(
			float64(time.Since(begin).Nanoseconds()/1e3), nil)
	}(time.Now())

	return w.pebble.Set(key, value, pebbleDB.NoSync)
}

func (w *Writer) Write(batch []backend.KeyVal) error {
	defer func(begin time.Time) {
		w.metrics.updateLatency.Observe(
			float64(time.Since(begin).Nanoseconds()/1e3), nil)
	}(time.Now())

	b := w.pebble.NewBatch()
	defer b.Close()

	for _, keyVal := range batch {
		if keyVal.Val == nil {
			if err := b.Delete(keyVal.Key, pebbleDB.NoSync); err != nil {
				return err
			}
			continue
		}

		if err := b.Set(keyVal.Key, keyVal.Val, pebbleDB.NoSync); err != nil {
			return err
		}
	}

	return w.pebble.Apply(b, pebbleDB.NoSync)
}

func (w *Writer) Delete(key []byte) error {
	defer func(begin time.Time) {
		w.metrics.deleteLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), nil)
	}(time.Now())

	return w.pebble.Delete(key, pebbleDB.NoSync)
}

func (w *Writer) Flush() error {
	return w.pebble.Flush()
}
