package pebble

import (
	"time"

	pebbleDB "github.com/cockroachdb/pebble"
	"github.com/gmbyapa/kenrich/backend"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/metrics"
)

// Reader serves table row lookups and the stored changelog positions.
type Reader struct {
	pebble  *pebbleDB.DB
	name    string
	metrics struct {
		readLatency     metrics.Observer
		iteratorLatency metrics.Observer
	}
}

func observeSince(o metrics.Observer, begin time.Time) {
	o.Observe(float64(time.Since(begin).Microseconds()), nil)
}

// Get returns a copy of the row stored under key, nil when the key is absent.
func (r *Reader) Get(key []byte) ([]byte, error) {
	defer observeSince(r.metrics.readLatency, time.Now())

	row, closer, err := r.pebble.Get(key)
	if errors.Is(err, pebbleDB.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, `row read failed on %s`, r.name)
	}
	defer closer.Close()

	return append([]byte(nil), row...), nil
}

func (r *Reader) PrefixedIterator(keyPrefix []byte) backend.Iterator {
	defer observeSince(r.metrics.iteratorLatency, time.Now())

	return &Iterator{itr: r.pebble.NewIter(&pebbleDB.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: backend.KeyUpperBound(keyPrefix),
	})}
}

// Iterator walks every key, position entries included. Callers filter them.
func (r *Reader) Iterator() backend.Iterator {
	defer observeSince(r.metrics.iteratorLatency, time.Now())

	return &Iterator{itr: r.pebble.NewIter(nil)}
}
