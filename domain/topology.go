package domain

import (
	"sort"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams"
)

// Topology fills the topics, encoders and functions of a pipeline config.
type Topology func(conf *streams.Config)

var topologies = map[string]Topology{
	`user-events`: UserEvents,
	`quotes`:      Quotes,
}

// Lookup returns the topology registered under name.
func Lookup(name string) (Topology, error) {
	tp, ok := topologies[name]
	if !ok {
		return nil, errors.Errorf(`unknown topology [%s], available: %v`, name, Names())
	}

	return tp, nil
}

func Names() []string {
	names := make([]string, 0, len(topologies))
	for name := range topologies {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// eventTime uses the event timestamp when present, the record timestamp otherwise.
func eventTime(record kafka.Record, value interface{}) int64 {
	if e, ok := value.(Event); ok && e.Timestamp != 0 {
		return e.Timestamp
	}

	return record.Timestamp().UnixMilli()
}
