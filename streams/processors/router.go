package processors

import (
	"github.com/cespare/xxhash/v2"
)

// Router assigns keys to aggregator shards. A key always maps to the same shard.
type Router struct {
	Shards int
}

func (r Router) Route(key []byte) int {
	if r.Shards < 2 {
		return 0
	}

	return int(xxhash.Sum64(key) % uint64(r.Shards))
}
