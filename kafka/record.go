package kafka

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Record is a single keyed entry read from (or written to) a partitioned log.
// A nil Value is a tombstone.
type Record interface {
	Ctx() context.Context
	Key() []byte
	Value() []byte
	Topic() string
	Partition() int32
	Offset() int64
	Timestamp() time.Time
	Headers() RecordHeaders
	String() string
}

// RecordHeader stores key and value for a record header.
type RecordHeader struct {
	Key   []byte
	Value []byte
}

// RecordHeaders are list of key:value pairs.
type RecordHeaders []RecordHeader

// Read returns a RecordHeader by its name or nil if not exist
func (h RecordHeaders) Read(key []byte) []byte {
	for _, header := range h {
		if bytes.Equal(header.Key, key) {
			return header.Value
		}
	}

	return nil
}

type record struct {
	ctx       context.Context
	key       []byte
	value     []byte
	topic     string
	partition int32
	offset    int64
	timestamp time.Time
	headers   RecordHeaders
}

// NewRecord builds a Record. Producers ignore the offset and use PartitionAny to
// let the partitioner decide.
func NewRecord(ctx context.Context, key, value []byte, topic string, partition int32, offset int64, timestamp time.Time, headers RecordHeaders) Record {
	if ctx == nil {
		ctx = context.Background()
	}

	return &record{
		ctx:       ctx,
		key:       key,
		value:     value,
		topic:     topic,
		partition: partition,
		offset:    offset,
		timestamp: timestamp,
		headers:   headers,
	}
}

func (r *record) Ctx() context.Context   { return r.ctx }
func (r *record) Key() []byte            { return r.key }
func (r *record) Value() []byte          { return r.value }
func (r *record) Topic() string          { return r.topic }
func (r *record) Partition() int32       { return r.partition }
func (r *record) Offset() int64          { return r.offset }
func (r *record) Timestamp() time.Time   { return r.timestamp }
func (r *record) Headers() RecordHeaders { return r.headers }

func (r *record) String() string {
	return fmt.Sprintf(`%s[%d]@%d`, r.topic, r.partition, r.offset)
}
