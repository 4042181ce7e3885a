package mocks

import (
	"context"
	"fmt"
	"time"

	"github.com/gmbyapa/kenrich/kafka"
)

// Record is a kafka.Record literal. Tests build changelog rows and events
// with it and hand them to Topics.Produce. A negative MPartition lets
// Topics pick the partition from the key.
type Record struct {
	MCtx       context.Context
	MTopic     string
	MPartition int32
	MOffset    int64
	MValue     []byte
	MKey       []byte
	MTimestamp time.Time
	MHeaders   []kafka.RecordHeader
}

// KeyedRecord returns an event for topic stamped at ts, partitioned by key.
// A nil value makes it a tombstone.
func KeyedRecord(topic, key string, value []byte, ts time.Time) *Record {
	return &Record{MTopic: topic, MKey: []byte(key), MValue: value, MPartition: -1, MTimestamp: ts}
}

func (r *Record) Key() []byte      { return r.MKey }
func (r *Record) Value() []byte    { return r.MValue }
func (r *Record) Topic() string    { return r.MTopic }
func (r *Record) Partition() int32 { return r.MPartition }
func (r *Record) Offset() int64    { return r.MOffset }

func (r *Record) Timestamp() time.Time { return r.MTimestamp }

func (r *Record) Headers() kafka.RecordHeaders { return r.MHeaders }

func (r *Record) Ctx() context.Context {
	if r.MCtx == nil {
		return context.Background()
	}

	return r.MCtx
}

func (r *Record) String() string {
	if r.MValue == nil {
		return fmt.Sprintf(`%s[%d]@%d key:%s (tombstone)`, r.MTopic, r.MPartition, r.MOffset, r.MKey)
	}

	return fmt.Sprintf(`%s[%d]@%d key:%s`, r.MTopic, r.MPartition, r.MOffset, r.MKey)
}
