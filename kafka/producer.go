/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package kafka

import (
	"context"
	"fmt"
)

type DeliveryReport interface {
	Topic() string
	Partition() int32
	Offset() int64
	Error() error
}

// DeliveryHandler is invoked exactly once per produced record, from a
// producer owned goroutine.
type DeliveryHandler func(report DeliveryReport)

type deliveryReport struct {
	topic     string
	partition int32
	offset    int64
	err       error
}

func NewDeliveryReport(topic string, partition int32, offset int64, err error) DeliveryReport {
	return &deliveryReport{topic: topic, partition: partition, offset: offset, err: err}
}

func (d *deliveryReport) Topic() string    { return d.topic }
func (d *deliveryReport) Partition() int32 { return d.partition }
func (d *deliveryReport) Offset() int64    { return d.offset }
func (d *deliveryReport) Error() error     { return d.err }

type ProducerBuilder func(conf func(*ProducerConfig)) (Producer, error)

type RequiredAcks int

const (
	// NoResponse doesn't send any response, the TCP ACK is all you get.
	NoResponse RequiredAcks = 0

	// WaitForLeader waits for only the local commit to succeed before responding.
	WaitForLeader RequiredAcks = 1

	// WaitForAll waits for all in-sync replicas to commit before responding.
	// The minimum number of in-sync replicas is configured on the broker via
	// the `min.insync.replicas` configuration key.
	WaitForAll RequiredAcks = -1
)

const PartitionAny = -1

func (ack RequiredAcks) String() string {
	a := `NoResponse`

	if ack == WaitForLeader {
		a = `WaitForLeader`
	}

	if ack == WaitForAll {
		a = `WaitForAll`
	}

	return a
}

type ConsumerOffset struct {
	Topic     string
	Partition int32
	Offset    int64
	Meta      string
}

func (off ConsumerOffset) String() string {
	return fmt.Sprintf(`%s[%d]@%d`, off.Topic, off.Partition, off.Offset)
}

// Producer writes records asynchronously. ProduceAsync only fails when the
// record could not be enqueued; broker side failures arrive through the handler.
type Producer interface {
	ProduceAsync(ctx context.Context, record Record, handler DeliveryHandler) error
	// Flush blocks until every enqueued record got a delivery report or ctx is done.
	Flush(ctx context.Context) error
	Close() error
}
