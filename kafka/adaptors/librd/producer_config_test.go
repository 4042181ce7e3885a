package librd

import (
	"testing"
	"time"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
)

func TestProducerConfig_SetUp(t *testing.T) {
	conf := NewProducerConfig()
	conf.Id = `kenrich-sink`
	conf.BootstrapServers = []string{`k1:9092`, `k2:9092`}
	conf.Acks = kafka.WaitForLeader
	conf.Linger = 20 * time.Millisecond
	conf.QueueSize = 5000

	if err := conf.validate(); err != nil {
		t.Fatal(err)
	}

	if err := conf.setUp(); err != nil {
		t.Fatal(err)
	}

	expected := map[string]interface{}{
		`client.id`:                    `kenrich-sink`,
		`bootstrap.servers`:            `k1:9092,k2:9092`,
		`acks`:                         `1`,
		`linger.ms`:                    20,
		`queue.buffering.max.messages`: 5000,
		`partitioner`:                  `murmur2`,
	}

	for key, want := range expected {
		got, err := conf.Librd.Get(key, nil)
		if err != nil {
			t.Fatal(err)
		}

		if got != want {
			t.Errorf(`%s: expected %v, got %v`, key, want, got)
		}
	}
}

func TestProducerConfig_IdempotenceNeedsAllAcks(t *testing.T) {
	conf := NewProducerConfig()
	conf.BootstrapServers = []string{`localhost:9092`}
	conf.Idempotent = true
	conf.Acks = kafka.WaitForLeader

	if err := conf.setUp(); err == nil {
		t.Error(`expected an error for idempotence without acks=all`)
	}
}

func TestProducerConfig_Copy(t *testing.T) {
	conf := NewProducerConfig()
	conf.BootstrapServers = []string{`localhost:9092`}

	c := conf.copy()
	c.BootstrapServers[0] = `other:9092`
	if err := c.Librd.SetKey(`partitioner`, string(PartitionerRandom)); err != nil {
		t.Fatal(err)
	}

	if conf.BootstrapServers[0] != `localhost:9092` {
		t.Error(`copy must not share bootstrap servers`)
	}

	if v, _ := conf.Librd.Get(`partitioner`, nil); v != string(PartitionerConsistentMurmur2) {
		t.Errorf(`copy must not share the librdkafka config, got %v`, v)
	}
}

func TestDeliveryErr(t *testing.T) {
	down := librdKafka.NewError(librdKafka.ErrAllBrokersDown, `all brokers down`, false)
	if err := deliveryErr(errors.Wrap(down, `delivery failed`), down); !kafka.IsUnavailable(err) {
		t.Errorf(`expected unavailable, got %v`, err)
	}

	tooLarge := librdKafka.NewError(librdKafka.ErrMsgSizeTooLarge, `too large`, false)
	if err := deliveryErr(errors.Wrap(tooLarge, `delivery failed`), tooLarge); kafka.IsUnavailable(err) {
		t.Error(`a rejected message is not a connectivity failure`)
	}

	if errorCode(tooLarge) != librdKafka.ErrMsgSizeTooLarge.String() {
		t.Errorf(`unexpected error code %s`, errorCode(tooLarge))
	}
}
