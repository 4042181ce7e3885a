package librd

import (
	"strings"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
)

type Partitioner string

const (
	PartitionerRandom                  Partitioner = `random`
	PartitionerCRC32                   Partitioner = `consistent`
	PartitionerCRC32Random             Partitioner = `consistent_random`
	PartitionerConsistentMurmur2       Partitioner = `murmur2`
	PartitionerConsistentMurmur2Random Partitioner = `murmur2_random`
	PartitionerConsistentFNV1a         Partitioner = `fnv1a`
	PartitionerConsistentFNV1aRandom   Partitioner = `fnv1a_random`
)

type ProducerConfig struct {
	Librd *librdKafka.ConfigMap
	// LogLevel of the librdkafka internal logs forwarded to Logger.
	LogLevel log.Level
	*kafka.ProducerConfig
}

// NewProducerConfig uses murmur2 so keys land on the same partitions as the
// JVM clients.
func NewProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Librd: &librdKafka.ConfigMap{
			`partitioner`: string(PartitionerConsistentMurmur2),
		},
		LogLevel:       log.INFO,
		ProducerConfig: kafka.NewProducerConfig(),
	}
}

func (conf *ProducerConfig) validate() error {
	if len(conf.BootstrapServers) < 1 {
		return errors.New(`[BootstrapServers] cannot be empty`)
	}

	if conf.QueueSize < 1 {
		return errors.New(`[QueueSize] must be greater than zero`)
	}

	return nil
}

func (conf *ProducerConfig) setUp() error {
	settings := librdKafka.ConfigMap{
		`client.id`:                    conf.Id,
		`bootstrap.servers`:            strings.Join(conf.BootstrapServers, `,`),
		`acks`:                         acks(conf.Acks),
		`enable.idempotence`:           conf.Idempotent,
		`linger.ms`:                    int(conf.Linger.Milliseconds()),
		`queue.buffering.max.messages`: conf.QueueSize,
		`go.produce.channel.size`:      conf.QueueSize,
		`go.events.channel.size`:       conf.QueueSize,
		`go.logs.channel.enable`:       true,
		`log_level`:                    toLibrdLogLevel(conf.LogLevel),
	}

	for key, val := range settings {
		if err := conf.Librd.SetKey(key, val); err != nil {
			return errors.Wrapf(err, `librdkafka config [%s] failed`, key)
		}
	}

	// idempotence requires every in-sync replica to ack
	if conf.Idempotent && conf.Acks != kafka.WaitForAll {
		return errors.Errorf(`[Acks] must be WaitForAll for idempotent producers, got %s`, conf.Acks)
	}

	return nil
}

func (conf *ProducerConfig) copy() *ProducerConfig {
	librdCopy := librdKafka.ConfigMap{}
	for key, val := range *conf.Librd {
		librdCopy[key] = val
	}

	return &ProducerConfig{
		Librd:          &librdCopy,
		LogLevel:       conf.LogLevel,
		ProducerConfig: conf.ProducerConfig.Copy(),
	}
}

func acks(a kafka.RequiredAcks) string {
	switch a {
	case kafka.NoResponse:
		return `0`
	case kafka.WaitForLeader:
		return `1`
	}

	return `all`
}

func toLibrdLogLevel(level log.Level) int {
	switch level {
	case log.ERROR:
		return 2
	case log.WARN:
		return 5
	case log.INFO:
		return 6
	case log.DEBUG, log.TRACE:
		return 7
	}

	return 0
}
