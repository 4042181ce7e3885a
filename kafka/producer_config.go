package kafka

import (
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type ProducerConfig struct {
	Id               string
	BootstrapServers []string
	Acks             RequiredAcks
	Idempotent       bool
	// Linger is how long the producer may batch records before sending.
	Linger time.Duration
	// QueueSize bounds the number of in flight records. ProduceAsync fails when full.
	QueueSize       int
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func (conf *ProducerConfig) Copy() *ProducerConfig {
	c := *conf
	c.BootstrapServers = append([]string(nil), conf.BootstrapServers...)
	return &c
}

func NewProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Acks:            WaitForAll,
		Linger:          5 * time.Millisecond,
		QueueSize:       100000,
		Logger:          log.NewNoopLogger(),
		MetricsReporter: metrics.NoopReporter(),
	}
}
