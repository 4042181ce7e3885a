// Package redis projects pipeline output into Redis so the latest value of
// every key can be read without a broker consumer.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// KeyFormat decides the redis key of a projected record.
type KeyFormat int8

const (
	// TopicKey stores records under <topic>:<key>.
	TopicKey KeyFormat = iota
	// BareKey stores records under the record key alone.
	BareKey
)

func (f KeyFormat) String() string {
	if f == BareKey {
		return `bare`
	}

	return `topic`
}

type Config struct {
	Redis *redis.UniversalOptions
	// Topics to project. Records of other topics are acknowledged untouched.
	// Empty projects every topic.
	Topics []string
	// TTL of projected keys, 0 keeps them until overwritten or deleted.
	TTL       time.Duration
	KeyFormat KeyFormat
	BatchSize int
	*kafka.ProducerConfig
}

func NewConfig() *Config {
	return &Config{
		Redis:          &redis.UniversalOptions{Addrs: []string{`localhost:6379`}},
		BatchSize:      100,
		ProducerConfig: kafka.NewProducerConfig(),
	}
}

func (conf *Config) validate() error {
	if conf.Redis == nil || len(conf.Redis.Addrs) < 1 {
		return errors.New(`[Redis.Addrs] cannot be empty`)
	}

	if conf.BatchSize < 1 {
		return errors.New(`[BatchSize] must be greater than zero`)
	}

	if conf.QueueSize < 1 {
		return errors.New(`[QueueSize] must be greater than zero`)
	}

	return nil
}

type write struct {
	record  kafka.Record
	handler kafka.DeliveryHandler
}

// Projection is a kafka.Producer which SETs each record value under its
// KeyFormat key. A tombstone deletes the key.
type Projection struct {
	client redis.UniversalClient
	config *Config
	topics map[string]bool
	queue  chan write
	logger log.Logger

	inflight sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}

	metrics struct {
		written metrics.Counter
		errors  metrics.Counter
	}
}

// NewProducerBuilder returns a kafka.ProducerBuilder for projections sharing conf.
func NewProducerBuilder(configure func(config *Config)) kafka.ProducerBuilder {
	conf := NewConfig()
	configure(conf)
	return func(configure func(*kafka.ProducerConfig)) (kafka.Producer, error) {
		c := *conf
		c.ProducerConfig = conf.ProducerConfig.Copy()
		configure(c.ProducerConfig)

		return New(&c)
	}
}

func New(conf *Config) (*Projection, error) {
	if err := conf.validate(); err != nil {
		return nil, errors.Wrap(err, `invalid projection configs`)
	}

	return NewWithClient(redis.NewUniversalClient(conf.Redis), conf), nil
}

// NewWithClient uses an existing client. The projection owns it from now on.
func NewWithClient(client redis.UniversalClient, conf *Config) *Projection {
	p := &Projection{
		client: client,
		config: conf,
		topics: map[string]bool{},
		queue:  make(chan write, conf.QueueSize),
		logger: conf.Logger.NewLog(log.Prefixed(`RedisProjection`)),
		done:   make(chan struct{}),
	}

	for _, tp := range conf.Topics {
		p.topics[tp] = true
	}

	p.metrics.written = conf.MetricsReporter.Counter(metrics.MetricConf{
		Path:   `projection_written_keys`,
		Labels: []string{`topic`, `op`},
	})
	p.metrics.errors = conf.MetricsReporter.Counter(metrics.MetricConf{
		Path:   `projection_write_errors`,
		Labels: []string{`topic`},
	})

	go p.run()

	return p
}

// Key returns the redis key a record of topic with key is projected to.
func Key(topic string, key []byte) string {
	return fmt.Sprintf(`%s:%s`, topic, key)
}

func (p *Projection) key(topic string, key []byte) string {
	if p.config.KeyFormat == BareKey {
		return string(key)
	}

	return Key(topic, key)
}

func (p *Projection) projects(topic string) bool {
	return len(p.topics) == 0 || p.topics[topic]
}

func (p *Projection) ProduceAsync(_ context.Context, record kafka.Record, handler kafka.DeliveryHandler) error {
	if !p.projects(record.Topic()) {
		if handler != nil {
			handler(kafka.NewDeliveryReport(record.Topic(), record.Partition(), -1, nil))
		}
		return nil
	}

	if len(record.Key()) == 0 {
		return errors.Errorf(`record %s has no key to project`, record)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.New(`projection closed`)
	}

	p.inflight.Add(1)
	select {
	case p.queue <- write{record: record, handler: handler}:
		return nil
	default:
		p.inflight.Done()
		return errors.Wrap(kafka.ErrUnavailable, `projection queue full`)
	}
}

func (p *Projection) run() {
	defer close(p.done)

	batch := make([]write, 0, p.config.BatchSize)
	for w := range p.queue {
		batch = append(batch[:0], w)
	Fill:
		for len(batch) < p.config.BatchSize {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break Fill
				}
				batch = append(batch, next)
			default:
				break Fill
			}
		}

		p.write(batch)
	}
}

func (p *Projection) write(batch []write) {
	ctx := context.Background()
	cmds := make([]redis.Cmder, len(batch))

	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, w := range batch {
			key := p.key(w.record.Topic(), w.record.Key())
			if w.record.Value() == nil {
				cmds[i] = pipe.Del(ctx, key)
				continue
			}
			cmds[i] = pipe.Set(ctx, key, w.record.Value(), p.config.TTL)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn(fmt.Sprintf(`Pipeline of %d writes failed: %s`, len(batch), err))
	}

	for i, w := range batch {
		p.report(w, cmds[i].Err())
	}
}

func (p *Projection) report(w write, err error) {
	defer p.inflight.Done()

	topic := w.record.Topic()
	if err != nil {
		p.metrics.errors.Count(1, map[string]string{`topic`: topic})
		err = errors.Wrapf(err, `projection of %s failed`, p.key(topic, w.record.Key()))
	} else {
		op := `set`
		if w.record.Value() == nil {
			op = `del`
		}
		p.metrics.written.Count(1, map[string]string{`topic`: topic, `op`: op})
	}

	if w.handler != nil {
		w.handler(kafka.NewDeliveryReport(topic, w.record.Partition(), -1, err))
	}
}

// Flush waits until every queued write has been reported or ctx is done.
func (p *Projection) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), `flush interrupted`)
	}
}

func (p *Projection) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.logger.Info(`Projection closed`)

	return p.client.Close()
}

// Get reads the projected value of key in topic. A missing key returns nil.
func (p *Projection) Get(ctx context.Context, topic string, key []byte) ([]byte, error) {
	val, err := p.client.Get(ctx, p.key(topic, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, `cannot read %s`, p.key(topic, key))
	}

	return val, nil
}
