package mocks

import (
	"context"
	"sync"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
)

type produceReq struct {
	record  kafka.Record
	handler kafka.DeliveryHandler
}

// MockProducer appends records to a Topics cluster on a background goroutine
// and reports delivery in produce order.
type MockProducer struct {
	topics   *Topics
	queue    chan produceReq
	inflight sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	failWith func(record kafka.Record) error
	done     chan struct{}
}

func NewMockProducer(topics *Topics, queueSize int) *MockProducer {
	if queueSize < 1 {
		queueSize = 1000
	}

	p := &MockProducer{
		topics: topics,
		queue:  make(chan produceReq, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()

	return p
}

// NewProducerBuilder returns a kafka.ProducerBuilder writing into topics.
func NewProducerBuilder(topics *Topics) kafka.ProducerBuilder {
	return func(configure func(*kafka.ProducerConfig)) (kafka.Producer, error) {
		conf := kafka.NewProducerConfig()
		configure(conf)
		return NewMockProducer(topics, conf.QueueSize), nil
	}
}

// FailWith makes every delivery for which fn returns an error fail with it.
func (p *MockProducer) FailWith(fn func(record kafka.Record) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = fn
}

func (p *MockProducer) run() {
	defer close(p.done)
	for req := range p.queue {
		p.mu.RLock()
		failWith := p.failWith
		p.mu.RUnlock()

		var err error
		if failWith != nil {
			err = failWith(req.record)
		}

		var partition int32
		var offset int64
		if err == nil {
			partition, offset, err = p.topics.Produce(req.record)
		}

		if req.handler != nil {
			req.handler(kafka.NewDeliveryReport(req.record.Topic(), partition, offset, err))
		}
		p.inflight.Done()
	}
}

func (p *MockProducer) ProduceAsync(_ context.Context, record kafka.Record, handler kafka.DeliveryHandler) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.New(`producer closed`)
	}

	p.inflight.Add(1)
	select {
	case p.queue <- produceReq{record: record, handler: handler}:
		return nil
	default:
		p.inflight.Done()
		return errors.New(`producer queue full`)
	}
}

func (p *MockProducer) Flush(ctx context.Context) error {
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

func (p *MockProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return nil
}
