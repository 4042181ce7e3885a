package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/kafka/mocks"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
)

func TestTee_MirrorsRecords(t *testing.T) {
	primary, mirror := mocks.NewMockTopics(), mocks.NewMockTopics()
	primary.CreateTopic(`enriched-events`, 1)
	mirror.CreateTopic(`enriched-events`, 1)

	build := kafka.TeeBuilder(log.NewNoopLogger(), mocks.NewProducerBuilder(primary), mocks.NewProducerBuilder(mirror))
	p, err := build(func(*kafka.ProducerConfig) {})
	if err != nil {
		t.Fatal(err)
	}

	delivered := make(chan kafka.DeliveryReport, 1)
	rec := kafka.NewRecord(context.Background(), []byte(`user1`), []byte(`{}`), `enriched-events`, kafka.PartitionAny, 0, time.Now(), nil)
	if err := p.ProduceAsync(context.Background(), rec, func(r kafka.DeliveryReport) { delivered <- r }); err != nil {
		t.Fatal(err)
	}

	if err := p.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	if r := <-delivered; r.Error() != nil {
		t.Fatal(r.Error())
	}

	for name, topics := range map[string]*mocks.Topics{`primary`: primary, `mirror`: mirror} {
		tp, err := topics.Topic(`enriched-events`)
		if err != nil {
			t.Fatal(err)
		}

		if n := len(tp.FetchAll()); n != 1 {
			t.Errorf(`%s: expected 1 record, got %d`, name, n)
		}
	}

	if err := p.Close(); err != nil {
		t.Error(err)
	}
}

func TestTee_MirrorFailureIsNotReported(t *testing.T) {
	topics := mocks.NewMockTopics()
	topics.CreateTopic(`quote-aggregates`, 1)

	primary := mocks.NewMockProducer(topics, 10)
	mirror := mocks.NewMockProducer(topics, 10)
	mirror.FailWith(func(kafka.Record) error { return errors.New(`mirror down`) })

	p := kafka.Tee(log.NewNoopLogger(), primary, mirror)
	defer p.Close()

	delivered := make(chan kafka.DeliveryReport, 1)
	rec := kafka.NewRecord(context.Background(), []byte(`C001`), []byte(`{}`), `quote-aggregates`, kafka.PartitionAny, 0, time.Now(), nil)
	if err := p.ProduceAsync(context.Background(), rec, func(r kafka.DeliveryReport) { delivered <- r }); err != nil {
		t.Fatal(err)
	}

	if err := p.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	if r := <-delivered; r.Error() != nil {
		t.Errorf(`mirror errors must not reach the caller, got %s`, r.Error())
	}
}
