package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/redis/go-redis/v9"
)

func unreachable(topics ...string) *Projection {
	conf := NewConfig()
	conf.Topics = topics
	conf.Redis = &redis.UniversalOptions{
		Addrs:       []string{`127.0.0.1:1`},
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}

	p, err := New(conf)
	if err != nil {
		panic(err)
	}

	return p
}

type reports struct {
	mu   sync.Mutex
	list []kafka.DeliveryReport
}

func (r *reports) handle(report kafka.DeliveryReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, report)
}

func (r *reports) all() []kafka.DeliveryReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.DeliveryReport(nil), r.list...)
}

func TestKey(t *testing.T) {
	if k := Key(`quote-aggregates`, []byte(`C001`)); k != `quote-aggregates:C001` {
		t.Errorf(`unexpected key %s`, k)
	}
}

func TestProjection_KeyFormat(t *testing.T) {
	p := unreachable(`all-quotes`)
	defer p.Close()

	if k := p.key(`all-quotes`, []byte(`Q-1`)); k != `all-quotes:Q-1` {
		t.Errorf(`unexpected default key %s`, k)
	}

	p.config.KeyFormat = BareKey
	if k := p.key(`all-quotes`, []byte(`Q-1`)); k != `Q-1` {
		t.Errorf(`expected the bare record key, got %s`, k)
	}
}

func TestProjection_SkipsOtherTopics(t *testing.T) {
	p := unreachable(`quote-aggregates`)
	defer p.Close()

	var r reports
	rec := kafka.NewRecord(context.Background(), []byte(`Q-1`), []byte(`{}`), `all-quotes`, 0, 0, time.Now(), nil)
	if err := p.ProduceAsync(context.Background(), rec, r.handle); err != nil {
		t.Fatal(err)
	}

	got := r.all()
	if len(got) != 1 || got[0].Error() != nil {
		t.Errorf(`expected an immediate successful report, got %v`, got)
	}
}

func TestProjection_RejectsKeylessRecords(t *testing.T) {
	p := unreachable()
	defer p.Close()

	rec := kafka.NewRecord(context.Background(), nil, []byte(`{}`), `quote-aggregates`, 0, 0, time.Now(), nil)
	if err := p.ProduceAsync(context.Background(), rec, nil); err == nil {
		t.Error(`expected an error for a record without a key`)
	}
}

func TestProjection_ReportsWriteFailures(t *testing.T) {
	p := unreachable()

	var r reports
	rec := kafka.NewRecord(context.Background(), []byte(`C001`), []byte(`{"count":1}`), `quote-aggregates`, 0, 0, time.Now(), nil)
	if err := p.ProduceAsync(context.Background(), rec, r.handle); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	got := r.all()
	if len(got) != 1 || got[0].Error() == nil {
		t.Errorf(`expected a failed report, got %v`, got)
	}

	if err := p.Close(); err != nil {
		t.Error(err)
	}

	if err := p.ProduceAsync(context.Background(), rec, nil); err == nil {
		t.Error(`expected an error after close`)
	}
}

// Runs against a live server when REDIS_ADDR is set.
func TestProjection_Live(t *testing.T) {
	addr := os.Getenv(`REDIS_ADDR`)
	if addr == `` {
		t.Skip(`REDIS_ADDR not set`)
	}

	conf := NewConfig()
	conf.Redis = &redis.UniversalOptions{Addrs: []string{addr}}
	p, err := New(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx := context.Background()
	topic := faker.Word()
	for _, v := range [][]byte{[]byte(`{"count":1}`), []byte(`{"count":2}`)} {
		if err := p.ProduceAsync(ctx, kafka.NewRecord(ctx, []byte(`C001`), v, topic, 0, 0, time.Now(), nil), nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	val, err := p.Get(ctx, topic, []byte(`C001`))
	if err != nil {
		t.Fatal(err)
	}

	if string(val) != `{"count":2}` {
		t.Errorf(`expected the latest value, got %s`, val)
	}

	if err := p.ProduceAsync(ctx, kafka.NewRecord(ctx, []byte(`C001`), nil, topic, 0, 0, time.Now(), nil), nil); err != nil {
		t.Fatal(err)
	}

	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if val, err := p.Get(ctx, topic, []byte(`C001`)); err != nil || val != nil {
		t.Errorf(`expected the tombstone to delete the key, got %s %v`, val, err)
	}
}
