package table

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gmbyapa/kenrich/backend/pebble"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/kafka/mocks"
	"github.com/gmbyapa/kenrich/streams/encoding"
)

func produceChangelog(t *testing.T, topics *mocks.Topics, entries ...[2]string) {
	t.Helper()
	for _, e := range entries {
		var v []byte
		if e[1] != `` {
			v = []byte(e[1])
		}

		if _, _, err := topics.Produce(kafka.NewRecord(nil, []byte(e[0]), v, `product-pricing`, kafka.PartitionAny, 0, time.Now(), nil)); err != nil {
			t.Fatal(err)
		}
	}
}

func changelogSource(t *testing.T, topics *mocks.Topics, tbl *Table) kafka.RecordSource {
	t.Helper()
	src, err := mocks.NewSourceBuilder(topics)(func(config *kafka.SourceConfig) {
		config.Topic = `product-pricing`
		config.Offsets.Resolver = tbl.Offset
	})
	if err != nil {
		t.Fatal(err)
	}

	return src
}

func syncerConf() *SyncerConfig {
	conf := NewSyncerConfig()
	conf.PollTimeout = 10 * time.Millisecond
	return conf
}

func runSyncer(t *testing.T, syncer *Syncer) (cancel func(), done chan error, ready chan struct{}) {
	ctx, cancelFn := context.WithCancel(context.Background())
	done = make(chan error, 1)
	ready = make(chan struct{})
	go func() {
		done <- syncer.Run(ctx, func() { close(ready) })
	}()

	return cancelFn, done, ready
}

func waitReady(t *testing.T, ready chan struct{}) {
	t.Helper()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal(`table did not become ready`)
	}
}

func TestSyncer_BootstrapsBeforeReady(t *testing.T) {
	topics := mocks.NewMockTopics()
	topics.CreateTopic(`product-pricing`, 3)
	produceChangelog(t, topics,
		[2]string{`AUTO`, `{"code":"AUTO","base":500,"taxRate":0.2}`},
		[2]string{`HOME`, `{"code":"HOME","base":800,"taxRate":0.15}`},
		[2]string{`LIFE`, `{broken`},
		[2]string{`HOME`, ``},
	)

	tbl := newPricingTable(t)
	cancel, done, ready := runSyncer(t, NewSyncer(tbl, changelogSource(t, topics, tbl), syncerConf()))
	defer cancel()

	waitReady(t, ready)
	if !tbl.Ready() {
		t.Fatal(`table must report ready`)
	}

	if v, _ := tbl.Get(context.Background(), `AUTO`); v == nil || v.(pricing).Base != 500 {
		t.Errorf(`expected AUTO after bootstrap, got %v`, v)
	}

	if v, _ := tbl.Get(context.Background(), `HOME`); v != nil {
		t.Errorf(`expected HOME to be deleted, got %v`, v)
	}

	if v, _ := tbl.Get(context.Background(), `LIFE`); v != nil {
		t.Errorf(`undecodable record must be skipped, got %v`, v)
	}

	// updates after bootstrap keep flowing
	produceChangelog(t, topics, [2]string{`TRAVEL`, `{"code":"TRAVEL","base":150,"taxRate":0.25}`})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, _ := tbl.Get(context.Background(), `TRAVEL`); v != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal(`post bootstrap update not applied`)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf(`unexpected syncer error %v`, err)
	}
}

func TestSyncer_ReadyWhenChangelogEndsWithMarker(t *testing.T) {
	topics := mocks.NewMockTopics()
	topics.CreateTopic(`product-pricing`, 1)
	produceChangelog(t, topics,
		[2]string{`AUTO`, `{"code":"AUTO","base":500,"taxRate":0.2}`},
		[2]string{`HOME`, `{"code":"HOME","base":800,"taxRate":0.15}`},
	)
	if _, err := topics.AppendMarker(`product-pricing`, 0); err != nil {
		t.Fatal(err)
	}

	tbl := newPricingTable(t)
	src := changelogSource(t, topics, tbl)
	wms, err := src.Watermarks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if wm := wms[kafka.TopicPartition{Topic: `product-pricing`, Partition: 0}]; wm.High != 3 {
		t.Fatalf(`expected the marker to count in the high watermark, got %+v`, wm)
	}

	cancel, _, ready := runSyncer(t, NewSyncer(tbl, src, syncerConf()))
	defer cancel()

	waitReady(t, ready)
	if v, _ := tbl.Get(context.Background(), `HOME`); v == nil || v.(pricing).Base != 800 {
		t.Errorf(`expected HOME after bootstrap, got %v`, v)
	}
}

func TestSyncer_EmptyChangelogIsReady(t *testing.T) {
	topics := mocks.NewMockTopics()
	topics.CreateTopic(`product-pricing`, 1)

	tbl := newPricingTable(t)
	cancel, _, ready := runSyncer(t, NewSyncer(tbl, changelogSource(t, topics, tbl), syncerConf()))
	defer cancel()

	waitReady(t, ready)
}

func TestSyncer_UnavailableAtStartupFails(t *testing.T) {
	topics := mocks.NewMockTopics()
	topics.CreateTopic(`product-pricing`, 1)
	tbl := newPricingTable(t)
	src := changelogSource(t, topics, tbl)
	topics.SetUnavailable(true)

	err := NewSyncer(tbl, src, syncerConf()).Run(context.Background(), nil)
	if !kafka.IsUnavailable(err) {
		t.Errorf(`expected an unavailable startup error, got %v`, err)
	}
}

func TestSyncer_RetriesWhileUnavailable(t *testing.T) {
	topics := mocks.NewMockTopics()
	topics.CreateTopic(`product-pricing`, 1)
	produceChangelog(t, topics, [2]string{`AUTO`, `{"code":"AUTO","base":500}`})

	tbl := newPricingTable(t)
	src := changelogSource(t, topics, tbl)
	syncer := NewSyncer(tbl, src, syncerConf())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wms, err := src.Watermarks(ctx)
	if err != nil || len(wms) != 1 {
		t.Fatalf(`unexpected watermarks %v %v`, wms, err)
	}

	ready := make(chan struct{})
	// outage begins after the watermarks were read
	topics.SetUnavailable(true)
	go func() {
		_ = syncer.runWith(ctx, wms, func() { close(ready) })
	}()

	time.Sleep(30 * time.Millisecond)
	if tbl.Ready() {
		t.Fatal(`table must not be ready during an outage`)
	}

	topics.SetUnavailable(false)
	waitReady(t, ready)
}

func TestSyncer_PersistentResumesFromStoredOffset(t *testing.T) {
	dir := t.TempDir()
	topics := mocks.NewMockTopics()
	topics.CreateTopic(`product-pricing`, 1)
	for i := 0; i < 10; i++ {
		produceChangelog(t, topics, [2]string{fmt.Sprintf(`P%d`, i), `{"code":"x"}`})
	}

	newTable := func() *Table {
		pConf := pebble.NewConfig()
		pConf.Dir = dir
		conf := NewConfig()
		conf.Name = `product-pricing`
		conf.ValEncoder = encoding.NewJsonEncoder(func() interface{} { return new(pricing) })
		conf.BackendBuilder = pebble.Builder(pConf)
		tbl, err := New(conf)
		if err != nil {
			t.Fatal(err)
		}
		return tbl
	}

	first := newTable()
	cancel, done, ready := runSyncer(t, NewSyncer(first, changelogSource(t, topics, first), syncerConf()))
	waitReady(t, ready)
	cancel()
	<-done
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := newTable()
	defer second.Close()
	off, err := second.Offset(kafka.TopicPartition{Topic: `product-pricing`, Partition: 0})
	if err != nil || off != 10 {
		t.Fatalf(`expected stored offset 10, got %v %v`, off, err)
	}

	if v, _ := second.Get(context.Background(), `P3`); v == nil {
		t.Error(`expected state to survive a restart`)
	}

	cancel2, _, ready2 := runSyncer(t, NewSyncer(second, changelogSource(t, topics, second), syncerConf()))
	defer cancel2()
	waitReady(t, ready2)
}
