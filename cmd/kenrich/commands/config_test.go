package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gmbyapa/kenrich/domain"
	"github.com/gmbyapa/kenrich/kafka/adaptors/redis"
	"github.com/gmbyapa/kenrich/kafka/mocks"
	"github.com/gmbyapa/kenrich/streams"
	"github.com/gmbyapa/kenrich/streams/encoding"
	"github.com/tryfix/log"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cmd := NewRunCommand()
	conf, err := loadConfig(newViper(), ``, cmd.Flags(), runFlags)
	if err != nil {
		t.Fatal(err)
	}

	if conf.Topology != `user-events` || conf.Window.Size != time.Hour || conf.Table.Backend != `memory` {
		t.Errorf(`unexpected defaults %+v`, conf)
	}

	if len(conf.BootstrapServers) != 1 || conf.BootstrapServers[0] != `localhost:9092` {
		t.Errorf(`unexpected bootstrap servers %v`, conf.BootstrapServers)
	}
}

func TestLoadConfig_EnvAndFlags(t *testing.T) {
	t.Setenv(`KENRICH_TOPOLOGY`, `quotes`)
	t.Setenv(`KENRICH_PROCESSING_SHARDS`, `8`)
	t.Setenv(`KENRICH_BOOTSTRAP_SERVERS`, `k1:9092,k2:9092`)

	cmd := NewRunCommand()
	if err := cmd.Flags().Parse([]string{`--window-size`, `30m`, `--table-backend`, `pebble`}); err != nil {
		t.Fatal(err)
	}

	conf, err := loadConfig(newViper(), ``, cmd.Flags(), runFlags)
	if err != nil {
		t.Fatal(err)
	}

	if conf.Topology != `quotes` || conf.Processing.Shards != 8 {
		t.Errorf(`env not applied: %+v`, conf)
	}

	if conf.Window.Size != 30*time.Minute || conf.Table.Backend != `pebble` {
		t.Errorf(`flags not applied: %+v`, conf)
	}

	if len(conf.BootstrapServers) != 2 || conf.BootstrapServers[1] != `k2:9092` {
		t.Errorf(`unexpected bootstrap servers %v`, conf.BootstrapServers)
	}
}

func TestLoadConfig_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), `kenrich.yaml`)
	content := "topology: quotes\nlog_level: debug\nwindow:\n  retention: 2h\nredis:\n  enabled: true\n  addrs: [redis:6379]\n"
	if err := os.WriteFile(file, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	conf, err := loadConfig(newViper(), file, NewRunCommand().Flags(), runFlags)
	if err != nil {
		t.Fatal(err)
	}

	if conf.Topology != `quotes` || conf.Window.Retention != 2*time.Hour || !conf.Redis.Enabled || conf.Redis.Addrs[0] != `redis:6379` {
		t.Errorf(`file not applied: %+v`, conf)
	}
}

func TestLoadConfig_UnknownLogLevel(t *testing.T) {
	t.Setenv(`KENRICH_LOG_LEVEL`, `loud`)
	if _, err := loadConfig(newViper(), ``, NewRunCommand().Flags(), runFlags); err == nil {
		t.Error(`expected an error for an unknown log level`)
	}
}

func TestBackendBuilder(t *testing.T) {
	conf := new(AppConfig)
	conf.ApplicationId = `kenrich-test`
	conf.Table.Dir = t.TempDir()

	for _, name := range []string{`memory`, `pebble`, `badger`} {
		conf.Table.Backend = name
		builder, err := backendBuilder(conf, nil)
		if err != nil {
			t.Fatal(err)
		}

		b, err := builder(`user-profiles`)
		if err != nil {
			t.Fatalf(`%s: %s`, name, err)
		}

		if err := b.Close(); err != nil {
			t.Errorf(`%s: %s`, name, err)
		}
	}

	conf.Table.Backend = `leveldb`
	if _, err := backendBuilder(conf, nil); err == nil {
		t.Error(`expected an error for an unknown backend`)
	}
}

func TestDescribe(t *testing.T) {
	conf, err := loadConfig(newViper(), ``, NewDescribeCommand().Flags(), commonFlags)
	if err != nil {
		t.Fatal(err)
	}
	conf.Topology = `quotes`

	out, err := describe(conf, false)
	if err != nil {
		t.Fatal(err)
	}

	for _, topic := range []string{domain.TopicQuotes, domain.TopicProductPricing, domain.TopicAllQuotes, domain.TopicQuoteAggregates} {
		if !strings.Contains(out, topic) {
			t.Errorf(`expected %s in the description:\n%s`, topic, out)
		}
	}

	dot, err := describe(conf, true)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(dot, `digraph`) {
		t.Errorf(`expected a dot graph, got %s`, dot)
	}
}

func TestGenerate(t *testing.T) {
	topics := mocks.NewMockTopics()
	for _, name := range []string{domain.TopicProductPricing, domain.TopicQuotes} {
		topics.CreateTopic(name, 2)
	}

	producer := mocks.NewMockProducer(topics, 100)
	defer producer.Close()

	sent, failed, err := generate(context.Background(), producer, `quotes`, generateOptions{Count: 20, Seed: 7}, log.NewNoopLogger())
	if err != nil {
		t.Fatal(err)
	}

	if sent != 25 || failed != 0 {
		t.Errorf(`expected 25 sent and none failed, got %d, %d`, sent, failed)
	}

	pricing, _ := topics.Topic(domain.TopicProductPricing)
	if n := len(pricing.FetchAll()); n != len(domain.PricingSeed()) {
		t.Errorf(`expected the pricing seed, got %d entries`, n)
	}

	quotes, _ := topics.Topic(domain.TopicQuotes)
	dec := encoding.NewJsonEncoder(func() interface{} { return new(domain.Quote) })
	for _, rec := range quotes.FetchAll() {
		v, err := dec.Decode(rec.Value())
		if err != nil {
			t.Fatal(err)
		}

		if q := v.(domain.Quote); q.QuoteID != string(rec.Key()) {
			t.Errorf(`quote %s keyed by %s`, q.QuoteID, rec.Key())
		}
	}

	if _, _, err := generate(context.Background(), producer, `unknown`, generateOptions{}, log.NewNoopLogger()); err == nil {
		t.Error(`expected an error for an unknown topology`)
	}
}

func TestProjectionConfig(t *testing.T) {
	conf, err := loadConfig(newViper(), ``, NewRunCommand().Flags(), runFlags)
	if err != nil {
		t.Fatal(err)
	}

	pConf := streams.NewConfig()
	domain.Quotes(pConf)

	configure, err := projectionConfig(conf, pConf)
	if err != nil {
		t.Fatal(err)
	}

	rConf := redis.NewConfig()
	configure(rConf)
	if len(rConf.Topics) != 1 || rConf.Topics[0] != domain.TopicAllQuotes || rConf.KeyFormat != redis.BareKey {
		t.Errorf(`expected all-quotes under bare keys, got %v %s`, rConf.Topics, rConf.KeyFormat)
	}

	conf.Redis.Topics = []string{domain.TopicQuoteAggregates}
	conf.Redis.KeyFormat = `topic`
	configure, err = projectionConfig(conf, pConf)
	if err != nil {
		t.Fatal(err)
	}

	rConf = redis.NewConfig()
	configure(rConf)
	if rConf.Topics[0] != domain.TopicQuoteAggregates || rConf.KeyFormat != redis.TopicKey {
		t.Errorf(`configured topics not applied: %v %s`, rConf.Topics, rConf.KeyFormat)
	}

	conf.Redis.KeyFormat = `hash`
	if _, err := projectionConfig(conf, pConf); err == nil {
		t.Error(`expected an error for an unknown key format`)
	}
}
