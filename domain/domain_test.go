package domain

import (
	"context"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/kafka/mocks"
	"github.com/gmbyapa/kenrich/streams"
	"github.com/gmbyapa/kenrich/streams/encoding"
)

var jsonEnc = encoding.JsonEncoder{}

func TestEnrichQuote(t *testing.T) {
	auto := PricingSeed()[0]
	q := Quote{QuoteID: faker.UUIDDigit(), CustomerID: `C001`, Status: QuoteValidated, ProductCode: `AUTO`, BasePremium: 500}

	eq := EnrichQuote(q, auto)
	if eq.FinalPremium != 600 {
		t.Errorf(`expected 600, got %v`, eq.FinalPremium)
	}

	if eq.QuoteID != q.QuoteID || eq.ProductName != `Auto Insurance` || eq.BasePremium != 500 {
		t.Errorf(`unexpected enriched quote %+v`, eq)
	}
}

func TestEnrichEvent(t *testing.T) {
	e := Event{UserID: `user1`, Type: EventPurchase, Amount: 100}
	p := UserProfile{UserID: `user1`, Name: faker.FirstName(), Tier: `GOLD`, TaxRate: 0.25}

	ee := EnrichEvent(e, p)
	if ee.FinalAmount != 125 || ee.UserName != p.Name || ee.UserTier != `GOLD` || ee.Amount != 100 {
		t.Errorf(`unexpected enriched event %+v`, ee)
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		if _, err := Lookup(name); err != nil {
			t.Error(err)
		}
	}

	if _, err := Lookup(`unknown`); err == nil {
		t.Error(`expected an error for an unknown topology`)
	}
}

func TestGenerator_QuoteStatuses(t *testing.T) {
	g := NewGenerator(42)
	counts := map[QuoteStatus]int{}
	for i := 0; i < 1000; i++ {
		q := g.Quote()
		counts[q.Status]++

		if q.BasePremium < 100 || q.BasePremium >= 600 {
			t.Fatalf(`base premium out of range: %v`, q.BasePremium)
		}

		if q.CreatedAt > q.UpdatedAt {
			t.Fatalf(`quote created after its update: %+v`, q)
		}
	}

	if counts[QuoteValidated] < 500 || counts[QuoteDraft] == 0 || counts[QuoteCancelled] == 0 {
		t.Errorf(`unexpected status distribution %v`, counts)
	}
}

func send(t *testing.T, topics *mocks.Topics, topic, key string, v interface{}, ts time.Time) {
	t.Helper()

	byt, err := jsonEnc.Encode(v)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := topics.Produce(mocks.KeyedRecord(topic, key, byt, ts)); err != nil {
		t.Fatal(err)
	}
}

func runUntil(t *testing.T, conf *streams.Config, done func() bool) *streams.Pipeline {
	t.Helper()

	p, err := streams.New(conf)
	if err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 1)
	go func() { errs <- p.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			p.Stop()
			t.Fatal(`timed out`)
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	if err := <-errs; err != nil {
		t.Fatal(err)
	}

	return p
}

func newConfig(topics *mocks.Topics, topology Topology) *streams.Config {
	conf := streams.NewConfig()
	conf.ApplicationId = faker.Word()
	conf.Topics.AutoCreate = true
	conf.Topics.Partitions = 2
	conf.Processing.PollTimeout = 20 * time.Millisecond
	conf.Processing.AggregatorShards = 2
	conf.Source = mocks.NewSourceBuilder(topics)
	conf.Producer = mocks.NewProducerBuilder(topics)
	conf.Admin = mocks.NewMockAdmin(topics)
	topology(conf)

	return conf
}

func fetch(topics *mocks.Topics, topic string) []kafka.Record {
	tp, err := topics.Topic(topic)
	if err != nil {
		return nil
	}

	return tp.FetchAll()
}

func createAll(topics *mocks.Topics, names ...string) {
	for _, name := range names {
		topics.CreateTopic(name, 2)
	}
}

func TestQuotes_Pipeline(t *testing.T) {
	topics := mocks.NewMockTopics()
	createAll(topics, TopicQuotes, TopicProductPricing, TopicValidatedQuotes, TopicAllQuotes, TopicQuoteAggregates)

	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for _, p := range PricingSeed() {
		send(t, topics, TopicProductPricing, p.ProductCode, p, now)
	}

	send(t, topics, TopicQuotes, `Q-1`, Quote{QuoteID: `Q-1`, CustomerID: `C001`, Status: QuoteValidated, ProductCode: `AUTO`, BasePremium: 500}, now)
	send(t, topics, TopicQuotes, `Q-2`, Quote{QuoteID: `Q-2`, CustomerID: `C001`, Status: QuoteValidated, ProductCode: `C9`, BasePremium: 200}, now.Add(time.Minute))
	send(t, topics, TopicQuotes, `Q-3`, Quote{QuoteID: `Q-3`, CustomerID: `C002`, Status: QuoteDraft, ProductCode: `HOME`, BasePremium: 300}, now.Add(time.Minute))

	runUntil(t, newConfig(topics, Quotes), func() bool {
		return len(fetch(topics, TopicQuoteAggregates)) == 2
	})

	all := fetch(topics, TopicAllQuotes)
	if len(all) != 1 {
		t.Fatalf(`expected one priced quote, got %d`, len(all))
	}

	dec := encoding.NewJsonEncoder(func() interface{} { return new(EnrichedQuote) })
	v, err := dec.Decode(all[0].Value())
	if err != nil {
		t.Fatal(err)
	}
	eq := v.(EnrichedQuote)

	if string(all[0].Key()) != `Q-1` || eq.FinalPremium != 600 || eq.ProductName != `Auto Insurance` {
		t.Errorf(`unexpected priced quote %s %+v`, all[0].Key(), eq)
	}

	aggDec := encoding.NewJsonEncoder(func() interface{} { return new(QuoteAggregate) })
	var last QuoteAggregate
	for _, rec := range fetch(topics, TopicQuoteAggregates) {
		v, err := aggDec.Decode(rec.Value())
		if err != nil {
			t.Fatal(err)
		}

		agg := v.(QuoteAggregate)
		if agg.Count > last.Count {
			last = agg
		}
	}

	if last.CustomerID != `C001` || last.Count != 2 || last.TotalPremium != 700 {
		t.Errorf(`unexpected aggregate %+v`, last)
	}

	if last.WindowStart != time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli() || last.WindowEnd-last.WindowStart != time.Hour.Milliseconds() {
		t.Errorf(`unexpected window [%d,%d)`, last.WindowStart, last.WindowEnd)
	}

	if n := len(fetch(topics, TopicValidatedQuotes)); n != 2 {
		t.Errorf(`expected 2 validated quotes, got %d`, n)
	}
}

func TestUserEvents_Pipeline(t *testing.T) {
	topics := mocks.NewMockTopics()

	topics.CreateTopic(TopicUserProfiles, 2)
	for _, p := range ProfileSeed() {
		p.TaxRate = 0.1
		send(t, topics, TopicUserProfiles, p.UserID, p, time.Now())
	}

	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC).UnixMilli()
	topics.CreateTopic(TopicUserEvents, 2)
	events := []Event{
		{ID: faker.UUIDHyphenated(), UserID: `user1`, Type: EventPurchase, Amount: 100, Timestamp: ts},
		{ID: faker.UUIDHyphenated(), UserID: `user1`, Type: EventView, Amount: 10, Timestamp: ts},
		{ID: faker.UUIDHyphenated(), UserID: `user1`, Type: EventPurchase, Amount: 50, Timestamp: ts + 1000},
		{ID: faker.UUIDHyphenated(), UserID: `ghost`, Type: EventPurchase, Amount: 70, Timestamp: ts},
	}
	for _, e := range events {
		send(t, topics, TopicUserEvents, e.UserID, e, time.Now())
	}

	p := runUntil(t, newConfig(topics, UserEvents), func() bool {
		return len(fetch(topics, TopicUserEventAggregates)) == 2
	})

	if n := len(fetch(topics, TopicFilteredEvents)); n != 3 {
		t.Errorf(`expected 3 purchases, got %d`, n)
	}

	if n := len(fetch(topics, TopicEnrichedEvents)); n != 2 {
		t.Errorf(`expected the ghost purchase to be dropped, got %d enriched`, n)
	}

	aggs := p.Windows().Fetch(`user1`)
	if len(aggs) != 1 || aggs[0].Count != 2 || aggs[0].Total != 150 {
		t.Fatalf(`unexpected user1 windows %+v`, aggs)
	}

	if aggs[0].Start != time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli() {
		t.Errorf(`event timestamps must drive the window, got start %d`, aggs[0].Start)
	}

	if len(p.Windows().Fetch(`ghost`)) != 0 {
		t.Error(`a join miss must not reach the aggregator`)
	}
}
