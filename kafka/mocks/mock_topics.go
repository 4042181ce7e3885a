package mocks

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/gmbyapa/kenrich/kafka"
)

type MockPartition struct {
	records []kafka.Record
	*sync.Mutex
}

// Append stores r at the end of the partition log and returns the assigned offset.
func (p *MockPartition) Append(r kafka.Record, partition int32) int64 {
	p.Lock()
	defer p.Unlock()

	offset := int64(len(p.records))
	p.records = append(p.records, kafka.NewRecord(
		r.Ctx(), r.Key(), r.Value(), r.Topic(), partition, offset, r.Timestamp(), r.Headers()))

	return offset
}

// High returns the offset of the next record to be written.
func (p *MockPartition) High() int64 {
	p.Lock()
	defer p.Unlock()

	return int64(len(p.records))
}

// AppendMarker takes up an offset without a readable record, the way a
// transaction commit marker does.
func (p *MockPartition) AppendMarker() int64 {
	p.Lock()
	defer p.Unlock()

	p.records = append(p.records, nil)
	return int64(len(p.records) - 1)
}

func (p *MockPartition) FetchAll() (records []kafka.Record) {
	p.Lock()
	defer p.Unlock()

	for _, r := range p.records {
		if r != nil {
			records = append(records, r)
		}
	}

	return records
}

// Fetch returns up to limit records starting at offset start.
func (p *MockPartition) Fetch(start int64, limit int) (records []kafka.Record) {
	records, _ = p.Read(start, limit)
	return records
}

// Read returns up to limit records starting at offset start, and the next
// offset to read. Markers are skipped but still move next forward.
func (p *MockPartition) Read(start int64, limit int) (records []kafka.Record, next int64) {
	p.Lock()
	defer p.Unlock()

	if start < 0 {
		start = 0
	}

	next = start
	for next < int64(len(p.records)) && len(records) < limit {
		if r := p.records[next]; r != nil {
			records = append(records, r)
		}
		next++
	}

	return records, next
}

type MockTopic struct {
	Name       string
	partitions []*MockPartition
	Meta       *kafka.Topic
	mu         *sync.Mutex
}

func (tp *MockTopic) Partition(id int32) (*MockPartition, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if id < 0 || int(id) >= len(tp.partitions) {
		return nil, sarama.ErrUnknownTopicOrPartition
	}

	return tp.partitions[id], nil
}

func (tp *MockTopic) Partitions() []*MockPartition {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	return tp.partitions
}

func (tp *MockTopic) FetchAll() (records []kafka.Record) {
	for _, pt := range tp.Partitions() {
		records = append(records, pt.FetchAll()...)
	}

	return records
}

// Topics is an in memory cluster shared by mock sources, producers and admins.
type Topics struct {
	*sync.Mutex
	topics      map[string]*MockTopic
	committed   map[string]map[kafka.TopicPartition]int64
	unavailable bool
}

func NewMockTopics() *Topics {
	return &Topics{
		topics:    make(map[string]*MockTopic),
		committed: make(map[string]map[kafka.TopicPartition]int64),
		Mutex:     new(sync.Mutex),
	}
}

// AddTopic creates a topic. NumPartitions defaults to one.
func (td *Topics) AddTopic(topic *MockTopic) error {
	td.Lock()
	defer td.Unlock()
	if _, ok := td.topics[topic.Name]; ok {
		return errors.New(`topic already exists`)
	}

	if topic.Meta == nil {
		topic.Meta = &kafka.Topic{Name: topic.Name}
	}

	if topic.Meta.NumPartitions < 1 {
		topic.Meta.NumPartitions = 1
	}

	topic.mu = new(sync.Mutex)
	topic.partitions = make([]*MockPartition, topic.Meta.NumPartitions)
	topic.Meta.Partitions = nil
	for i := int32(0); i < topic.Meta.NumPartitions; i++ {
		topic.Meta.Partitions = append(topic.Meta.Partitions, kafka.PartitionConf{Id: i})
		topic.partitions[i] = &MockPartition{Mutex: new(sync.Mutex)}
	}
	td.topics[topic.Name] = topic

	return nil
}

// CreateTopic is a shortcut for AddTopic.
func (td *Topics) CreateTopic(name string, partitions int32) *MockTopic {
	topic := &MockTopic{Name: name, Meta: &kafka.Topic{Name: name, NumPartitions: partitions}}
	if err := td.AddTopic(topic); err != nil {
		t, _ := td.Topic(name)
		return t
	}

	return topic
}

func (td *Topics) RemoveTopic(name string) error {
	td.Lock()
	defer td.Unlock()
	if _, ok := td.topics[name]; !ok {
		return errors.New(`topic does not exists`)
	}

	delete(td.topics, name)
	return nil
}

func (td *Topics) Topic(name string) (*MockTopic, error) {
	td.Lock()
	defer td.Unlock()

	t, ok := td.topics[name]
	if !ok {
		return t, sarama.ErrUnknownTopicOrPartition
	}

	return t, nil
}

func (td *Topics) Topics() map[string]*MockTopic {
	td.Lock()
	defer td.Unlock()

	tps := make(map[string]*MockTopic, len(td.topics))
	for name, tp := range td.topics {
		tps[name] = tp
	}

	return tps
}

// Produce appends r synchronously. A negative partition is resolved by key hash.
func (td *Topics) Produce(r kafka.Record) (partition int32, offset int64, err error) {
	if td.Unavailable() {
		return 0, 0, kafka.ErrUnavailable
	}

	topic, err := td.Topic(r.Topic())
	if err != nil {
		return 0, 0, err
	}

	partition = r.Partition()
	if partition < 0 {
		partition = partitionFor(r.Key(), topic.Meta.NumPartitions)
	}

	pt, err := topic.Partition(partition)
	if err != nil {
		return 0, 0, err
	}

	return partition, pt.Append(r, partition), nil
}

// AppendMarker writes a marker to a partition of topic.
func (td *Topics) AppendMarker(topic string, partition int32) (int64, error) {
	tp, err := td.Topic(topic)
	if err != nil {
		return 0, err
	}

	pt, err := tp.Partition(partition)
	if err != nil {
		return 0, err
	}

	return pt.AppendMarker(), nil
}

// SetUnavailable simulates a cluster outage for every client sharing td.
func (td *Topics) SetUnavailable(down bool) {
	td.Lock()
	defer td.Unlock()
	td.unavailable = down
}

func (td *Topics) Unavailable() bool {
	td.Lock()
	defer td.Unlock()
	return td.unavailable
}

func (td *Topics) commit(group string, offsets []kafka.ConsumerOffset) {
	td.Lock()
	defer td.Unlock()

	if _, ok := td.committed[group]; !ok {
		td.committed[group] = make(map[kafka.TopicPartition]int64)
	}

	for _, off := range offsets {
		td.committed[group][kafka.TopicPartition{Topic: off.Topic, Partition: off.Partition}] = off.Offset
	}
}

// Committed returns the committed offset of group for tp.
func (td *Topics) Committed(group string, tp kafka.TopicPartition) (int64, bool) {
	td.Lock()
	defer td.Unlock()

	off, ok := td.committed[group][tp]
	return off, ok
}

func partitionFor(key []byte, partitions int32) int32 {
	hasher := fnv.New32a()
	_, _ = hasher.Write(key)
	return int32(hasher.Sum32() % uint32(partitions))
}
