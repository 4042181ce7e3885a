package kafka

type PartitionConf struct {
	Id    int32
	Error error
}

type Topic struct {
	Name              string
	Partitions        []PartitionConf
	Error             error
	NumPartitions     int32
	ReplicationFactor int16
	ConfigEntries     map[string]string
}

// Compacted reports whether the topic only retains the latest value per key.
func (t *Topic) Compacted() bool {
	return t.ConfigEntries[`cleanup.policy`] == `compact`
}

// Admin is used at startup to verify and create the topics a pipeline uses.
type Admin interface {
	FetchInfo(topics []string) (map[string]*Topic, error)
	CreateTopics(topics []*Topic) error
	ListTopics() ([]string, error)
	Close()
}
