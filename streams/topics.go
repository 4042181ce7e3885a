package streams

import (
	"fmt"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
)

func (p *Pipeline) topicNames() []string {
	names := []string{p.config.Topics.Events, p.config.Topics.Table}
	if p.config.Topics.Filtered != `` {
		names = append(names, p.config.Topics.Filtered)
	}

	return append(names, p.config.Topics.Enriched, p.config.Topics.Aggregates)
}

// setUpTopics verifies every topic exists, creating the missing ones when
// Topics.AutoCreate is set. The changelog topic is created compacted.
func (p *Pipeline) setUpTopics() error {
	if p.config.Admin == nil {
		return nil
	}

	names := p.topicNames()
	info, err := p.config.Admin.FetchInfo(names)
	if err != nil {
		return errors.Wrap(err, `cannot fetch topic info`)
	}

	var missing []*kafka.Topic
	for _, name := range names {
		topic, ok := info[name]
		if ok && topic.Error == nil {
			if name == p.config.Topics.Table && !topic.Compacted() {
				p.logger.Warn(fmt.Sprintf(`Changelog topic %s is not compacted`, name))
			}
			continue
		}

		if !p.config.Topics.AutoCreate {
			return errors.Errorf(`topic [%s] does not exist`, name)
		}

		create := &kafka.Topic{
			Name:              name,
			NumPartitions:     p.config.Topics.Partitions,
			ReplicationFactor: p.config.Topics.ReplicaCount,
			ConfigEntries:     map[string]string{},
		}

		if name == p.config.Topics.Table {
			create.ConfigEntries[`cleanup.policy`] = `compact`
		}

		missing = append(missing, create)
	}

	if len(missing) < 1 {
		return nil
	}

	if err := p.config.Admin.CreateTopics(missing); err != nil {
		return errors.Wrap(err, `topic create failed`)
	}

	for _, topic := range missing {
		p.logger.Info(fmt.Sprintf(`Topic %s created (partitions: %d, replicas: %d)`,
			topic.Name, topic.NumPartitions, topic.ReplicationFactor))
	}

	return nil
}
