/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package mocks

import (
	"sort"

	"github.com/gmbyapa/kenrich/kafka"
)

type MockKafkaAdmin struct {
	Topics *Topics
}

func NewMockAdmin(topics *Topics) *MockKafkaAdmin {
	return &MockKafkaAdmin{Topics: topics}
}

func NewMockAdminWithTopics(tps []*kafka.Topic) (*MockKafkaAdmin, error) {
	admin := NewMockAdmin(NewMockTopics())
	if err := admin.CreateTopics(tps); err != nil {
		return nil, err
	}

	return admin, nil
}

func (m *MockKafkaAdmin) FetchInfo(topics []string) (map[string]*kafka.Topic, error) {
	if m.Topics.Unavailable() {
		return nil, kafka.ErrUnavailable
	}

	tps := make(map[string]*kafka.Topic, len(topics))
	for _, topic := range topics {
		info, err := m.Topics.Topic(topic)
		if err != nil {
			tps[topic] = &kafka.Topic{Name: topic, Error: err}
			continue
		}
		tps[topic] = info.Meta
	}

	return tps, nil
}

func (m *MockKafkaAdmin) CreateTopics(topics []*kafka.Topic) error {
	for _, topic := range topics {
		if err := m.Topics.AddTopic(&MockTopic{Name: topic.Name, Meta: topic}); err != nil {
			return err
		}
	}

	return nil
}

func (m *MockKafkaAdmin) ListTopics() ([]string, error) {
	var names []string
	for name := range m.Topics.Topics() {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (m *MockKafkaAdmin) Close() {}
