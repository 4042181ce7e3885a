/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package sarama

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
)

type adminOptions struct {
	KafkaVersion  sarama.KafkaVersion
	Logger        log.Logger
	VerifyRetries int
}

func (opts *adminOptions) apply(options ...AdminOption) {
	opts.KafkaVersion = sarama.V2_4_0_0
	opts.Logger = log.NewNoopLogger()
	opts.VerifyRetries = 10
	for _, opt := range options {
		opt(opts)
	}
}

type AdminOption func(*adminOptions)

func WithKafkaVersion(version sarama.KafkaVersion) AdminOption {
	return func(options *adminOptions) {
		options.KafkaVersion = version
	}
}

func WithLogger(logger log.Logger) AdminOption {
	return func(options *adminOptions) {
		options.Logger = logger
	}
}

// WithVerifyRetries bounds how many times topic creation is checked before giving up.
func WithVerifyRetries(n int) AdminOption {
	return func(options *adminOptions) {
		options.VerifyRetries = n
	}
}

type kAdmin struct {
	admin           sarama.ClusterAdmin
	logger          log.Logger
	adminConfig     *sarama.Config
	bootstrapServer []string
	verifyRetries   int
	mu              sync.RWMutex
}

// NewAdmin returns a kafka.Admin backed by a sarama ClusterAdmin.
func NewAdmin(bootstrapServer []string, options ...AdminOption) (kafka.Admin, error) {
	opts := new(adminOptions)
	opts.apply(options...)
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = opts.KafkaVersion
	saramaConfig.Admin.Timeout = 20 * time.Second

	admin, err := sarama.NewClusterAdmin(bootstrapServer, saramaConfig)
	if err != nil {
		return nil, unavailable(errors.Wrap(err, `admin client failed`), err)
	}

	return &kAdmin{
		admin:           admin,
		logger:          opts.Logger.NewLog(log.Prefixed(`kafka-admin`)),
		adminConfig:     saramaConfig,
		bootstrapServer: bootstrapServer,
		verifyRetries:   opts.VerifyRetries,
	}, nil
}

func (a *kAdmin) reconnect() error {
	admin, err := sarama.NewClusterAdmin(a.bootstrapServer, a.adminConfig)
	if err != nil {
		return unavailable(errors.Wrap(err, `admin client failed`), err)
	}

	a.mu.Lock()
	old := a.admin
	a.admin = admin
	a.mu.Unlock()

	if err := old.Close(); err != nil {
		a.logger.Debug(fmt.Sprintf(`Stale admin close failed: %s`, err))
	}

	return nil
}

func (a *kAdmin) client() sarama.ClusterAdmin {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.admin
}

func (a *kAdmin) FetchInfo(topics []string) (map[string]*kafka.Topic, error) {
	if len(topics) < 1 {
		return nil, errors.New(`empty topic list`)
	}

	var reconCount int
	// Idle broker connections get closed by connections.max.idle.ms (Shopify/sarama#2215)
RETRY:
	topicMeta, err := a.client().DescribeTopics(topics)
	if err != nil {
		if _, ok := err.(*net.OpError); ok && reconCount < 3 {
			if recErr := a.reconnect(); recErr != nil {
				return nil, errors.Wrap(recErr, `cannot get metadata`)
			}
			reconCount++
			goto RETRY
		}

		return nil, unavailable(errors.Wrap(err, `cannot get metadata`), err)
	}

	topicInfo := make(map[string]*kafka.Topic)
	for _, tp := range topicMeta {
		var pts []kafka.PartitionConf
		var replica int
		for _, pt := range tp.Partitions {
			pts = append(pts, kafka.PartitionConf{
				Id:    pt.ID,
				Error: kafkaErr(pt.Err),
			})
			replica = len(pt.Replicas)
		}

		info := &kafka.Topic{
			Name:              tp.Name,
			Partitions:        pts,
			NumPartitions:     int32(len(pts)),
			ReplicationFactor: int16(replica),
			Error:             kafkaErr(tp.Err),
			ConfigEntries:     map[string]string{},
		}
		topicInfo[tp.Name] = info

		// unknown topics have no configs to describe
		if info.Error != nil {
			continue
		}

		confs, err := a.client().DescribeConfig(sarama.ConfigResource{
			Type:        sarama.TopicResource,
			Name:        tp.Name,
			ConfigNames: []string{`cleanup.policy`, `min.insync.replicas`, `retention.ms`},
		})
		if err != nil {
			return nil, errors.Wrapf(err, `DescribeConfig failed for topic %s`, tp.Name)
		}

		for _, co := range confs {
			info.ConfigEntries[co.Name] = co.Value
		}
	}

	return topicInfo, nil
}

func (a *kAdmin) ListTopics() ([]string, error) {
	topics, err := a.client().ListTopics()
	if err != nil {
		return nil, unavailable(errors.Wrap(err, `cannot get metadata`), err)
	}

	var tpList []string
	for tp := range topics {
		tpList = append(tpList, tp)
	}

	return tpList, nil
}

func (a *kAdmin) CreateTopics(topics []*kafka.Topic) error {
	var tpNames []string
	for _, info := range topics {
		tpNames = append(tpNames, info.Name)
		details := &sarama.TopicDetail{
			NumPartitions:     info.NumPartitions,
			ReplicationFactor: info.ReplicationFactor,
			ConfigEntries:     map[string]*string{},
		}

		for cName := range info.ConfigEntries {
			conf := info.ConfigEntries[cName]
			details.ConfigEntries[cName] = &conf
		}

		err := a.client().CreateTopic(info.Name, details, false)
		if err != nil {
			if e, ok := err.(*sarama.TopicError); ok && (e.Err == sarama.ErrTopicAlreadyExists || e.Err == sarama.ErrNoError) {
				a.logger.Warn(err)
				continue
			}
			return errors.Wrapf(err, `could not create topic [%s]`, info.Name)
		}

		a.logger.Info(fmt.Sprintf(`Topic [%s] created`, info.Name))
	}

	// Brokers can take a while to see a topic after the create request returns
	return a.verifyCreated(tpNames)
}

func (a *kAdmin) verifyCreated(topics []string) error {
	for i := 0; i < a.verifyRetries; i++ {
		tps, err := a.FetchInfo(topics)
		if err == nil && allPresent(tps, topics) {
			return nil
		}

		a.logger.Warn(fmt.Sprintf(`Topics %v still being created. Waiting...`, topics))
		time.Sleep(1 * time.Second)
	}

	return errors.Errorf(`topics %v not visible after %d attempts`, topics, a.verifyRetries)
}

func allPresent(info map[string]*kafka.Topic, topics []string) bool {
	for _, name := range topics {
		tp, ok := info[name]
		if !ok || tp.Error != nil {
			return false
		}
	}

	return true
}

func (a *kAdmin) Close() {
	if err := a.client().Close(); err != nil {
		a.logger.Warn(fmt.Sprintf(`Admin cannot close broker : %+v`, err))
	}
}

func kafkaErr(err sarama.KError) error {
	if err == sarama.ErrNoError {
		return nil
	}

	return err
}
