package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gmbyapa/kenrich/backend"
	"github.com/gmbyapa/kenrich/backend/badger"
	"github.com/gmbyapa/kenrich/backend/memory"
	"github.com/gmbyapa/kenrich/backend/pebble"
	"github.com/gmbyapa/kenrich/domain"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/kafka/adaptors/librd"
	"github.com/gmbyapa/kenrich/kafka/adaptors/redis"
	"github.com/gmbyapa/kenrich/kafka/adaptors/sarama"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

func NewRunCommand() *cobra.Command {
	var configFile string

	command := &cobra.Command{
		Use:   "run",
		Short: "Run an enrichment pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(newViper(), configFile, cmd.Flags(), runFlags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, conf)
		},
	}

	addCommonFlags(command, &configFile)
	command.Flags().String(`table-backend`, `memory`, `Table backend (memory, pebble, badger)`)
	command.Flags().String(`table-dir`, `storage`, `Directory of persistent table backends`)
	command.Flags().Int(`shards`, 4, `Number of aggregator shards`)
	command.Flags().Duration(`window-size`, time.Hour, `Tumbling window size`)
	command.Flags().Duration(`window-retention`, 0, `Evict windows older than stream time minus retention (0 keeps all)`)
	command.Flags().Bool(`redis`, false, `Project enriched records into redis`)

	return command
}

var runFlags = mergeFlags(commonFlags, map[string]string{
	`table.backend`:     `table-backend`,
	`table.dir`:         `table-dir`,
	`processing.shards`: `shards`,
	`window.size`:       `window-size`,
	`window.retention`:  `window-retention`,
	`redis.enabled`:     `redis`,
})

func mergeFlags(maps ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}

	return merged
}

func run(ctx context.Context, conf *AppConfig) error {
	logger := conf.logger()

	topology, err := domain.Lookup(conf.Topology)
	if err != nil {
		return err
	}

	reporter := metrics.PrometheusReporter(metrics.ReporterConf{
		System:      `kenrich`,
		ConstLabels: map[string]string{`topology`: conf.Topology},
	})

	admin, err := sarama.NewAdmin(conf.BootstrapServers, sarama.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, `cannot reach the cluster`)
	}
	defer admin.Close()

	tableBackend, err := backendBuilder(conf, reporter)
	if err != nil {
		return err
	}

	pConf, err := pipelineConfig(conf, topology, logger, reporter)
	if err != nil {
		return err
	}
	pConf.Admin = admin
	pConf.Table.Backend = tableBackend

	pipeline, err := streams.New(pConf)
	if err != nil {
		return err
	}

	metricsSrv := serveMetrics(conf.Metrics.Host, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(fmt.Sprintf(`Metrics server shutdown failed: %s`, err))
		}
	}()

	logger.Info(fmt.Sprintf("Running topology %s\n%s", conf.Topology, pipeline.Describe()))

	return pipeline.Run(ctx)
}

func pipelineConfig(conf *AppConfig, topology domain.Topology, logger log.Logger, reporter metrics.Reporter) (*streams.Config, error) {
	pConf := streams.NewConfig()
	topology(pConf)

	pConf.ApplicationId = conf.ApplicationId
	pConf.BootstrapServers = conf.BootstrapServers
	pConf.Logger = logger
	pConf.MetricsReporter = reporter
	pConf.Topics.AutoCreate = conf.Topics.AutoCreate
	pConf.Topics.Partitions = conf.Topics.Partitions
	pConf.Topics.ReplicaCount = conf.Topics.Replicas
	pConf.Window.Size = conf.Window.Size
	pConf.Window.Retention = conf.Window.Retention
	pConf.Processing.AggregatorShards = conf.Processing.Shards
	pConf.Processing.PollTimeout = conf.Processing.PollTimeout
	pConf.Processing.MaxPollRecords = conf.Processing.MaxPollRecords
	pConf.Processing.FlushTimeout = conf.Processing.FlushTimeout
	pConf.Store.Http.Enabled = conf.Http.Enabled
	pConf.Store.Http.Host = conf.Http.Host

	pConf.Source = sarama.NewSourceBuilder(func(config *sarama.SourceConfig) {
		config.ChannelBufferSize = 2 * conf.Processing.MaxPollRecords
	})

	pConf.Producer = librd.NewProducerBuilder(func(config *librd.ProducerConfig) {
		config.Idempotent = true
	})

	if conf.Redis.Enabled {
		if len(conf.Redis.Addrs) < 1 {
			return nil, errors.New(`[redis.addrs] cannot be empty when redis is enabled`)
		}

		configure, err := projectionConfig(conf, pConf)
		if err != nil {
			return nil, err
		}
		pConf.Producer = kafka.TeeBuilder(logger, pConf.Producer, redis.NewProducerBuilder(configure))
	}

	return pConf, nil
}

// projectionConfig mirrors the enriched topic by default, keyed by the bare
// record key so enriched records can be read back by id.
func projectionConfig(conf *AppConfig, pConf *streams.Config) (func(config *redis.Config), error) {
	var format redis.KeyFormat
	switch conf.Redis.KeyFormat {
	case `bare`, ``:
		format = redis.BareKey
	case `topic`:
		format = redis.TopicKey
	default:
		return nil, errors.Errorf(`unknown redis key format [%s], available: bare, topic`, conf.Redis.KeyFormat)
	}

	topics := conf.Redis.Topics
	if len(topics) == 0 {
		topics = []string{pConf.Topics.Enriched}
	}

	return func(config *redis.Config) {
		config.Redis = &goredis.UniversalOptions{Addrs: conf.Redis.Addrs}
		config.Topics = topics
		config.TTL = conf.Redis.TTL
		config.KeyFormat = format
	}, nil
}

func backendBuilder(conf *AppConfig, reporter metrics.Reporter) (backend.Builder, error) {
	switch conf.Table.Backend {
	case `memory`:
		c := memory.NewConfig()
		c.MetricsReporter = reporter
		return memory.Builder(c), nil
	case `pebble`:
		c := pebble.NewConfig()
		c.Dir = filepath.Join(conf.Table.Dir, conf.ApplicationId)
		c.MetricsReporter = reporter
		return pebble.Builder(c), nil
	case `badger`:
		c := badger.NewConfig()
		c.StorageDir = filepath.Join(conf.Table.Dir, conf.ApplicationId)
		c.MetricsReporter = reporter
		return badger.Builder(c), nil
	}

	return nil, errors.Errorf(`unknown table backend [%s], available: memory, pebble, badger`, conf.Table.Backend)
}

func serveMetrics(host string, logger log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(`/metrics`, promhttp.Handler())
	srv := &http.Server{Addr: host, Handler: mux}

	go func() {
		logger.Info(fmt.Sprintf(`Metrics served on %s/metrics`, host))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf(`Metrics server failed: %s`, err))
		}
	}()

	return srv
}
