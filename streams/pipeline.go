// Package streams wires a record source, a keyed reference table, a stream/table
// join, a re-keyer, a tumbling window aggregator and an async sink into one pipeline.
package streams

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/async"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/processors"
	"github.com/gmbyapa/kenrich/streams/sink"
	"github.com/gmbyapa/kenrich/streams/table"
	"github.com/gmbyapa/kenrich/streams/window"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

var ErrAlreadyRunning = errors.Sentinel(`pipeline already running`)

type Pipeline struct {
	config  *Config
	logger  log.Logger
	table   *table.Table
	windows *window.Store

	filter     *processors.Filter
	joiner     *processors.StreamTableJoiner
	outputKey  *processors.KeySelector
	rekey      *processors.KeySelector
	aggregator *processors.WindowAggregator
	router     processors.Router

	sink   *sink.Sink
	topics struct {
		filtered, enriched, aggregates sink.Topic
	}

	// offsets of processed batches the source did not accept yet
	uncommitted map[kafka.TopicPartition]kafka.ConsumerOffset

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	metrics struct {
		consumed     metrics.Counter
		skipped      metrics.Counter
		filtered     metrics.Counter
		joinMisses   metrics.Counter
		enriched     metrics.Counter
		aggregated   metrics.Counter
		batchLatency metrics.Observer
	}
}

// shardRecord is a re-keyed record on its way to the aggregator shard owning its key.
type shardRecord struct {
	ctx       context.Context
	record    kafka.Record
	key       interface{}
	windowKey string
	value     interface{}
	timestamp int64
	done      func()
}

func New(config *Config) (*Pipeline, error) {
	config.setUp()
	if err := config.validate(); err != nil {
		return nil, errors.Wrap(err, `invalid pipeline config`)
	}

	tblConf := table.NewConfig()
	tblConf.Name = config.Topics.Table
	tblConf.KeyEncoder = config.Encoders.TableKey
	tblConf.ValEncoder = config.Encoders.TableValue
	tblConf.BackendBuilder = config.Table.Backend
	tblConf.Logger = config.Logger
	tblConf.MetricsReporter = config.MetricsReporter
	tbl, err := table.New(tblConf)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:      config,
		logger:      config.Logger.NewLog(log.Prefixed(`Pipeline`)),
		table:       tbl,
		windows:     window.NewStore(),
		uncommitted: make(map[kafka.TopicPartition]kafka.ConsumerOffset),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		router:      processors.Router{Shards: config.Processing.AggregatorShards},
	}

	if config.Filter != nil {
		p.filter = &processors.Filter{FilterFunc: config.Filter}
	}

	p.joiner = &processors.StreamTableJoiner{
		Table:       tbl,
		KeyMapper:   config.Join.KeyMapper,
		ValueMapper: config.Join.ValueMapper,
		JoinType:    config.Join.Type,
	}

	if config.Join.OutputKey != nil {
		p.outputKey = &processors.KeySelector{SelectKeyFunc: config.Join.OutputKey}
	}

	p.rekey = &processors.KeySelector{SelectKeyFunc: config.Aggregate.Rekey}
	p.aggregator = &processors.WindowAggregator{
		Store:     p.windows,
		Size:      config.Window.Size,
		Amount:    config.Aggregate.Amount,
		Retention: config.Window.Retention,
	}

	p.topics.filtered = sink.Topic{Name: config.Topics.Filtered, KeyEncoder: config.Encoders.EventKey, ValEncoder: config.Encoders.EventValue}
	p.topics.enriched = sink.Topic{Name: config.Topics.Enriched, KeyEncoder: config.Encoders.OutputKey, ValEncoder: config.Encoders.EnrichedValue}
	p.topics.aggregates = sink.Topic{Name: config.Topics.Aggregates, KeyEncoder: config.Encoders.OutputKey, ValEncoder: config.Encoders.AggregateValue}

	reporter := config.MetricsReporter.Reporter(metrics.ReporterConf{
		Subsystem:   `pipeline`,
		ConstLabels: map[string]string{`application_id`: config.ApplicationId},
	})
	p.metrics.consumed = reporter.Counter(metrics.MetricConf{Path: `consumed_records`})
	p.metrics.skipped = reporter.Counter(metrics.MetricConf{Path: `skipped_records`})
	p.metrics.filtered = reporter.Counter(metrics.MetricConf{Path: `filtered_records`})
	p.metrics.joinMisses = reporter.Counter(metrics.MetricConf{Path: `join_misses`, Labels: []string{`reason`}})
	p.metrics.enriched = reporter.Counter(metrics.MetricConf{Path: `enriched_records`})
	p.metrics.aggregated = reporter.Counter(metrics.MetricConf{Path: `aggregated_records`, Labels: []string{`shard`}})
	p.metrics.batchLatency = reporter.Observer(metrics.MetricConf{Path: `batch_latency_microseconds`})

	return p, nil
}

// Table returns the reference table joined against the event stream.
func (p *Pipeline) Table() *table.Table {
	return p.table
}

// Windows returns the aggregate state.
func (p *Pipeline) Windows() *window.Store {
	return p.windows
}

// Ready blocks until the reference table finished its bootstrap.
func (p *Pipeline) Ready(ctx context.Context) error {
	return p.table.WaitReady(ctx)
}

// Run blocks until ctx is cancelled, Stop is called or a component fails.
// Failing to verify the topics or to read the changelog watermarks at
// startup is returned as an error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()
	defer close(p.done)

	p.logger.Info(`Pipeline starting...`)
	defer p.logger.Info(`Pipeline stopped`)

	if err := p.setUpTopics(); err != nil {
		return err
	}

	tableSource, err := p.config.Source(func(conf *kafka.SourceConfig) {
		conf.Id = fmt.Sprintf(`%s-table`, p.config.ApplicationId)
		conf.BootstrapServers = p.config.BootstrapServers
		conf.Topic = p.config.Topics.Table
		conf.Offsets.Initial = kafka.Earliest
		conf.Offsets.Resolver = p.table.Offset
		conf.MaxPollRecords = p.config.Processing.MaxPollRecords
		conf.Logger = p.config.Logger
		conf.MetricsReporter = p.config.MetricsReporter
	})
	if err != nil {
		return errors.Wrapf(err, `table source build failed for %s`, p.config.Topics.Table)
	}
	defer p.closeWith(tableSource.Close, `table source`)

	source, err := p.config.Source(func(conf *kafka.SourceConfig) {
		conf.Id = fmt.Sprintf(`%s-events`, p.config.ApplicationId)
		conf.BootstrapServers = p.config.BootstrapServers
		conf.Topic = p.config.Topics.Events
		conf.GroupId = p.config.ApplicationId
		conf.Offsets.Initial = p.config.Processing.InitialOffset
		conf.MaxPollRecords = p.config.Processing.MaxPollRecords
		conf.Logger = p.config.Logger
		conf.MetricsReporter = p.config.MetricsReporter
	})
	if err != nil {
		return errors.Wrapf(err, `event source build failed for %s`, p.config.Topics.Events)
	}
	defer p.closeWith(source.Close, `event source`)

	producer, err := p.config.Producer(func(conf *kafka.ProducerConfig) {
		conf.Id = fmt.Sprintf(`%s-producer`, p.config.ApplicationId)
		conf.BootstrapServers = p.config.BootstrapServers
		conf.Logger = p.config.Logger
		conf.MetricsReporter = p.config.MetricsReporter
	})
	if err != nil {
		return errors.Wrap(err, `producer build failed`)
	}
	p.sink = sink.New(producer, p.config.Logger, p.config.MetricsReporter)
	defer p.closeWith(p.sink.Close, `sink`)
	defer p.closeWith(p.table.Close, `table`)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if p.config.Store.Http.Enabled {
		srv := p.startHttp(p.config.Store.Http.Host)
		defer p.closeWith(srv.Close, `http server`)
	}

	syncer := table.NewSyncer(p.table, tableSource, &table.SyncerConfig{
		PollTimeout:      p.config.Processing.PollTimeout,
		ProgressInterval: time.Second,
		Logger:           p.config.Logger,
	})

	shards := make([]chan shardRecord, p.config.Processing.AggregatorShards)
	for i := range shards {
		shards[i] = make(chan shardRecord, p.config.Processing.ShardBufferSize)
	}

	group := async.NewRunGroup(p.logger)
	group.Add(func(opts *async.Opts) error {
		return syncer.Run(opts.Context(), opts.Ready)
	})

	group.Add(func(opts *async.Opts) error {
		// shards stop once the loop no longer feeds them
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		opts.Ready()
		return p.consume(opts.Context(), source, shards)
	})

	for i, ch := range shards {
		id, records := i, ch
		group.Add(func(opts *async.Opts) error {
			opts.Ready()
			p.runShard(id, records)
			return nil
		})
	}

	runErr := group.Run(ctx)

	p.shutdown(source)

	return runErr
}

// Stop cancels a running pipeline and waits for Run to return.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	if running {
		<-p.done
	}
}

func (p *Pipeline) shutdown(source kafka.RecordSource) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Processing.FlushTimeout)
	defer cancel()

	if err := p.sink.Flush(ctx); err != nil {
		p.logger.Warn(fmt.Sprintf(`Sink flush incomplete: %s`, err))
	}

	if len(p.uncommitted) > 0 {
		p.commit(ctx, source, nil)
	}
}

func (p *Pipeline) closeWith(fn func() error, name string) {
	if err := fn(); err != nil && err != http.ErrServerClosed {
		p.logger.Warn(fmt.Sprintf(`%s close failed due to %s`, name, err))
	}
}

func (p *Pipeline) consume(ctx context.Context, source kafka.RecordSource, shards []chan shardRecord) error {
	if p.config.Processing.WaitForTable {
		p.logger.Info(fmt.Sprintf(`Waiting for table %s...`, p.table.Name()))
		if err := p.table.WaitReady(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	p.logger.Info(fmt.Sprintf(`Consuming %s`, source.Topic()))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info(`Stream loop stopping due to context cancel`)
			return nil
		default:
		}

		records, err := source.Poll(ctx, p.config.Processing.PollTimeout)
		if err != nil {
			if kafka.IsUnavailable(err) {
				p.logger.Warn(fmt.Sprintf(`Event source unavailable, retrying: %s`, err))
				p.backoff(ctx)
				continue
			}
			return errors.Wrapf(err, `poll failed on %s`, source.Topic())
		}

		if len(records) == 0 {
			continue
		}

		p.processBatch(ctx, records, shards)
		p.commit(ctx, source, kafka.NextOffsets(records))
	}
}

// processBatch returns once every record of the batch went through all stages,
// including its aggregator shard.
func (p *Pipeline) processBatch(ctx context.Context, records []kafka.Record, shards []chan shardRecord) {
	begin := time.Now()
	wg := new(sync.WaitGroup)

	for _, record := range records {
		p.metrics.consumed.Count(1, nil)
		if err := p.process(ctx, record, wg, shards); err != nil {
			p.metrics.skipped.Count(1, nil)
			p.config.Processing.FailedMessageHandler(err, record)
		}
	}

	wg.Wait()
	p.metrics.batchLatency.Observe(float64(time.Since(begin).Microseconds()), nil)
}

func (p *Pipeline) process(ctx context.Context, record kafka.Record, wg *sync.WaitGroup, shards []chan shardRecord) error {
	key, value, err := p.decode(record)
	if err != nil {
		return err
	}

	if p.filter != nil {
		ok, err := p.filter.Pass(ctx, key, value)
		if err != nil {
			return err
		}

		if !ok {
			p.metrics.filtered.Count(1, nil)
			return nil
		}
	}

	if p.config.Topics.Filtered != `` {
		if err := p.sink.Publish(ctx, p.topics.filtered, key, value, record.Timestamp(), nil); err != nil {
			return err
		}
	}

	joined, err := p.joiner.Join(ctx, key, value)
	switch {
	case errors.Is(err, processors.ErrTableNotReady):
		p.metrics.joinMisses.Count(1, map[string]string{`reason`: `table_not_ready`})
		p.logger.Debug(fmt.Sprintf(`Record %s dropped: %s`, record, err))
	case err != nil:
		return err
	case joined == nil:
		p.metrics.joinMisses.Count(1, map[string]string{`reason`: `missing_key`})
		p.logger.Debug(fmt.Sprintf(`Record %s dropped: no table entry`, record))
	default:
		if err := p.publishEnriched(ctx, record, key, joined); err != nil {
			return err
		}
	}

	aggValue := joined
	if p.config.Aggregate.Input == AggregateFiltered {
		aggValue = value
	}

	if aggValue == nil {
		return nil
	}

	aggKey, aggValue, err := p.rekey.Rekey(ctx, key, aggValue)
	if err != nil {
		return err
	}

	keyByt, err := p.config.Encoders.OutputKey.Encode(aggKey)
	if err != nil {
		return errors.Wrapf(err, `aggregate key encode failed for %s`, record)
	}

	wg.Add(1)
	shards[p.router.Route(keyByt)] <- shardRecord{
		ctx:       ctx,
		record:    record,
		key:       aggKey,
		windowKey: string(keyByt),
		value:     aggValue,
		timestamp: p.config.Timestamp(record, value),
		done:      wg.Done,
	}

	return nil
}

func (p *Pipeline) decode(record kafka.Record) (key, value interface{}, err error) {
	if len(record.Key()) > 0 {
		key, err = p.config.Encoders.EventKey.Decode(record.Key())
		if err != nil {
			return nil, nil, errors.Wrapf(err, `key decode failed for %s`, record)
		}
	}

	if len(record.Value()) < 1 {
		return nil, nil, errors.Errorf(`record %s has no value`, record)
	}

	value, err = p.config.Encoders.EventValue.Decode(record.Value())
	if err != nil {
		return nil, nil, errors.Wrapf(err, `value decode failed for %s`, record)
	}

	return key, value, nil
}

func (p *Pipeline) publishEnriched(ctx context.Context, record kafka.Record, key, joined interface{}) error {
	if p.outputKey != nil {
		k, _, err := p.outputKey.Rekey(ctx, key, joined)
		if err != nil {
			return err
		}
		key = k
	}

	if err := p.sink.Publish(ctx, p.topics.enriched, key, joined, record.Timestamp(), nil); err != nil {
		return err
	}

	p.metrics.enriched.Count(1, nil)
	return nil
}

func (p *Pipeline) runShard(id int, records <-chan shardRecord) {
	lbs := map[string]string{`shard`: fmt.Sprint(id)}
	for rec := range records {
		if err := p.aggregate(rec); err != nil {
			p.metrics.skipped.Count(1, nil)
			p.config.Processing.FailedMessageHandler(err, rec.record)
		} else {
			p.metrics.aggregated.Count(1, lbs)
		}
		rec.done()
	}
}

func (p *Pipeline) aggregate(rec shardRecord) error {
	snapshot, err := p.aggregator.Aggregate(rec.ctx, rec.windowKey, rec.value, rec.timestamp)
	if err != nil {
		return err
	}

	out, err := p.config.Aggregate.Output(rec.ctx, rec.key, snapshot)
	if err != nil {
		return errors.Wrapf(err, `aggregate output mapping failed for %s`, snapshot.Key)
	}

	return p.sink.Publish(rec.ctx, p.topics.aggregates, rec.key, out, rec.record.Timestamp(), nil)
}

// commit stores offsets (merged with earlier uncommitted ones). Offsets the
// source rejects are kept and retried with the next batch.
func (p *Pipeline) commit(ctx context.Context, source kafka.RecordSource, offsets []kafka.ConsumerOffset) {
	for _, off := range offsets {
		p.uncommitted[kafka.TopicPartition{Topic: off.Topic, Partition: off.Partition}] = off
	}

	pending := make([]kafka.ConsumerOffset, 0, len(p.uncommitted))
	for _, off := range p.uncommitted {
		pending = append(pending, off)
	}

	if err := source.Commit(ctx, pending); err != nil {
		if kafka.IsUnavailable(err) {
			p.logger.Warn(fmt.Sprintf(`Commit deferred: %s`, err))
			return
		}
		p.logger.Error(fmt.Sprintf(`Commit failed for %v: %s`, pending, err))
		return
	}

	p.logger.Trace(fmt.Sprintf(`Committed %v`, pending))
	p.uncommitted = make(map[kafka.TopicPartition]kafka.ConsumerOffset)
}

func (p *Pipeline) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.config.Processing.PollTimeout):
	}
}
