package table

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
)

type SyncerConfig struct {
	PollTimeout      time.Duration
	ProgressInterval time.Duration
	Logger           log.Logger
}

func NewSyncerConfig() *SyncerConfig {
	return &SyncerConfig{
		PollTimeout:      500 * time.Millisecond,
		ProgressInterval: 1 * time.Second,
		Logger:           log.NewNoopLogger(),
	}
}

// Syncer keeps a Table in line with its changelog topic. The source must be
// positioned at the table's stored offsets (see Table.Offset) or at the earliest offset.
type Syncer struct {
	table  *Table
	source kafka.RecordSource
	config *SyncerConfig
	logger log.Logger
}

func NewSyncer(table *Table, source kafka.RecordSource, config *SyncerConfig) *Syncer {
	return &Syncer{
		table:  table,
		source: source,
		config: config,
		logger: config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`Syncer(%s)`, source.Topic()))),
	}
}

// Run applies changelog records until ctx is cancelled. ready is called (and the
// table marked ready) once every record below the watermarks observed at start
// has been applied. Failing to read the watermarks is a startup error.
func (s *Syncer) Run(ctx context.Context, ready func()) error {
	wms, err := s.source.Watermarks(ctx)
	if err != nil {
		return errors.Wrapf(err, `cannot fetch watermarks of %s`, s.source.Topic())
	}

	return s.runWith(ctx, wms, ready)
}

func (s *Syncer) runWith(ctx context.Context, wms map[kafka.TopicPartition]kafka.Watermarks, ready func()) error {
	pending := map[kafka.TopicPartition]int64{}
	var total int64
	for tp, wm := range wms {
		start, err := s.startOffset(tp, wm)
		if err != nil {
			return err
		}

		s.logger.Info(fmt.Sprintf(`Offset %d found for %s (high %d)`, start, tp, wm.High))
		if wm.Empty() || start >= wm.High {
			continue
		}

		pending[tp] = wm.High
		total += wm.High - start
	}

	signalReady := func() {
		s.table.markReady()
		if ready != nil {
			ready()
		}
	}

	if len(pending) == 0 {
		s.logger.Info(`Changelog is empty or up to date, table ready`)
		signalReady()
	}

	var synced int64
	syncStarted := time.Now()
	progressDone := make(chan struct{})
	defer close(progressDone)
	if len(pending) > 0 {
		s.logger.Info(`Syncing...`)
		go s.logProgress(progressDone, &synced, total)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(`Sync loop stopping due to context cancel`)
			return nil
		default:
		}

		records, err := s.source.Poll(ctx, s.config.PollTimeout)
		if err != nil {
			if kafka.IsUnavailable(err) {
				s.logger.Warn(fmt.Sprintf(`Changelog unavailable, retrying: %s`, err))
				s.backoff(ctx)
				continue
			}
			return errors.Wrapf(err, `changelog poll failed on %s`, s.source.Topic())
		}

		if len(records) > 0 {
			if _, err := s.table.applyBatch(records); err != nil {
				return err
			}
		}

		if len(pending) == 0 {
			continue
		}

		for _, rec := range records {
			if _, ok := pending[kafka.TopicPartition{Topic: rec.Topic(), Partition: rec.Partition()}]; ok {
				atomic.AddInt64(&synced, 1)
			}
		}

		// a partition ends once the read position passed the captured high
		// watermark, whether or not the last offset was a readable record
		for tp, high := range pending {
			if pos, ok := s.source.Position(tp); ok && pos >= high {
				delete(pending, tp)
			}
		}

		if len(pending) == 0 {
			s.logger.Info(fmt.Sprintf(`Partition read ended. Restored %d records in %s`,
				atomic.LoadInt64(&synced), time.Since(syncStarted).String()))
			signalReady()
		}
	}
}

func (s *Syncer) startOffset(tp kafka.TopicPartition, wm kafka.Watermarks) (int64, error) {
	stored, err := s.table.Offset(tp)
	if err != nil {
		return 0, err
	}

	if stored == kafka.Unknown || int64(stored) < wm.Low {
		return wm.Low, nil
	}

	return int64(stored), nil
}

func (s *Syncer) logProgress(done <-chan struct{}, synced *int64, total int64) {
	ticker := time.NewTicker(s.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if s.table.Ready() {
				return
			}

			count := atomic.LoadInt64(synced)
			s.logger.Info(fmt.Sprintf(`Sync progress - [%d]%% done (%d/%d)`, count*100/total, count, total))
		}
	}
}

func (s *Syncer) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.config.PollTimeout):
	}
}
