package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gmbyapa/kenrich/domain"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/kafka/adaptors/librd"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/encoding"
	"github.com/spf13/cobra"
	"github.com/tryfix/log"
)

type generateOptions struct {
	Count    int
	Interval time.Duration
	Seed     int64
	NoTable  bool
}

func NewGenerateCommand() *cobra.Command {
	var (
		configFile string
		opts       generateOptions
	)

	command := &cobra.Command{
		Use:   "generate",
		Short: "Seed the reference table and produce random events of a topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(newViper(), configFile, cmd.Flags(), commonFlags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := conf.logger()
			producer, err := librd.NewProducerBuilder(func(*librd.ProducerConfig) {})(func(config *kafka.ProducerConfig) {
				config.Id = fmt.Sprintf(`%s-generator`, conf.ApplicationId)
				config.BootstrapServers = conf.BootstrapServers
				config.Logger = logger
			})
			if err != nil {
				return err
			}
			defer producer.Close()

			sent, failed, err := generate(ctx, producer, conf.Topology, opts, logger)
			logger.Info(fmt.Sprintf(`Generated %d records, %d failed`, sent, failed))

			return err
		},
	}

	addCommonFlags(command, &configFile)
	command.Flags().IntVarP(&opts.Count, `count`, `n`, 100, `Number of events (or quotes) to produce`)
	command.Flags().DurationVar(&opts.Interval, `interval`, 0, `Pause between two events`)
	command.Flags().Int64Var(&opts.Seed, `seed`, time.Now().UnixNano(), `Random seed`)
	command.Flags().BoolVar(&opts.NoTable, `no-table`, false, `Skip seeding the reference table`)

	return command
}

type keyed struct {
	key   string
	value interface{}
}

// generate produces the reference seed of topology followed by opts.Count
// random events and waits for their delivery.
func generate(ctx context.Context, producer kafka.Producer, topology string, opts generateOptions, logger log.Logger) (sent int, failed int64, err error) {
	gen := domain.NewGenerator(opts.Seed)
	var tableTopic, eventTopic string
	var seed []keyed
	var next func() keyed

	switch topology {
	case `user-events`:
		tableTopic, eventTopic = domain.TopicUserProfiles, domain.TopicUserEvents
		for _, p := range domain.ProfileSeed() {
			seed = append(seed, keyed{p.UserID, p})
		}
		next = func() keyed {
			e := gen.Event()
			return keyed{e.UserID, e}
		}
	case `quotes`:
		tableTopic, eventTopic = domain.TopicProductPricing, domain.TopicQuotes
		for _, p := range domain.PricingSeed() {
			seed = append(seed, keyed{p.ProductCode, p})
		}
		next = func() keyed {
			q := gen.Quote()
			return keyed{q.QuoteID, q}
		}
	default:
		return 0, 0, errors.Errorf(`unknown topology [%s], available: %v`, topology, domain.Names())
	}

	enc := encoding.JsonEncoder{}
	var failures int64
	handler := func(report kafka.DeliveryReport) {
		if report.Error() != nil {
			atomic.AddInt64(&failures, 1)
			logger.Warn(fmt.Sprintf(`Delivery to %s failed: %s`, report.Topic(), report.Error()))
		}
	}

	produce := func(topic string, rec keyed) error {
		byt, err := enc.Encode(rec.value)
		if err != nil {
			return errors.Wrapf(err, `encode failed for %s`, rec.key)
		}

		record := kafka.NewRecord(ctx, []byte(rec.key), byt, topic, kafka.PartitionAny, 0, time.Now(), nil)
		if err := producer.ProduceAsync(ctx, record, handler); err != nil {
			return err
		}
		sent++

		return nil
	}

	if !opts.NoTable {
		for _, rec := range seed {
			if err := produce(tableTopic, rec); err != nil {
				return sent, atomic.LoadInt64(&failures), err
			}
		}
		logger.Info(fmt.Sprintf(`Seeded %d entries into %s`, len(seed), tableTopic))
	}

	for i := 0; i < opts.Count; i++ {
		if ctx.Err() != nil {
			break
		}

		if err := produce(eventTopic, next()); err != nil {
			return sent, atomic.LoadInt64(&failures), err
		}

		if opts.Interval > 0 {
			select {
			case <-time.After(opts.Interval):
			case <-ctx.Done():
			}
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = producer.Flush(flushCtx)

	return sent, atomic.LoadInt64(&failures), err
}
