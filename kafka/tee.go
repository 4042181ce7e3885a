package kafka

import (
	"context"
	"fmt"

	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
)

// tee sends every record to a primary producer and copies it to mirrors.
// Delivery reports come from the primary only.
type tee struct {
	primary Producer
	mirrors []Producer
	logger  log.Logger
}

// Tee returns a Producer writing to primary and mirroring to every mirror.
// Mirror failures are logged and never reach the caller.
func Tee(logger log.Logger, primary Producer, mirrors ...Producer) Producer {
	return &tee{primary: primary, mirrors: mirrors, logger: logger.NewLog(log.Prefixed(`tee`))}
}

// TeeBuilder builds a tee from a primary builder and mirror builders sharing one config.
func TeeBuilder(logger log.Logger, primary ProducerBuilder, mirrors ...ProducerBuilder) ProducerBuilder {
	return func(configure func(*ProducerConfig)) (Producer, error) {
		p, err := primary(configure)
		if err != nil {
			return nil, err
		}

		var ms []Producer
		for _, build := range mirrors {
			m, err := build(configure)
			if err != nil {
				closeAll(logger, append(ms, p)...)
				return nil, errors.Wrap(err, `mirror producer build failed`)
			}
			ms = append(ms, m)
		}

		return Tee(logger, p, ms...), nil
	}
}

func (t *tee) ProduceAsync(ctx context.Context, record Record, handler DeliveryHandler) error {
	if err := t.primary.ProduceAsync(ctx, record, handler); err != nil {
		return err
	}

	for _, m := range t.mirrors {
		if err := m.ProduceAsync(ctx, record, t.mirrorReport); err != nil {
			t.logger.Warn(fmt.Sprintf(`Mirror enqueue failed for %s: %s`, record, err))
		}
	}

	return nil
}

func (t *tee) mirrorReport(report DeliveryReport) {
	if report.Error() != nil {
		t.logger.Warn(fmt.Sprintf(`Mirror delivery failed for %s[%d]: %s`, report.Topic(), report.Partition(), report.Error()))
	}
}

func (t *tee) Flush(ctx context.Context) error {
	err := t.primary.Flush(ctx)
	for _, m := range t.mirrors {
		if mErr := m.Flush(ctx); mErr != nil {
			t.logger.Warn(fmt.Sprintf(`Mirror flush failed: %s`, mErr))
		}
	}

	return err
}

func (t *tee) Close() error {
	closeAll(t.logger, t.mirrors...)
	return t.primary.Close()
}

func closeAll(logger log.Logger, producers ...Producer) {
	for _, p := range producers {
		if err := p.Close(); err != nil {
			logger.Warn(fmt.Sprintf(`Producer close failed: %s`, err))
		}
	}
}
