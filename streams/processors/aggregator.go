package processors

import (
	"context"
	"time"

	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/window"
)

// AmountFunc extracts the value added to a window total. Records without an amount contribute 0.
type AmountFunc func(ctx context.Context, key, value interface{}) (float64, error)

// WindowAggregator counts records and sums their amounts per key in tumbling windows.
type WindowAggregator struct {
	Store  *window.Store
	Size   time.Duration
	Amount AmountFunc
	// Retention evicts windows ending before stream time minus Retention. Zero keeps every window.
	Retention time.Duration
}

func (a *WindowAggregator) Type() Type {
	return Type{
		Name: `window_aggregator`,
		Attrs: map[string]string{
			`size`:      a.Size.String(),
			`retention`: a.Retention.String(),
		},
	}
}

// Aggregate folds the record into its window and returns the cumulative snapshot.
// Records are never rejected for being late.
func (a *WindowAggregator) Aggregate(ctx context.Context, key string, value interface{}, timestamp int64) (window.Aggregate, error) {
	var amount float64
	if a.Amount != nil {
		amt, err := a.Amount(ctx, key, value)
		if err != nil {
			return window.Aggregate{}, errors.Wrap(err, `amount extract failed`)
		}
		amount = amt
	}

	agg := a.Store.Add(window.For(key, timestamp, a.Size), amount, timestamp)

	if a.Retention > 0 {
		a.Store.Evict(a.Store.StreamTime() - a.Retention.Milliseconds())
	}

	return agg, nil
}
