// Package domain holds the payloads and the two pipelines shipped with kenrich:
// user event enrichment and insurance quote pricing.
package domain

import (
	"context"

	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams"
	"github.com/gmbyapa/kenrich/streams/encoding"
	"github.com/gmbyapa/kenrich/streams/processors"
	"github.com/gmbyapa/kenrich/streams/window"
)

const (
	TopicUserEvents          = `user-events`
	TopicUserProfiles        = `user-profiles`
	TopicFilteredEvents      = `filtered-events`
	TopicEnrichedEvents      = `enriched-events`
	TopicUserEventAggregates = `user-event-aggregates`
)

const (
	EventPurchase  = `PURCHASE`
	EventLogin     = `LOGIN`
	EventLogout    = `LOGOUT`
	EventView      = `VIEW`
	EventAddToCart = `ADD_TO_CART`
)

var ErrUnexpectedPayload = errors.Sentinel(`domain: unexpected payload type`)

// Event is a user activity. A missing amount is 0.
type Event struct {
	ID          string  `json:"eventId,omitempty"`
	UserID      string  `json:"userId"`
	Type        string  `json:"eventType"`
	ProductCode string  `json:"productCode,omitempty"`
	Amount      float64 `json:"amount"`
	Country     string  `json:"country"`
	Timestamp   int64   `json:"timestamp"`
}

// UserProfile is the reference entity of the user-profiles changelog, keyed by user id.
type UserProfile struct {
	UserID  string  `json:"userId"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Tier    string  `json:"tier"`
	TaxRate float64 `json:"taxRate,omitempty"`
}

// EnrichedEvent is an Event joined with the profile in effect at join time.
type EnrichedEvent struct {
	Event
	UserName    string  `json:"userName"`
	UserTier    string  `json:"userTier"`
	UserCountry string  `json:"userCountry"`
	TaxRate     float64 `json:"taxRate"`
	FinalAmount float64 `json:"finalAmount"`
}

// EventAggregate is the hourly purchase summary of a user.
type EventAggregate struct {
	UserID      string  `json:"userId"`
	WindowStart int64   `json:"windowStart"`
	WindowEnd   int64   `json:"windowEnd"`
	Count       int64   `json:"count"`
	TotalAmount float64 `json:"totalAmount"`
}

// EnrichEvent joins e with p. FinalAmount is amount x (1 + taxRate).
func EnrichEvent(e Event, p UserProfile) EnrichedEvent {
	return EnrichedEvent{
		Event:       e,
		UserName:    p.Name,
		UserTier:    p.Tier,
		UserCountry: p.Country,
		TaxRate:     p.TaxRate,
		FinalAmount: e.Amount * (1 + p.TaxRate),
	}
}

// UserEvents configures conf to enrich purchases with user profiles and
// aggregate them per user in one hour windows.
func UserEvents(conf *streams.Config) {
	conf.Topics.Events = TopicUserEvents
	conf.Topics.Table = TopicUserProfiles
	conf.Topics.Filtered = TopicFilteredEvents
	conf.Topics.Enriched = TopicEnrichedEvents
	conf.Topics.Aggregates = TopicUserEventAggregates

	conf.Encoders.EventValue = encoding.NewJsonEncoder(func() interface{} { return new(Event) })
	conf.Encoders.TableValue = encoding.NewJsonEncoder(func() interface{} { return new(UserProfile) })
	conf.Encoders.EnrichedValue = encoding.NewJsonEncoder(func() interface{} { return new(EnrichedEvent) })
	conf.Encoders.AggregateValue = encoding.NewJsonEncoder(func() interface{} { return new(EventAggregate) })

	conf.Filter = func(ctx context.Context, key, value interface{}) (bool, error) {
		e, err := asEvent(value)
		if err != nil {
			return false, err
		}

		return e.Type == EventPurchase, nil
	}

	conf.Join.Type = processors.InnerJoin
	conf.Join.KeyMapper = func(ctx context.Context, key, value interface{}) (interface{}, error) {
		e, err := asEvent(value)
		if err != nil {
			return nil, err
		}

		return e.UserID, nil
	}
	conf.Join.ValueMapper = func(ctx context.Context, left, right interface{}) (interface{}, error) {
		e, err := asEvent(left)
		if err != nil {
			return nil, err
		}

		p, ok := right.(UserProfile)
		if !ok {
			return nil, errors.Wrapf(ErrUnexpectedPayload, `%T is not a UserProfile`, right)
		}

		return EnrichEvent(e, p), nil
	}
	conf.Join.OutputKey = func(ctx context.Context, key, value interface{}) (interface{}, error) {
		return value.(EnrichedEvent).UserID, nil
	}

	conf.Aggregate.Input = streams.AggregateEnriched
	conf.Aggregate.Rekey = func(ctx context.Context, key, value interface{}) (interface{}, error) {
		return value.(EnrichedEvent).UserID, nil
	}
	conf.Aggregate.Amount = func(ctx context.Context, key, value interface{}) (float64, error) {
		return value.(EnrichedEvent).Amount, nil
	}
	conf.Aggregate.Output = func(ctx context.Context, key interface{}, agg window.Aggregate) (interface{}, error) {
		return EventAggregate{
			UserID:      agg.Key.Key,
			WindowStart: agg.Start,
			WindowEnd:   agg.End,
			Count:       agg.Count,
			TotalAmount: agg.Total,
		}, nil
	}

	conf.Timestamp = eventTime
}

func asEvent(v interface{}) (Event, error) {
	e, ok := v.(Event)
	if !ok {
		return Event{}, errors.Wrapf(ErrUnexpectedPayload, `%T is not an Event`, v)
	}

	return e, nil
}
