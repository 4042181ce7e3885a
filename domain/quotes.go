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
	TopicQuotes          = `devis-events`
	TopicProductPricing  = `product-pricing`
	TopicValidatedQuotes = `validated-quotes`
	TopicAllQuotes       = `all-quotes`
	TopicQuoteAggregates = `quote-aggregates`
)

type QuoteStatus string

const (
	QuoteDraft     QuoteStatus = `DRAFT`
	QuoteValidated QuoteStatus = `VALIDATED`
	QuoteCancelled QuoteStatus = `CANCELLED`
)

type Quote struct {
	QuoteID      string      `json:"quoteId"`
	CustomerID   string      `json:"customerId"`
	Status       QuoteStatus `json:"status"`
	ProductCode  string      `json:"productCode"`
	BasePremium  float64     `json:"basePremium"`
	FinalPremium float64     `json:"finalPremium,omitempty"`
	CreatedAt    int64       `json:"createdAt"`
	UpdatedAt    int64       `json:"updatedAt"`
}

// ProductPricing is the reference entity of the product-pricing changelog, keyed by product code.
type ProductPricing struct {
	ProductCode string  `json:"productCode"`
	ProductName string  `json:"productName"`
	BasePrice   float64 `json:"basePrice"`
	TaxRate     float64 `json:"taxRate"`
}

type EnrichedQuote struct {
	QuoteID      string      `json:"quoteId"`
	CustomerID   string      `json:"customerId"`
	Status       QuoteStatus `json:"status"`
	ProductCode  string      `json:"productCode"`
	BasePremium  float64     `json:"basePremium"`
	FinalPremium float64     `json:"finalPremium"`
	CreatedAt    int64       `json:"createdAt"`
	UpdatedAt    int64       `json:"updatedAt"`
	ProductName  string      `json:"productName"`
	BasePrice    float64     `json:"basePrice"`
	TaxRate      float64     `json:"taxRate"`
}

// QuoteAggregate counts validated quotes of a customer and sums their base premium.
type QuoteAggregate struct {
	CustomerID   string  `json:"customerId"`
	WindowStart  int64   `json:"windowStart"`
	WindowEnd    int64   `json:"windowEnd"`
	Count        int64   `json:"count"`
	TotalPremium float64 `json:"totalPremium"`
}

// EnrichQuote prices q. FinalPremium is basePremium x (1 + taxRate).
func EnrichQuote(q Quote, p ProductPricing) EnrichedQuote {
	return EnrichedQuote{
		QuoteID:      q.QuoteID,
		CustomerID:   q.CustomerID,
		Status:       q.Status,
		ProductCode:  q.ProductCode,
		BasePremium:  q.BasePremium,
		FinalPremium: q.BasePremium * (1 + p.TaxRate),
		CreatedAt:    q.CreatedAt,
		UpdatedAt:    q.UpdatedAt,
		ProductName:  p.ProductName,
		BasePrice:    p.BasePrice,
		TaxRate:      p.TaxRate,
	}
}

// Quotes configures conf to price validated quotes by product and to
// aggregate them per customer in one hour windows. Quotes without a price
// are not enriched but still counted.
func Quotes(conf *streams.Config) {
	conf.Topics.Events = TopicQuotes
	conf.Topics.Table = TopicProductPricing
	conf.Topics.Filtered = TopicValidatedQuotes
	conf.Topics.Enriched = TopicAllQuotes
	conf.Topics.Aggregates = TopicQuoteAggregates

	conf.Encoders.EventValue = encoding.NewJsonEncoder(func() interface{} { return new(Quote) })
	conf.Encoders.TableValue = encoding.NewJsonEncoder(func() interface{} { return new(ProductPricing) })
	conf.Encoders.EnrichedValue = encoding.NewJsonEncoder(func() interface{} { return new(EnrichedQuote) })
	conf.Encoders.AggregateValue = encoding.NewJsonEncoder(func() interface{} { return new(QuoteAggregate) })

	conf.Filter = func(ctx context.Context, key, value interface{}) (bool, error) {
		q, err := asQuote(value)
		if err != nil {
			return false, err
		}

		return q.Status == QuoteValidated, nil
	}

	conf.Join.Type = processors.InnerJoin
	conf.Join.KeyMapper = func(ctx context.Context, key, value interface{}) (interface{}, error) {
		q, err := asQuote(value)
		if err != nil {
			return nil, err
		}

		return q.ProductCode, nil
	}
	conf.Join.ValueMapper = func(ctx context.Context, left, right interface{}) (interface{}, error) {
		q, err := asQuote(left)
		if err != nil {
			return nil, err
		}

		p, ok := right.(ProductPricing)
		if !ok {
			return nil, errors.Wrapf(ErrUnexpectedPayload, `%T is not a ProductPricing`, right)
		}

		return EnrichQuote(q, p), nil
	}
	conf.Join.OutputKey = func(ctx context.Context, key, value interface{}) (interface{}, error) {
		return value.(EnrichedQuote).QuoteID, nil
	}

	conf.Aggregate.Input = streams.AggregateFiltered
	conf.Aggregate.Rekey = func(ctx context.Context, key, value interface{}) (interface{}, error) {
		q, err := asQuote(value)
		if err != nil {
			return nil, err
		}

		return q.CustomerID, nil
	}
	conf.Aggregate.Amount = func(ctx context.Context, key, value interface{}) (float64, error) {
		q, err := asQuote(value)
		if err != nil {
			return 0, err
		}

		return q.BasePremium, nil
	}
	conf.Aggregate.Output = func(ctx context.Context, key interface{}, agg window.Aggregate) (interface{}, error) {
		return QuoteAggregate{
			CustomerID:   agg.Key.Key,
			WindowStart:  agg.Start,
			WindowEnd:    agg.End,
			Count:        agg.Count,
			TotalPremium: agg.Total,
		}, nil
	}
}

func asQuote(v interface{}) (Quote, error) {
	q, ok := v.(Quote)
	if !ok {
		return Quote{}, errors.Wrapf(ErrUnexpectedPayload, `%T is not a Quote`, v)
	}

	return q, nil
}
