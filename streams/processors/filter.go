package processors

import (
	"context"

	"github.com/gmbyapa/kenrich/pkg/errors"
)

type FilterFunc func(ctx context.Context, key, value interface{}) (bool, error)

type Filter struct {
	FilterFunc FilterFunc
}

func (f *Filter) Type() Type {
	return Type{Name: `filter`}
}

// Pass reports whether the record continues down the pipeline.
func (f *Filter) Pass(ctx context.Context, kIn, vIn interface{}) (bool, error) {
	ok, err := f.FilterFunc(ctx, kIn, vIn)
	if err != nil {
		return false, errors.Wrap(err, `filter error`)
	}

	return ok, nil
}
