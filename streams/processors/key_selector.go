package processors

import (
	"context"

	"github.com/gmbyapa/kenrich/pkg/errors"
)

type SelectKeyFunc func(ctx context.Context, key, value interface{}) (kOut interface{}, err error)

// KeySelector replaces the record key. The value is forwarded untouched.
type KeySelector struct {
	SelectKeyFunc SelectKeyFunc
}

func (ks *KeySelector) Rekey(ctx context.Context, kIn, vIn interface{}) (kOut, vOut interface{}, err error) {
	k, err := ks.SelectKeyFunc(ctx, kIn, vIn)
	if err != nil {
		return nil, nil, errors.Wrap(err, `error in select key function`)
	}

	return k, vIn, nil
}

func (ks *KeySelector) Type() Type {
	return Type{Name: `key_selector`}
}
