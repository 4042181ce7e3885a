package encoding

import (
	"reflect"

	"github.com/gmbyapa/kenrich/pkg/errors"
)

// ByteEncoder passes raw bytes through untouched.
type ByteEncoder struct{}

func (b ByteEncoder) Encode(v interface{}) ([]byte, error) {
	byt, ok := v.([]byte)
	if !ok {
		return nil, errors.Errorf(`data is [%s] not a byte slice`, reflect.TypeOf(v))
	}

	return byt, nil
}

func (b ByteEncoder) Decode(data []byte) (interface{}, error) {
	return data, nil
}
