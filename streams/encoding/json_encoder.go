package encoding

import (
	"reflect"

	"github.com/gmbyapa/kenrich/pkg/errors"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JsonEncoder encodes any value as JSON and decodes into the value returned by New.
// New must return a pointer. Decode dereferences it so callers get a value type.
type JsonEncoder struct {
	New func() interface{}
}

// NewJsonEncoder builds a JsonEncoder decoding into T values.
func NewJsonEncoder(newFn func() interface{}) JsonEncoder {
	return JsonEncoder{New: newFn}
}

func (j JsonEncoder) Encode(v interface{}) ([]byte, error) {
	byt, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, `json encode failed for %s`, reflect.TypeOf(v))
	}

	return byt, nil
}

func (j JsonEncoder) Decode(data []byte) (interface{}, error) {
	if j.New == nil {
		var v map[string]interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, `json decode failed`)
		}
		return v, nil
	}

	ptr := j.New()
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, errors.Wrapf(err, `json decode failed for %s`, reflect.TypeOf(ptr))
	}

	if rv := reflect.ValueOf(ptr); rv.Kind() == reflect.Ptr {
		return rv.Elem().Interface(), nil
	}

	return ptr, nil
}
