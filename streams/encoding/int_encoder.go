package encoding

import (
	"reflect"
	"strconv"

	"github.com/gmbyapa/kenrich/pkg/errors"
)

// IntEncoder encodes int and int64 as decimal text. Decode always yields int64.
type IntEncoder struct{}

func (b IntEncoder) Encode(data interface{}) ([]byte, error) {
	switch i := data.(type) {
	case int:
		return []byte(strconv.Itoa(i)), nil
	case int64:
		return []byte(strconv.FormatInt(i, 10)), nil
	default:
		return nil, errors.Errorf(`incorrect type expected (int, int64) have (%s)`, reflect.TypeOf(data))
	}
}

func (b IntEncoder) Decode(data []byte) (interface{}, error) {
	i, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, `invalid integer`)
	}

	return i, nil
}
