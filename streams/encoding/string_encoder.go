package encoding

import (
	"fmt"

	"github.com/gmbyapa/kenrich/pkg/errors"
)

// StringEncoder encodes event and table keys. Keys produced by a re-keyer
// may arrive as raw bytes or as a fmt.Stringer, both are taken as-is.
// Decode always yields a string.
type StringEncoder struct{}

func (StringEncoder) Encode(v interface{}) ([]byte, error) {
	switch key := v.(type) {
	case string:
		return []byte(key), nil
	case []byte:
		return key, nil
	case fmt.Stringer:
		return []byte(key.String()), nil
	}

	return nil, errors.Errorf(`key of type %T is not a string`, v)
}

func (StringEncoder) Decode(data []byte) (interface{}, error) {
	return string(data), nil
}
