package encoding

// Encoder converts between domain values and the bytes stored in topics and
// state stores.
type Encoder interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// Builder returns a fresh Encoder.
type Builder func() Encoder
