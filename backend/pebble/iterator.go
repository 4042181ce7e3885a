package pebble

import "github.com/cockroachdb/pebble"

// Iterator hands out copies of keys and rows. pebble reuses both buffers
// once the cursor moves, and table scans keep decoded rows around.
type Iterator struct {
	itr *pebble.Iterator
}

func (i *Iterator) SeekToFirst() { i.itr.First() }

func (i *Iterator) Seek(key []byte) { i.itr.SeekGE(key) }

func (i *Iterator) Next() { i.itr.Next() }

func (i *Iterator) Valid() bool { return i.itr.Valid() }

func (i *Iterator) Key() []byte {
	return append([]byte(nil), i.itr.Key()...)
}

func (i *Iterator) Value() []byte {
	return append([]byte(nil), i.itr.Value()...)
}

func (i *Iterator) Error() error {
	return i.itr.Error()
}

func (i *Iterator) Close() {
	_ = i.itr.Close()
}
