package backend

import (
	"bytes"
	"sort"
)

type sliceIterator struct {
	records []KeyVal
	current int
}

// NewSliceIterator iterates over a snapshot of records. The slice is sorted by key in place.
func NewSliceIterator(records []KeyVal) Iterator {
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].Key, records[j].Key) < 0
	})

	return &sliceIterator{records: records}
}

func (i *sliceIterator) SeekToFirst() {
	i.current = 0
}

func (i *sliceIterator) Seek(key []byte) {
	i.current = sort.Search(len(i.records), func(n int) bool {
		return bytes.Compare(i.records[n].Key, key) >= 0
	})
}

func (i *sliceIterator) Next() {
	i.current++
}

func (i *sliceIterator) Valid() bool {
	return i.current >= 0 && i.current < len(i.records)
}

func (i *sliceIterator) Key() []byte {
	return i.records[i.current].Key
}

func (i *sliceIterator) Value() []byte {
	return i.records[i.current].Val
}

func (i *sliceIterator) Error() error {
	return nil
}

func (i *sliceIterator) Close() {
	i.records = nil
}

// KeyUpperBound returns the smallest key greater than every key with prefix b.
func KeyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // no upper-bound
}
