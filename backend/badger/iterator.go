/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package badger

import (
	db "github.com/dgraph-io/badger/v3"
)

// Iterator scans table rows inside a read-only transaction which is
// discarded on Close. A failed row copy ends the scan and is reported by
// Error.
type Iterator struct {
	itr *db.Iterator
	txn *db.Txn
	err error
}

func (i *Iterator) SeekToFirst() { i.itr.Rewind() }

func (i *Iterator) Seek(key []byte) { i.itr.Seek(key) }

func (i *Iterator) Next() { i.itr.Next() }

func (i *Iterator) Valid() bool {
	return i.err == nil && i.itr.Valid()
}

func (i *Iterator) Key() []byte {
	return i.itr.Item().KeyCopy(nil)
}

func (i *Iterator) Value() []byte {
	row, err := i.itr.Item().ValueCopy(nil)
	if err != nil {
		i.err = err
	}

	return row
}

func (i *Iterator) Error() error { return i.err }

func (i *Iterator) Close() {
	i.itr.Close()
	i.txn.Discard()
}
