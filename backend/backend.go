/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package backend

type Builder func(name string) (Backend, error)

// KeyVal is a single mutation. A nil Val deletes the key.
type KeyVal struct {
	Key, Val []byte
}

type Backend interface {
	// Name returns the name of the store
	Name() string
	String() string
	// Persistent backends survive restarts. Tables built on them resume
	// from the stored changelog offsets instead of replaying the topic.
	Persistent() bool
	Close() error
	Reader
	Writer
}

type Reader interface {
	// Get looks for the value of a given key. Will return nil if the value does not exist
	Get(key []byte) ([]byte, error)
	PrefixedIterator(keyPrefix []byte) Iterator
	Iterator() Iterator
}

type Writer interface {
	Set(key []byte, value []byte) error
	Delete(key []byte) error
	// Write applies every mutation in batch atomically where the backend supports it.
	Write(batch []KeyVal) error
	Flush() error
}

// Iterator walks keys in ascending byte order.
type Iterator interface {
	SeekToFirst()
	Seek(key []byte)
	Next()
	Valid() bool
	Key() []byte
	Value() []byte
	Error() error
	Close()
}
