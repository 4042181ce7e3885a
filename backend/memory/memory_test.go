/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package memory

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/gmbyapa/kenrich/backend"
	"github.com/tryfix/metrics"
)

func newBackend() backend.Backend {
	conf := NewConfig()
	conf.MetricsReporter = metrics.NoopReporter()
	return NewMemoryBackend(`test`, conf)
}

func TestMemory_Get(t *testing.T) {
	bk := newBackend()

	for i := 1; i <= 1000; i++ {
		if err := bk.Set([]byte(fmt.Sprint(i)), []byte(`100`)); err != nil {
			t.Fatal(err)
		}
	}

	for i := 1; i <= 1000; i++ {
		val, err := bk.Get([]byte(fmt.Sprint(i)))
		if err != nil {
			t.Error(err)
		}

		if string(val) != `100` {
			t.Fail()
		}
	}

	missing, err := bk.Get([]byte(`missing`))
	if err != nil || missing != nil {
		t.Errorf(`expected nil for a missing key, got %v %v`, missing, err)
	}
}

func TestMemory_IteratorIsOrdered(t *testing.T) {
	bk := newBackend()
	for _, k := range []string{`3`, `1`, `10`, `2`} {
		if err := bk.Set([]byte(k), []byte(`v`+k)); err != nil {
			t.Fatal(err)
		}
	}

	i := bk.Iterator()
	defer i.Close()

	var keys []string
	for i.SeekToFirst(); i.Valid(); i.Next() {
		keys = append(keys, string(i.Key()))
	}

	if expected := []string{`1`, `10`, `2`, `3`}; !reflect.DeepEqual(keys, expected) {
		t.Errorf(`expected %v, got %v`, expected, keys)
	}
}

func TestMemory_PrefixedIterator(t *testing.T) {
	bk := newBackend()
	for i := 1; i <= 100; i++ {
		if err := bk.Set([]byte(fmt.Sprint(i)), []byte(`0`)); err != nil {
			t.Fatal(err)
		}
	}

	i := bk.PrefixedIterator([]byte(`5`))
	var recs []string
	for i.SeekToFirst(); i.Valid(); i.Next() {
		recs = append(recs, string(i.Key()))
	}

	expected := []string{`5`, `50`, `51`, `52`, `53`, `54`, `55`, `56`, `57`, `58`, `59`}
	if !reflect.DeepEqual(recs, expected) {
		t.Errorf(`expected : %v, got: %v`, expected, recs)
	}
}

func TestMemory_WriteBatch(t *testing.T) {
	bk := newBackend()
	if err := bk.Set([]byte(`gone`), []byte(`1`)); err != nil {
		t.Fatal(err)
	}

	err := bk.Write([]backend.KeyVal{
		{Key: []byte(`a`), Val: []byte(`1`)},
		{Key: []byte(`gone`)},
		{Key: []byte(`a`), Val: []byte(`2`)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if v, _ := bk.Get([]byte(`a`)); string(v) != `2` {
		t.Errorf(`expected last write to win, got %s`, v)
	}

	if v, _ := bk.Get([]byte(`gone`)); v != nil {
		t.Errorf(`expected nil value to delete, got %s`, v)
	}
}

func TestMemory_Delete(t *testing.T) {
	bk := newBackend()

	if err := bk.Set([]byte(`100`), []byte(`100`)); err != nil {
		t.Fatal(err)
	}

	if err := bk.Delete([]byte(`100`)); err != nil {
		t.Fatal(err)
	}

	val, err := bk.Get([]byte(`100`))
	if err != nil {
		t.Error(err)
	}

	if val != nil {
		t.Fail()
	}
}

// one writer reusing its buffer, many readers: a read returns a whole value or nothing
func TestMemory_ConcurrentReadersSeeWholeValues(t *testing.T) {
	bk := newBackend()
	keys := [][]byte{[]byte(`AUTO`), []byte(`HOME`), []byte(`LIFE`)}

	stop := make(chan struct{})
	wg := new(sync.WaitGroup)
	errs := make(chan string, 8)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				for _, key := range keys {
					val, err := bk.Get(key)
					if err != nil {
						errs <- err.Error()
						return
					}

					// a complete value is one letter repeated 64 times
					if val != nil && (len(val) != 64 || strings.Count(string(val), string(val[:1])) != 64) {
						errs <- fmt.Sprintf(`torn value %q for %s`, val, key)
						return
					}
				}
			}
		}()
	}

	buf := make([]byte, 64)
	for i := 0; i < 5000; i++ {
		key := keys[i%len(keys)]
		if i%7 == 0 {
			if err := bk.Write([]backend.KeyVal{{Key: key}}); err != nil {
				t.Fatal(err)
			}
			continue
		}

		for j := range buf {
			buf[j] = byte('a' + i%26)
		}

		if err := bk.Write([]backend.KeyVal{{Key: key, Val: buf}}); err != nil {
			t.Fatal(err)
		}
	}

	close(stop)
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}
