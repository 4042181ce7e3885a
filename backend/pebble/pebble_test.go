/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package pebble

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"

	"github.com/gmbyapa/kenrich/backend"
)

func makeBackend(t *testing.T, dir string) *Pebble {
	t.Helper()
	conf := NewConfig()
	conf.Dir = dir
	bk, err := NewPebbleBackend(`test`, conf)
	if err != nil {
		t.Fatal(err)
	}

	return bk
}

func TestPebble_Set(t *testing.T) {
	bk := makeBackend(t, t.TempDir())
	defer bk.Close()

	if err := bk.Set([]byte(`100`), []byte(`100`)); err != nil {
		t.Fatal(err)
	}

	r, err := bk.Get([]byte(`100`))
	if err != nil {
		t.Error(err)
	}

	if !bytes.Equal(r, []byte(`100`)) {
		t.Error(`record does not exist`)
	}
}

func TestPebble_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	bk := makeBackend(t, dir)
	if err := bk.Write([]backend.KeyVal{{Key: []byte(`k`), Val: []byte(`v`)}}); err != nil {
		t.Fatal(err)
	}

	if err := bk.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := makeBackend(t, dir)
	defer reopened.Close()

	if !reopened.Persistent() {
		t.Error(`pebble must be persistent`)
	}

	v, err := reopened.Get([]byte(`k`))
	if err != nil || string(v) != `v` {
		t.Errorf(`expected v after reopen, got %s %v`, v, err)
	}
}

func TestPebble_WriteBatchDeletes(t *testing.T) {
	bk := makeBackend(t, t.TempDir())
	defer bk.Close()

	if err := bk.Set([]byte(`100`), []byte(`100`)); err != nil {
		t.Fatal(err)
	}

	if err := bk.Write([]backend.KeyVal{{Key: []byte(`100`)}, {Key: []byte(`200`), Val: []byte(`2`)}}); err != nil {
		t.Fatal(err)
	}

	if val, _ := bk.Get([]byte(`100`)); val != nil {
		t.Errorf(`expected deleted key, got %s`, val)
	}

	if val, _ := bk.Get([]byte(`200`)); string(val) != `2` {
		t.Errorf(`expected 2, got %s`, val)
	}
}

func TestPebble_PrefixedIterator(t *testing.T) {
	bk := makeBackend(t, t.TempDir())
	defer bk.Close()

	for i := 1; i <= 100; i++ {
		if err := bk.Set([]byte(fmt.Sprint(i)), []byte(`0`)); err != nil {
			t.Fatal(err)
		}
	}

	i := bk.PrefixedIterator([]byte(`5`))
	defer i.Close()
	var recs []string
	for i.SeekToFirst(); i.Valid(); i.Next() {
		recs = append(recs, string(i.Key()))
	}

	expected := []string{`5`, `50`, `51`, `52`, `53`, `54`, `55`, `56`, `57`, `58`, `59`}
	if !reflect.DeepEqual(recs, expected) {
		t.Errorf(`expected : %v, got: %v`, expected, recs)
	}
}

func TestPebble_IteratorKeysOutliveCursor(t *testing.T) {
	bk := makeBackend(t, t.TempDir())
	defer bk.Close()

	codes := []string{`AUTO`, `HOME`, `LIFE`}
	for _, code := range codes {
		if err := bk.Set([]byte(code), []byte(code+`-row`)); err != nil {
			t.Fatal(err)
		}
	}

	i := bk.Iterator()
	defer i.Close()
	var keys, rows [][]byte
	for i.SeekToFirst(); i.Valid(); i.Next() {
		keys = append(keys, i.Key())
		rows = append(rows, i.Value())
	}

	if err := i.Error(); err != nil {
		t.Fatal(err)
	}

	if len(keys) != len(codes) {
		t.Fatalf(`expected %d entries, got %d`, len(codes), len(keys))
	}

	for n, code := range codes {
		if string(keys[n]) != code || string(rows[n]) != code+`-row` {
			t.Errorf(`entry %d: expected %s, got %s=%s`, n, code, keys[n], rows[n])
		}
	}
}
