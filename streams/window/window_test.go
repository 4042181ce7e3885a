package window

import (
	"math/rand"
	"testing"
	"time"
)

func TestBounds(t *testing.T) {
	size := time.Hour
	h := size.Milliseconds()

	tests := []struct {
		name       string
		ts         int64
		start, end int64
	}{
		{`zero`, 0, 0, h},
		{`inside first`, 1, 0, h},
		{`last ms of first`, h - 1, 0, h},
		{`boundary opens next`, h, h, 2 * h},
		{`negative`, -1, -h, 0},
		{`negative boundary`, -h, -h, 0},
		{`negative below boundary`, -h - 1, -2 * h, -h},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			start, end := Bounds(test.ts, size)
			if start != test.start || end != test.end {
				t.Errorf(`ts %d: expected [%d,%d), got [%d,%d)`, test.ts, test.start, test.end, start, end)
			}

			if test.ts < start || test.ts >= end {
				t.Errorf(`ts %d outside its window`, test.ts)
			}
		})
	}
}

func TestStore_CumulativeSnapshots(t *testing.T) {
	store := NewStore()
	wk := For(`C1`, 1000, time.Hour)

	var last Aggregate
	for _, amount := range []float64{100, 200, 300} {
		last = store.Add(wk, amount, 1000)
	}

	if last.Count != 3 || last.Total != 600 {
		t.Errorf(`expected {3, 600}, got %+v`, last)
	}

	got, ok := store.Get(wk)
	if !ok || got != last {
		t.Errorf(`stored state differs from the returned snapshot: %+v`, got)
	}
}

func TestStore_FoldIsCommutative(t *testing.T) {
	amounts := []float64{100, 250, 0, 42, 7}
	wk := For(`C1`, 0, time.Minute)

	fold := func(order []float64) Aggregate {
		s := NewStore()
		var agg Aggregate
		for _, a := range order {
			agg = s.Add(wk, a, 0)
		}
		return agg
	}

	want := fold(amounts)
	shuffled := append([]float64(nil), amounts...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if got := fold(shuffled); got != want {
		t.Errorf(`expected %+v regardless of order, got %+v`, want, got)
	}
}

func TestStore_FetchAndAllOrdering(t *testing.T) {
	store := NewStore()
	size := time.Hour
	h := size.Milliseconds()

	store.Add(For(`B`, 2*h, size), 1, 2*h)
	store.Add(For(`A`, 2*h, size), 1, 2*h)
	store.Add(For(`A`, 0, size), 1, 0)

	all := store.All()
	if len(all) != 3 || all[0].Key.Key != `A` || all[0].Start != 0 || all[1].Key.Key != `A` || all[2].Key.Key != `B` {
		t.Errorf(`unexpected ordering %+v`, all)
	}

	fetched := store.Fetch(`A`)
	if len(fetched) != 2 || fetched[0].Start != 0 || fetched[1].Start != 2*h {
		t.Errorf(`unexpected fetch %+v`, fetched)
	}
}

func TestStore_Evict(t *testing.T) {
	store := NewStore()
	size := time.Hour
	h := size.Milliseconds()

	store.Add(For(`A`, 0, size), 1, 0)
	store.Add(For(`A`, 3*h, size), 1, 3*h)

	if n := store.Evict(2 * h); n != 1 {
		t.Fatalf(`expected one eviction, got %d`, n)
	}

	if _, ok := store.Get(For(`A`, 0, size)); ok {
		t.Error(`expired window still present`)
	}

	// a late record for an evicted window starts over
	if agg := store.Add(For(`A`, 10, size), 5, 10); agg.Count != 1 || agg.Total != 5 {
		t.Errorf(`expected a fresh window, got %+v`, agg)
	}
}
