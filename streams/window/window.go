// Package window implements tumbling event time windows and their aggregate state.
package window

import (
	"fmt"
	"time"
)

// Key identifies a tumbling window of a record key. The window covers [Start, End) in ms.
type Key struct {
	Key   string `json:"key"`
	Start int64  `json:"windowStart"`
	End   int64  `json:"windowEnd"`
}

func (k Key) String() string {
	return fmt.Sprintf(`%s@[%d,%d)`, k.Key, k.Start, k.End)
}

// Aggregate is the cumulative state of one window. Count and Total never decrease.
type Aggregate struct {
	Key
	Count int64   `json:"count"`
	Total float64 `json:"total"`
}

// Bounds returns the window of size containing ts (both in ms). Start uses floor
// division so negative timestamps fall in the window below zero.
func Bounds(ts int64, size time.Duration) (start, end int64) {
	s := size.Milliseconds()
	start = floorDiv(ts, s) * s
	return start, start + s
}

// For builds the Key of key at ts.
func For(key string, ts int64, size time.Duration) Key {
	start, end := Bounds(ts, size)
	return Key{Key: key, Start: start, End: end}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}
