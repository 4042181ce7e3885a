package kafka

import (
	"context"
	"testing"
	"time"
)

func TestNextOffsets(t *testing.T) {
	records := []Record{
		NewRecord(context.Background(), nil, nil, `events`, 0, 4, time.Time{}, nil),
		NewRecord(context.Background(), nil, nil, `events`, 1, 10, time.Time{}, nil),
		NewRecord(context.Background(), nil, nil, `events`, 0, 5, time.Time{}, nil),
	}

	offsets := NextOffsets(records)
	if len(offsets) != 2 {
		t.Fatalf(`expected 2 partitions, got %d`, len(offsets))
	}

	if offsets[0].Partition != 0 || offsets[0].Offset != 6 {
		t.Errorf(`unexpected partition 0 offset %s`, offsets[0])
	}

	if offsets[1].Partition != 1 || offsets[1].Offset != 11 {
		t.Errorf(`unexpected partition 1 offset %s`, offsets[1])
	}
}

func TestWatermarks_Empty(t *testing.T) {
	cases := map[Watermarks]bool{
		{Low: 0, High: 0}:  true,
		{Low: 5, High: 5}:  true,
		{Low: 0, High: 10}: false,
	}

	for wm, empty := range cases {
		if wm.Empty() != empty {
			t.Errorf(`%+v: expected empty=%v`, wm, empty)
		}
	}
}

func TestRecordHeaders_Read(t *testing.T) {
	h := RecordHeaders{{Key: []byte(`trace`), Value: []byte(`abc`)}}
	if string(h.Read([]byte(`trace`))) != `abc` {
		t.Error(`expected header value`)
	}

	if h.Read([]byte(`missing`)) != nil {
		t.Error(`expected nil for missing header`)
	}
}
