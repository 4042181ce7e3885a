package processors

import (
	"context"

	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/table"
)

// StreamTableJoiner joins stream records against the current state of a table.
// Lookups never wait for the table.
type StreamTableJoiner struct {
	Table       table.Reader
	KeyMapper   KeyMapper
	ValueMapper JoinValueMapper
	JoinType    JoinerType
}

func (j *StreamTableJoiner) Type() Type {
	return Type{
		Name: `stream_table_joiner`,
		Attrs: map[string]string{
			`table`: j.Table.Name(),
			`type`:  j.JoinType.String(),
		},
	}
}

// Join returns the joined value. An InnerJoin miss returns (nil, nil) and the
// record must be dropped. A miss while the table is not ready yet returns
// ErrTableNotReady instead.
func (j *StreamTableJoiner) Join(ctx context.Context, key, leftVal interface{}) (joinedVal interface{}, err error) {
	k, err := j.KeyMapper(ctx, key, leftVal)
	if err != nil {
		return nil, errors.Wrap(err, `KeyMapper error`)
	}

	rightValue, err := j.Table.Get(ctx, k)
	if err != nil {
		return nil, errors.Wrapf(err, `cannot get value from [%s] table`, j.Table.Name())
	}

	if rightValue == nil {
		if !j.Table.Ready() {
			return nil, errors.Wrapf(ErrTableNotReady, `key [%+v] missing in %s`, k, j.Table.Name())
		}

		if j.JoinType == InnerJoin {
			return nil, nil
		}
	}

	valJoined, err := j.ValueMapper(ctx, leftVal, rightValue)
	if err != nil {
		return nil, errors.Wrap(err, `value mapper failed`)
	}

	return valJoined, nil
}
