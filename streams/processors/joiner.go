package processors

import (
	"context"

	"github.com/gmbyapa/kenrich/pkg/errors"
)

// JoinerType represents a supported join type eg: LeftJoin, InnerJoin.
type JoinerType int

func (jt JoinerType) String() string {
	switch jt {
	case LeftJoin:
		return `LeftJoin`
	case InnerJoin:
		return `InnerJoin`
	}

	return ``
}

const (
	LeftJoin JoinerType = iota
	InnerJoin
)

// ErrTableNotReady is returned for a lookup miss while the table is still bootstrapping.
var ErrTableNotReady = errors.Sentinel(`join: table not ready`)

type KeyMapper func(ctx context.Context, key, value interface{}) (mappedKey interface{}, err error)

type JoinValueMapper func(ctx context.Context, left, right interface{}) (joined interface{}, err error)

// Type describes a processor for topology descriptions.
type Type struct {
	Name  string
	Attrs map[string]string
}
