package sarama

import (
	"net"

	"github.com/Shopify/sarama"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
)

// unavailable marks err as kafka.ErrUnavailable when cause is a connectivity failure.
func unavailable(err, cause error) error {
	if !isConnErr(cause) {
		return err
	}

	return errors.WrapWithFrameSkip(kafka.ErrUnavailable, err.Error(), 3)
}

func isConnErr(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	for _, e := range []error{
		sarama.ErrOutOfBrokers,
		sarama.ErrNotConnected,
		sarama.ErrClosedClient,
		sarama.ErrBrokerNotAvailable,
		sarama.ErrLeaderNotAvailable,
		sarama.ErrNotLeaderForPartition,
		sarama.ErrRequestTimedOut,
	} {
		if errors.Is(err, e) {
			return true
		}
	}

	return false
}
