package hardware

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

const (
	maxAttempts   = 5
	retryInterval = 200 * time.Millisecond
)

type retryChannel struct {
	inner ports.HardwareChannel
}

// NewRetryChannel wraps a hardware channel with bounded retries over the
// transient faults of the short-range transport. A command is retried only
// when its contract marks it retryable and the failure is classified
// transient; definitive rejections (wrong PIN, user cancelled) pass through
// untouched. When attempts exhaust, the underlying error is surfaced
// unchanged so callers' error handling works unmodified.
func NewRetryChannel(inner ports.HardwareChannel) ports.HardwareChannel {
	return &retryChannel{inner}
}

func (c *retryChannel) Transmit(
	ctx context.Context, cmd ports.HardwareCommand,
) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		res, err := c.inner.Transmit(ctx, cmd)
		if err == nil {
			return res, nil
		}
		if !cmd.Retryable || !ports.IsTransientHardwareError(err) ||
			attempt >= maxAttempts {
			return nil, err
		}

		log.Warnf(
			"hardware: command %s failed, retrying (attempt %d/%d)",
			cmd.Name, attempt, maxAttempts,
		)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(retryInterval):
		}
	}
}
