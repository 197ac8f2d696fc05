package connection

import (
	"context"
	"time"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds RetryConnect.
type RetryPolicy struct {
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Connector is the part of Supervisor RetryConnect drives.
type Connector interface {
	ConnectAndWait(ctx context.Context) error
}

// RetryConnect connects with exponential backoff. Permission and policy
// failures need the user to act and are returned without retrying.
func RetryConnect(ctx context.Context, c Connector, policy RetryPolicy, log logger.Logger) error {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := c.ConnectAndWait(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Handshake failed, retrying")
	}

	retries := policy.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx), notify)
}

// IsPermanent reports whether err is a connection failure retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.HasCode(err, errors.ErrConnectionPermission) ||
		errors.HasCode(err, errors.ErrConnectionPolicy)
}
