package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTransient marks infrastructure failures that are safe to retry at a
// transaction boundary: lock wait timeouts, deadlocks, lost connections.
var ErrTransient = errors.New("transient failure")

type Policy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy(attempts int) Policy {
	return Policy{
		Attempts:        attempts,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Do runs op until it succeeds, fails with a non-transient error, the context is
// done, or the attempts are used up. The last error is returned unchanged.
func Do(ctx context.Context, log *slog.Logger, p Policy, name string, op func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if log != nil {
			log.Warn("retrying after transient failure", "op", name, "wait", wait, "err", err)
		}
	})

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
