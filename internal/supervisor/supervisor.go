// Package supervisor keeps a long-running worker alive: on a fault it waits a
// fixed delay and runs the worker again, forever.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const DefaultRestartDelay = 5 * time.Second

var ErrPanic = errors.New("worker panic")

// Run returns nil once fn returns nil or ctx is cancelled. Any error or
// panic from fn is logged and fn is restarted after delay.
func Run(ctx context.Context, name string, delay time.Duration, fn func(ctx context.Context) error) error {
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	attempt := 0
	op := func() (err error) {
		attempt++
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		log.Info().Str("worker", name).Int("attempt", attempt).Msg("starting")
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Error().Err(err).Str("worker", name).Dur("restart_in", wait).
			Msg("crashed or disconnected, restarting")
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(delay), ctx)
	err := backoff.RetryNotify(op, b, notify)
	if ctx.Err() != nil {
		log.Info().Str("worker", name).Msg("stopped")
		return nil
	}
	return err
}
