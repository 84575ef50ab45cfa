package collector

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackoff returns the retry policy shared by the network target families.
// The run deadline bounds the total time spent retrying.
func newBackoff(ctx context.Context, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// dialWithRetry opens a TCP connection to address, retrying refused or
// failed dials up to retries extra times. It never outlives ctx.
func dialWithRetry(ctx context.Context, address string, retries int) (net.Conn, error) {
	var d net.Dialer
	var conn net.Conn
	op := func() error {
		c, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, newBackoff(ctx, retries)); err != nil {
		return nil, targetError(ctx, address, err)
	}
	return conn, nil
}
