package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unclebandit/campaign-mailer/internal/config"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
)

// WithTimeout bounds every Send. A deadline hit is reported as
// ErrDeliveryTimeout so callers treat it like any other delivery failure.
func WithTimeout(next Dispatcher, timeout time.Duration) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, msg Message) (Result, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type outcome struct {
			res Result
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			res, err := next.Send(ctx, msg)
			done <- outcome{res, err}
		}()

		select {
		case o := <-done:
			if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
				return Result{}, errors.Join(appErrors.ErrDeliveryTimeout, o.err)
			}
			return o.res, o.err
		case <-ctx.Done():
			return Result{}, errors.Join(appErrors.ErrDeliveryTimeout, ctx.Err())
		}
	})
}

// WithBreaker stops calling the provider after repeated failures until the
// recovery time elapses. Rejected calls fail with ErrDelivery.
func WithBreaker(next Dispatcher, cfg config.BreakerConfig) Dispatcher {
	if !cfg.Enabled {
		return next
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "delivery-provider",
		MaxRequests: cfg.HalfOpenMax,
		Interval:    cfg.Interval,
		Timeout:     cfg.RecoveryTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return counts.TotalFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a malformed message says nothing about provider health
			return err == nil || errors.Is(err, ErrInvalidMessage)
		},
	})

	return DispatcherFunc(func(ctx context.Context, msg Message) (Result, error) {
		out, err := cb.Execute(func() (any, error) {
			return next.Send(ctx, msg)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return Result{}, errors.Join(appErrors.ErrDelivery, err)
			}
			return Result{}, err
		}
		return out.(Result), nil
	})
}

// WithMetrics records provider latency by result.
func WithMetrics(next Dispatcher, provider string) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, msg Message) (Result, error) {
		start := time.Now()
		res, err := next.Send(ctx, msg)
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.DispatchDuration.WithLabelValues(provider, result).Observe(time.Since(start).Seconds())
		return res, err
	})
}

// Chain wraps base with metrics, the breaker and the timeout. The timeout is
// innermost so a hung call still counts as a breaker failure.
func Chain(base Dispatcher, provider string, timeout time.Duration, breaker config.BreakerConfig) Dispatcher {
	return WithMetrics(WithBreaker(WithTimeout(base, timeout), breaker), provider)
}
