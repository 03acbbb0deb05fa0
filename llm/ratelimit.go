package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// limitedProvider waits on a shared token bucket before every call
type limitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// WithRateLimit caps the request rate of p. The result is always a Streamer.
func WithRateLimit(p Provider, requestsPerSecond float64, burst int) Provider {
	if burst < 1 {
		burst = 1
	}
	return &limitedProvider{
		next:    p,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (l *limitedProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Complete(ctx, req)
}

func (l *limitedProvider) Stream(ctx context.Context, req Request, fn func(StreamEvent) error) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return StreamOrComplete(ctx, l.next, req, fn)
}
