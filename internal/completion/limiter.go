package completion

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limited paces requests to an underlying client.
type Limited struct {
	next    Client
	limiter *rate.Limiter
}

// NewLimited allows requestsPerMinute requests with the given burst. A
// non-positive rate returns next unchanged.
func NewLimited(next Client, requestsPerMinute, burst int) Client {
	if requestsPerMinute <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst),
	}
}

func (l *Limited) Name() string { return l.next.Name() }

// Stream waits for a request slot, then streams from the underlying client.
func (l *Limited) Stream(ctx context.Context, req Request, onChunk ChunkFunc) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Provider: l.next.Name(), Err: err}
	}
	return l.next.Stream(ctx, req, onChunk)
}
