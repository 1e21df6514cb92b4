package completion

import (
	"context"
	"sync"
)

// Fake is a scripted Client for tests. It emits Chunks in order, then
// returns Err. When Gate is non-nil each chunk waits for a receive from it.
type Fake struct {
	Chunks []string
	Err    error
	Gate   chan struct{}

	mu       sync.Mutex
	requests []Request
}

func (f *Fake) Name() string { return "fake/scripted" }

// Stream implements Client.
func (f *Fake) Stream(ctx context.Context, req Request, onChunk ChunkFunc) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for _, chunk := range f.Chunks {
		if f.Gate != nil {
			select {
			case <-f.Gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return f.Err
}

// Requests returns the requests received so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}
