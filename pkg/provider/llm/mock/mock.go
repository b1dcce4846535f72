// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi!"}, {FinishReason: "stop"}}}
//	ch, _ := p.StreamCompletion(ctx, req)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/castvox/pkg/provider/llm"
)

// Call records one invocation. Stream distinguishes StreamCompletion from
// Complete.
type Call struct {
	Ctx    context.Context
	Req    llm.CompletionRequest
	Stream bool
}

// Provider is a scripted llm.Provider. The zero value answers every request
// with nothing and no error.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is sent on the StreamCompletion channel, then it is closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned by StreamCompletion.
	StreamErr error

	// Hold, if non-nil, gates every streamed chunk: one receive per chunk.
	// The stream ends early when the request context is cancelled.
	Hold <-chan struct{}

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	calls []Call
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) record(ctx context.Context, req llm.CompletionRequest, stream bool) {
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req, Stream: stream})
}

// StreamCompletion records the call and streams StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.record(ctx, req, true)
	if p.StreamErr != nil {
		defer p.mu.Unlock()
		return nil, p.StreamErr
	}
	chunks := slices.Clone(p.StreamChunks)
	hold := p.Hold
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if hold != nil {
				select {
				case <-hold:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(ctx, req, false)
	return p.CompleteResponse, p.CompleteErr
}

// Calls returns every recorded call in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Streamed returns the recorded StreamCompletion calls.
func (p *Provider) Streamed() []Call {
	return p.filter(true)
}

// Completed returns the recorded Complete calls.
func (p *Provider) Completed() []Call {
	return p.filter(false)
}

func (p *Provider) filter(stream bool) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Call
	for _, c := range p.calls {
		if c.Stream == stream {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
