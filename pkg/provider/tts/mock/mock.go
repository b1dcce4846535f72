// Package mock provides test doubles for the tts.Provider and tts.Player
// interfaces.
//
// Example:
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1")}}
//	ch, _ := p.SynthesizeStream(ctx, tts.Text("hello"), voice)
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/castvox/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of SynthesizeStream. Text holds
// every fragment the provider consumed, joined with no separator.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on the audio channel after the text channel
	// has been drained.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	calls []SynthesizeCall
	done  chan struct{}
}

// SynthesizeStream drains text, records it, and emits SynthesizeChunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Voice: voice})
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		var sb strings.Builder
	read:
		for {
			select {
			case s, ok := <-text:
				if !ok {
					break read
				}
				sb.WriteString(s)
			case <-ctx.Done():
				return
			}
		}
		p.mu.Lock()
		p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Text: sb.String(), Voice: voice})
		if p.done != nil {
			select {
			case p.done <- struct{}{}:
			default:
			}
		}
		p.mu.Unlock()
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// Calls returns a copy of the recorded SynthesizeStream calls. Calls that
// have not finished reading their text are not included yet.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.calls...)
}

// Synthesized returns a channel signalled each time a call finishes reading
// its text. It has a small buffer; signals beyond it are dropped.
func (p *Provider) Synthesized() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		p.done = make(chan struct{}, 16)
	}
	return p.done
}

// Player is a mock tts.Player that collects every chunk it is given.
type Player struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Play after draining.
	Err error

	played [][]byte
}

// Play drains pcm and records the chunks.
func (p *Player) Play(ctx context.Context, pcm <-chan []byte) error {
	for chunk := range pcm {
		p.mu.Lock()
		p.played = append(p.played, chunk)
		p.mu.Unlock()
	}
	return p.Err
}

// Played returns a copy of every chunk played so far.
func (p *Player) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.played...)
}

var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Player   = (*Player)(nil)
)
