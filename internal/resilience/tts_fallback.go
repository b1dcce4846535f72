package resilience

import (
	"context"

	"github.com/MrWong99/castvox/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several speech
// backends, each behind its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// States reports each backend's breaker state.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// SynthesizeStream opens a synthesis stream on the first healthy backend.
// Only stream setup fails over. A backend that fails after consuming part of
// text leaves the remainder to the next backend.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
