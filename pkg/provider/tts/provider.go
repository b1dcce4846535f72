// Package tts defines the Provider interface for the text-to-speech backend
// behind the console's speak action, plus a [Player] that renders the
// synthesised PCM on the host.
//
// SynthesizeStream accepts a channel of text fragments and returns a channel
// of raw PCM as it becomes available, so a streamed language-model reply can
// be spoken while it is still being generated.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects a provider voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider the voice belongs to.
	Provider string

	// Metadata holds provider-specific attributes (gender, accent, ...).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes fragments from text and returns a channel of
	// PCM chunks. The audio channel is closed when all text has been
	// synthesised or ctx is cancelled; callers must drain it. A non-nil error
	// means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// ListVoices returns the voices available from the provider.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Text returns a closed channel carrying the single fragment s, for callers
// that already hold the complete text.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
