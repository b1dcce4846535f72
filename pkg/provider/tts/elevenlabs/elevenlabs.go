// Package elevenlabs provides a TTS provider using the ElevenLabs streaming
// WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/castvox/pkg/provider/tts"
)

const (
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultHTTPBase  = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithVoiceSettings overrides the default stability 0.5 and similarity
// boost 0.75.
func WithVoiceSettings(vs VoiceSettings) Option {
	return func(p *Provider) {
		p.settings = vs
	}
}

// WithBaseURL points the provider at a different API host. An http(s) URL is
// used for REST calls and its ws(s) counterpart for streaming.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		base = strings.TrimRight(base, "/")
		if base == "" {
			return
		}
		p.httpBase = base
		p.wsBase = "ws" + strings.TrimPrefix(base, "http")
	}
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	wsBase       string
	httpBase     string
	httpClient   *http.Client
	settings     VoiceSettings
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       defaultWSBase,
		httpBase:     defaultHTTPBase,
		httpClient:   &http.Client{},
		settings:     VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// VoiceSettings tunes the synthesised voice. Both values are in [0, 1].
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// inputMessage is one client frame. The first frame of a stream carries the
// API key and voice settings; an empty Text flushes and ends the input.
type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// audioResponse is a server frame; Audio is base64 PCM.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// streamURL builds the stream-input endpoint for a voice.
func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(voiceID), q.Encode())
}

func send(ctx context.Context, conn *websocket.Conn, msg inputMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// open dials the stream endpoint and sends the opening frame.
func (p *Provider) open(ctx context.Context, voiceID string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	settings := p.settings
	// The API rejects an empty first text value.
	if err := send(ctx, conn, inputMessage{Text: " ", VoiceSettings: &settings, XiAPIKey: p.apiKey}); err != nil {
		conn.Close(websocket.StatusInternalError, "open failed")
		return nil, fmt.Errorf("elevenlabs: open stream: %w", err)
	}
	return conn, nil
}

// SynthesizeStream opens a WebSocket to ElevenLabs, forwards the fragments
// read from text, and returns a channel of raw PCM chunks. The channel is
// closed when the server marks the stream final, the connection drops, or
// ctx ends.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	conn, err := p.open(ctx, voice.ID)
	if err != nil {
		return nil, err
	}

	audio := make(chan []byte, 256)
	go func() {
		defer close(audio)

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			p.readAudio(ctx, conn, audio)
		}()
		if !p.writeText(ctx, conn, text, readDone) {
			// Unblocks the reader.
			conn.Close(websocket.StatusNormalClosure, "input aborted")
		}
		<-readDone
		conn.Close(websocket.StatusNormalClosure, "done")
	}()
	return audio, nil
}

// readAudio decodes server frames into out until the final frame, a server
// error message, or a read failure.
func (p *Provider) readAudio(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Audio == "" && resp.Message != "" {
			return
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				return
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

// writeText forwards non-blank fragments until text is closed. It reports
// whether the input was flushed, in which case the server still owes the
// final audio.
func (p *Provider) writeText(ctx context.Context, conn *websocket.Conn, text <-chan string, readDone <-chan struct{}) bool {
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				return send(ctx, conn, inputMessage{}) == nil
			}
			if strings.TrimSpace(fragment) == "" {
				continue
			}
			if err := send(ctx, conn, inputMessage{Text: withTrailingSpace(fragment)}); err != nil {
				return false
			}
		case <-readDone:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// withTrailingSpace keeps fragments apart; the API concatenates text values
// verbatim.
func withTrailingSpace(s string) string {
	if strings.HasSuffix(s, " ") {
		return s
	}
	return s + " "
}

// ---- ListVoices ----

type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}

	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		maps.Copy(meta, v.Labels)
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return voices, nil
}

var _ tts.Provider = (*Provider)(nil)
