package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/castvox/internal/config"
	"github.com/MrWong99/castvox/internal/dispatch"
	"github.com/MrWong99/castvox/internal/observe"
	"github.com/MrWong99/castvox/pkg/provider/llm"
	"github.com/MrWong99/castvox/pkg/provider/tts"
)

// compositorMethods is the obs action's method table. Keys are lower-cased
// command names.
func (c *Console) compositorMethods() map[string]ActionFunc {
	methods := map[string]ActionFunc{
		"setCurrentProgramSceneByName": func(ctx context.Context, res dispatch.Result) error {
			name := c.snapScene(ctx, joinArgs(res, 0))
			if name == "" {
				return errors.New("console: obs: scene name is empty")
			}
			return c.comp.SetCurrentProgramSceneByName(ctx, name)
		},
		"setCurrentProgramSceneByUuid": func(ctx context.Context, res dispatch.Result) error {
			return c.comp.SetCurrentProgramSceneByUUID(ctx, res.ArgString(0))
		},
		"setSceneItemEnabled": func(ctx context.Context, res dispatch.Result) error {
			id, ok := res.ArgInt(1)
			if !ok {
				return fmt.Errorf("console: obs: scene item id %q is not an integer", res.ArgString(1))
			}
			enabled, ok := res.ArgBool(2)
			if !ok {
				return fmt.Errorf("console: obs: enabled flag %q is not a boolean", res.ArgString(2))
			}
			return c.comp.SetSceneItemEnabled(ctx, res.ArgString(0), id, enabled)
		},
		"getSceneList": func(ctx context.Context, _ dispatch.Result) error {
			return c.comp.GetSceneList(ctx)
		},
		"getSceneItemListByName": func(ctx context.Context, res dispatch.Result) error {
			return c.comp.GetSceneItemListByName(ctx, c.snapScene(ctx, joinArgs(res, 0)))
		},
		"getSceneItemListByUuid": func(ctx context.Context, res dispatch.Result) error {
			return c.comp.GetSceneItemListByUUID(ctx, res.ArgString(0))
		},
		"getSceneItemId": func(ctx context.Context, res dispatch.Result) error {
			return c.comp.GetSceneItemID(ctx, res.ArgString(0), joinArgs(res, 1))
		},
		"sendCaption": func(ctx context.Context, res dispatch.Result) error {
			return c.comp.SendStreamCaption(ctx, joinArgs(res, 0))
		},
	}
	out := make(map[string]ActionFunc, len(methods))
	for name, fn := range methods {
		out[strings.ToLower(name)] = fn
	}
	return out
}

func (c *Console) obsAction(ctx context.Context, res dispatch.Result) error {
	fn, ok := c.obs[strings.ToLower(res.Command)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, res.Command)
	}
	if !c.state.Snapshot().CompositorReady {
		return fmt.Errorf("%w: compositor is not authenticated", ErrNotReady)
	}
	return fn(ctx, res)
}

// snapScene maps a spoken scene name onto a known one. Unknown names pass
// through unchanged so the compositor reports the failure.
func (c *Console) snapScene(ctx context.Context, spoken string) string {
	names := c.state.Snapshot().SceneNames()
	name, score, ok := c.snapper.Snap(spoken, names)
	if !ok {
		return spoken
	}
	if name != spoken {
		observe.Logger(ctx).Debug("scene name snapped", "spoken", spoken, "scene", name, "score", score)
	}
	return name
}

// joinArgs rejoins the string form of every argument from index from on.
func joinArgs(res dispatch.Result, from int) string {
	if from >= len(res.Args) {
		return ""
	}
	parts := make([]string, 0, len(res.Args)-from)
	for i := from; i < len(res.Args); i++ {
		parts = append(parts, res.ArgString(i))
	}
	return strings.Join(parts, " ")
}

// ---- chat ----

var flatten = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func (c *Console) chatAction(ctx context.Context, res dispatch.Result) error {
	return c.sendChat(ctx, res.Response)
}

func (c *Console) sendChat(ctx context.Context, text string) error {
	if c.relay == nil || !c.cfg.Relay.Enabled() {
		return fmt.Errorf("%w: no chat channel configured", ErrNotReady)
	}
	if !c.state.Snapshot().RelayReady {
		return fmt.Errorf("%w: relay is not connected", ErrNotReady)
	}
	text = strings.TrimSpace(flatten.Replace(text))
	if text == "" {
		return nil
	}
	c.relay.SendChannelMessage(ctx, c.cfg.Relay.Channel, text)
	return nil
}

// ---- speak ----

type speechJob struct {
	ctx  context.Context
	text <-chan string
	done chan error
}

func (c *Console) speakAction(ctx context.Context, res dispatch.Result) error {
	return c.say(ctx, tts.Text(res.Response))
}

func (c *Console) canSpeak() bool {
	return c.providers.TTS != nil && c.providers.Player != nil
}

// say queues text for playback and waits until it has been played.
func (c *Console) say(ctx context.Context, text <-chan string) error {
	if !c.canSpeak() {
		return fmt.Errorf("%w: speech is not configured", ErrNotReady)
	}
	job := speechJob{ctx: ctx, text: text, done: make(chan error, 1)}
	select {
	case c.speech <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// announce queues a status line without waiting. It is dropped when the
// queue is full or speech is not configured.
func (c *Console) announce(text string) {
	if !c.canSpeak() || text == "" || text == config.SilentGreeting {
		return
	}
	job := speechJob{ctx: c.baseContext(), text: tts.Text(text), done: make(chan error, 1)}
	select {
	case c.speech <- job:
	default:
		c.log.Debug("speech queue full, dropping announcement", "text", text)
	}
}

func (c *Console) speakLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.speech:
			err := c.play(job.ctx, job.text)
			if err != nil && job.ctx.Err() == nil {
				c.log.Warn("speech playback failed", "err", err)
			}
			job.done <- err
		}
	}
}

func (c *Console) play(ctx context.Context, text <-chan string) error {
	ctx, span := observe.StartSpan(ctx, "console.speak")
	start := time.Now()
	provider := c.cfg.Providers.TTS.Name

	pcm, err := c.providers.TTS.SynthesizeStream(ctx, text, tts.Voice{ID: c.cfg.Speech.VoiceID, Provider: provider})
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, provider, "tts", "error")
		c.metrics.RecordProviderError(ctx, provider, "tts")
		observe.EndSpan(span, err)
		return fmt.Errorf("console: synthesize: %w", err)
	}
	err = c.providers.Player.Play(ctx, pcm)
	c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		err = fmt.Errorf("console: play: %w", err)
	}
	c.metrics.RecordProviderRequest(ctx, provider, "tts", status)
	observe.EndSpan(span, err)
	return err
}

// ---- ai ----

func (c *Console) aiAction(ctx context.Context, res dispatch.Result) error {
	if c.providers.LLM == nil {
		return fmt.Errorf("%w: no language model configured", ErrNotReady)
	}
	prompt := strings.TrimSpace(res.Response)
	if prompt == "" {
		return errors.New("console: ai: empty prompt")
	}
	req := llm.CompletionRequest{
		SystemPrompt: c.cfg.AI.SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  c.cfg.AI.Temperature,
		MaxTokens:    c.cfg.AI.MaxTokens,
	}
	if c.cfg.AI.Reply == config.ReplyChat {
		return c.askAndChat(ctx, req)
	}
	return c.askAndSpeak(ctx, req)
}

func (c *Console) askAndChat(ctx context.Context, req llm.CompletionRequest) error {
	start := time.Now()
	resp, err := c.providers.LLM.Complete(ctx, req)
	c.recordLLM(ctx, start, err)
	if err != nil {
		return fmt.Errorf("console: ai: %w", err)
	}
	return c.sendChat(ctx, resp.Content)
}

// askAndSpeak streams the completion straight into the speech queue so
// playback starts before the model has finished.
func (c *Console) askAndSpeak(parent context.Context, req llm.CompletionRequest) error {
	if !c.canSpeak() {
		return fmt.Errorf("%w: speech is not configured", ErrNotReady)
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	start := time.Now()
	chunks, err := c.providers.LLM.StreamCompletion(ctx, req)
	if err != nil {
		c.recordLLM(ctx, start, err)
		return fmt.Errorf("console: ai: %w", err)
	}

	text := make(chan string)
	streamErr := make(chan error, 1)
	go func() {
		defer close(text)
		var err error
		for chunk := range chunks {
			if chunk.FinishReason == llm.FinishReasonError {
				err = errors.New("completion stream failed")
			}
			if chunk.Text == "" {
				continue
			}
			select {
			case text <- chunk.Text:
			case <-ctx.Done():
				streamErr <- ctx.Err()
				return
			}
		}
		streamErr <- err
	}()

	sayErr := c.say(ctx, text)
	cancel()
	err = <-streamErr
	if perr := parent.Err(); perr != nil {
		c.recordLLM(parent, start, perr)
		return perr
	}
	c.recordLLM(parent, start, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("console: ai: %w", err)
	}
	return sayErr
}

func (c *Console) recordLLM(ctx context.Context, start time.Time, err error) {
	provider := c.cfg.Providers.LLM.Name
	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordProviderError(ctx, provider, "llm")
	}
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.RecordProviderRequest(ctx, provider, "llm", status)
}
