package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CASTVOX_OBS_PASSWORD.
const EnvPrefix = "CASTVOX_"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays the process
// environment, fills defaults and validates the result. An empty document is
// a valid (all-default) config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays CASTVOX_* variables onto cfg. Unset variables leave the
// file value alone. When environ is nil the process environment is used;
// tests pass an explicit map.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Compositor.Address == "" {
		cfg.Compositor.Address = DefaultCompositorAddr
	}
	if cfg.Compositor.PrivacyScene == "" {
		cfg.Compositor.PrivacyScene = DefaultPrivacyScene
	}
	if cfg.Compositor.PrivacySource == "" {
		cfg.Compositor.PrivacySource = DefaultPrivacySource
	}
	if cfg.Relay.Nickname == "" {
		cfg.Relay.Nickname = strings.TrimPrefix(cfg.Relay.Channel, "#")
	}
	if cfg.Relay.Channel != "" && !strings.HasPrefix(cfg.Relay.Channel, "#") {
		cfg.Relay.Channel = "#" + cfg.Relay.Channel
	}
	if cfg.Rules.Path == "" {
		cfg.Rules.Path = DefaultRulesPath
	}
	if cfg.Speech.Greeting == "" {
		cfg.Speech.Greeting = DefaultGreeting
	}
	if cfg.AI.SystemPrompt == "" {
		cfg.AI.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.AI.Reply == "" {
		cfg.AI.Reply = ReplySpeak
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Connections
	if err := validateWebSocketURL(cfg.Compositor.Address); err != nil {
		errs = append(errs, fmt.Errorf("compositor.address: %w", err))
	}
	if cfg.Relay.Address != "" {
		if err := validateWebSocketURL(cfg.Relay.Address); err != nil {
			errs = append(errs, fmt.Errorf("relay.address: %w", err))
		}
	}
	if cfg.Relay.Token != "" && !cfg.Relay.Enabled() {
		errs = append(errs, errors.New("relay.token is set but relay.channel is empty"))
	}
	for i, c := range cfg.Relay.Capabilities {
		if strings.TrimSpace(c) == "" || strings.ContainsAny(c, " \r\n") {
			errs = append(errs, fmt.Errorf("relay.capabilities[%d] %q is not a single token", i, c))
		}
	}

	// Rules
	if strings.TrimSpace(cfg.Rules.Path) == "" {
		errs = append(errs, errors.New("rules.path is required"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}

	// Speech
	if cfg.Providers.TTS.Name != "" {
		if cfg.Speech.VoiceID == "" {
			errs = append(errs, errors.New("speech.voice_id is required when providers.tts is configured"))
		}
		if len(cfg.Speech.Player) == 0 {
			errs = append(errs, errors.New("speech.player is required when providers.tts is configured"))
		}
	}

	// AI
	if cfg.AI.Reply != "" && !cfg.AI.Reply.IsValid() {
		errs = append(errs, fmt.Errorf("ai.reply %q is invalid; valid values: speak, chat", cfg.AI.Reply))
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("ai.temperature %.2f is out of range [0, 2]", cfg.AI.Temperature))
	}
	if cfg.AI.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("ai.max_tokens %d must not be negative", cfg.AI.MaxTokens))
	}
	if cfg.Providers.LLM.Name != "" {
		switch {
		case cfg.AI.Reply == ReplySpeak && cfg.Providers.TTS.Name == "":
			slog.Warn("ai.reply is speak but providers.tts is not configured; ai answers will be dropped")
		case cfg.AI.Reply == ReplyChat && !cfg.Relay.Enabled():
			slog.Warn("ai.reply is chat but relay.channel is empty; ai answers will be dropped")
		}
	}

	// Transcript
	if cfg.Transcript.HTTP && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("transcript.http requires server.listen_addr"))
	}
	if !cfg.Transcript.Stdin && !cfg.Transcript.HTTP {
		slog.Warn("no transcript source enabled; only rule reloads and compositor events will be processed")
	}

	return errors.Join(errs...)
}

func validateWebSocketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%q must use the ws or wss scheme", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
