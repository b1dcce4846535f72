// Package config provides the configuration schema, loader, and provider registry
// for the castvox stream console.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Reply selects where the ai action delivers the model's answer.
type Reply string

const (
	// ReplySpeak synthesises the answer through the TTS provider.
	ReplySpeak Reply = "speak"

	// ReplyChat posts the answer to the relay channel.
	ReplyChat Reply = "chat"
)

// IsValid reports whether r is a recognised reply mode.
func (r Reply) IsValid() bool {
	return r == ReplySpeak || r == ReplyChat
}

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultCompositorAddr = "ws://localhost:4455"
	DefaultRulesPath      = "commands.json"
	DefaultReloadInterval = 5 * time.Second
	DefaultPrivacyScene   = "Screens"
	DefaultPrivacySource  = "Privacy"
	DefaultGreeting       = "Authenticated and ready to go."
	DefaultSystemPrompt   = "You are a helpful co-host on a live stream. Answer in one or two short sentences."
)

// SilentGreeting disables the startup greeting.
const SilentGreeting = "-"

// Config is the root configuration structure for castvox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
//
// Fields carrying an env tag may be overridden from the environment with the
// CASTVOX_ prefix, e.g. CASTVOX_OBS_PASSWORD or CASTVOX_TWITCH_TOKEN.
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Compositor CompositorConfig `yaml:"compositor" envPrefix:"OBS_"`
	Relay      RelayConfig      `yaml:"relay" envPrefix:"TWITCH_"`
	Rules      RulesConfig      `yaml:"rules" envPrefix:"RULES_"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Speech     SpeechConfig     `yaml:"speech"`
	AI         AIConfig         `yaml:"ai"`
}

// ServerConfig holds HTTP and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health/metrics/utterance server
	// (e.g. ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL"`
}

// CompositorConfig configures the OBS WebSocket connection.
type CompositorConfig struct {
	// Address is the ws:// or wss:// URL of the compositor.
	Address string `yaml:"address" env:"ADDRESS"`

	// Password answers the authentication challenge, if the compositor sends one.
	Password string `yaml:"password" env:"PASSWORD"`

	// Reconnect redials with exponential backoff after the socket closes.
	Reconnect bool `yaml:"reconnect"`

	// Captions sends utterances that match no rule as stream captions.
	Captions bool `yaml:"captions"`

	// PrivacyScene and PrivacySource name the scene item whose id is
	// resolved at startup and exposed to rules as $privacySource.
	PrivacyScene  string `yaml:"privacy_scene"`
	PrivacySource string `yaml:"privacy_source"`
}

// RelayConfig configures the chat relay connection.
type RelayConfig struct {
	// Address is the relay WebSocket URL. Empty uses the Twitch endpoint.
	Address string `yaml:"address" env:"ADDRESS"`

	Nickname string `yaml:"nickname" env:"NICKNAME"`
	Realname string `yaml:"realname"`
	Hostname string `yaml:"hostname"`

	// Token is sent as PASS (e.g. "oauth:abc..."). Leave empty for anonymous
	// read-only sessions.
	Token string `yaml:"token" env:"TOKEN"`

	// Channel is joined once the relay registers; chat replies go here.
	Channel string `yaml:"channel" env:"CHANNEL"`

	// Capabilities are requested with CAP REQ before joining.
	Capabilities []string `yaml:"capabilities"`

	Reconnect bool `yaml:"reconnect"`
}

// Enabled reports whether the relay should be connected at all.
func (r RelayConfig) Enabled() bool { return r.Channel != "" }

// RulesConfig locates the command rule document.
type RulesConfig struct {
	// Path is a local file or an http(s) URL holding a {commands: [...]} document.
	Path string `yaml:"path" env:"PATH"`

	// ReloadInterval is how often the source is polled for changes. Zero or
	// negative disables hot reload.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// TranscriptConfig enables utterance sources.
type TranscriptConfig struct {
	// Stdin reads one utterance per line from standard input.
	Stdin bool `yaml:"stdin"`

	// HTTP enables POST /utterance on the server's listen address.
	HTTP bool `yaml:"http"`
}

// ProvidersConfig declares which provider implementation backs each
// collaborator. Each entry selects a named provider registered in the [Registry].
// Fallback entries are tried in order when the primary's circuit breaker is open.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm" envPrefix:"LLM_"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts" envPrefix:"TTS_"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ollama", "elevenlabs").
	Name string `yaml:"name" env:"NAME"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// Model selects a specific model within the provider (e.g., "llama3.2").
	Model string `yaml:"model" env:"MODEL"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// SpeechConfig controls the speak action.
type SpeechConfig struct {
	// Player is the command line that receives synthesised PCM on stdin,
	// e.g. ["ffplay", "-nodisp", "-autoexit", "-f", "s16le", "-ar", "16000", "-"].
	Player []string `yaml:"player"`

	// VoiceID is the provider voice used for every utterance.
	VoiceID string `yaml:"voice_id" env:"VOICE_ID"`

	// Greeting is spoken once the compositor authenticates. Set to
	// [SilentGreeting] to stay silent.
	Greeting string `yaml:"greeting"`
}

// AIConfig controls the ai action.
type AIConfig struct {
	SystemPrompt string  `yaml:"system_prompt"`
	Reply        Reply   `yaml:"reply"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}
