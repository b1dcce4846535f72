package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/castvox/internal/config"
	"github.com/MrWong99/castvox/internal/console"
	"github.com/MrWong99/castvox/internal/dispatch"
	"github.com/MrWong99/castvox/internal/health"
	"github.com/MrWong99/castvox/internal/observe"
	"github.com/MrWong99/castvox/internal/resilience"
	"github.com/MrWong99/castvox/internal/transcript"
	"github.com/MrWong99/castvox/pkg/ircrelay"
	"github.com/MrWong99/castvox/pkg/obsws"
	"github.com/MrWong99/castvox/pkg/provider/llm"
	"github.com/MrWong99/castvox/pkg/provider/llm/anyllm"
	"github.com/MrWong99/castvox/pkg/provider/tts"
	"github.com/MrWong99/castvox/pkg/provider/tts/elevenlabs"
)

const shutdownTimeout = 15 * time.Second

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the compositor and relay and process utterances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("castvox starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "castvox",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	// ── Rules ─────────────────────────────────────────────────────────────────
	engine := dispatch.New(dispatch.WithLogger(logger), dispatch.WithMetrics(metrics))
	if err := engine.Load(ctx, cfg.Rules.Path); err != nil {
		return err
	}

	// ── Protocol clients ──────────────────────────────────────────────────────
	comp := obsws.New(
		obsws.WithPassword(cfg.Compositor.Password),
		obsws.WithLogger(logger.With("client", "compositor")),
	)
	var opts []console.Option
	opts = append(opts,
		console.WithLogger(logger),
		console.WithMetrics(metrics),
		console.WithCompositorDialer(func(ctx context.Context) error {
			return comp.Connect(ctx, cfg.Compositor.Address)
		}),
	)

	var relay console.Relay
	var relayClient *ircrelay.Client
	if cfg.Relay.Enabled() {
		relayOpts := []ircrelay.Option{ircrelay.WithLogger(logger.With("client", "relay"))}
		if cfg.Relay.Address != "" {
			relayOpts = append(relayOpts, ircrelay.WithAddress(cfg.Relay.Address))
		}
		relayClient = ircrelay.New(relayOpts...)
		relay = relayClient
		chat := ircrelay.ChatSession{
			Nickname:  cfg.Relay.Nickname,
			Realname:  cfg.Relay.Realname,
			Hostname:  cfg.Relay.Hostname,
			AuthToken: cfg.Relay.Token,
		}
		opts = append(opts, console.WithRelayDialer(func(ctx context.Context) error {
			return relayClient.Connect(ctx, chat)
		}))
	}

	cons := console.New(cfg, engine, comp, relay, *providers, opts...)

	printStartupSummary(cfg, engine.Len())

	// ── Run ───────────────────────────────────────────────────────────────────
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return cons.Run(ctx) })

	if cfg.Rules.ReloadInterval > 0 {
		w := dispatch.NewWatcher(engine, cfg.Rules.Path, dispatch.WithInterval(cfg.Rules.ReloadInterval))
		g.Go(func() error { return w.Run(ctx) })
	}

	if cfg.Transcript.Stdin {
		// Not part of the group: a blocked stdin read cannot be interrupted
		// and must not hold up shutdown.
		src := transcript.NewLineSource("stdin", os.Stdin)
		go func() {
			if err := src.Run(ctx, cons); err != nil {
				slog.Error("stdin transcript source stopped", "err", err)
			}
		}()
	}

	if cfg.Server.ListenAddr != "" {
		var utterances *transcript.Handler
		if cfg.Transcript.HTTP {
			utterances = transcript.NewHandler(cons)
		}
		srv := newServer(cfg, cons, utterances, telemetry, metrics)
		g.Go(func() error {
			slog.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if utterances != nil {
				if err := utterances.Wait(shutdownCtx); err != nil {
					slog.Warn("utterances still in flight at shutdown", "err", err)
				}
			}
			return nil
		})
	}

	slog.Info("console ready, press Ctrl+C to shut down")
	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping")
	if cerr := comp.Close(); cerr != nil {
		slog.Warn("compositor close error", "err", cerr)
	}
	if relayClient != nil {
		if cerr := relayClient.Close(); cerr != nil {
			slog.Warn("relay close error", "err", cerr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// newServer builds the HTTP server. utterances is nil when POST /utterance
// is disabled.
func newServer(cfg *config.Config, cons *console.Console, utterances *transcript.Handler, telemetry *observe.Provider, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	health.New(cons.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", telemetry.Handler)
	if utterances != nil {
		utterances.Register(mux)
	}
	handler := observe.Middleware(metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics"))(mux)
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in provider factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm backend takes an optional API key and base URL. Ollama
	// needs neither and defaults to the local server.
	for _, backend := range anyllm.Backends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(backend, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		stability, okS := optFloat(entry.Options, "stability")
		similarity, okB := optFloat(entry.Options, "similarity_boost")
		if okS || okB {
			vs := elevenlabs.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
			if okS {
				vs.Stability = stability
			}
			if okB {
				vs.SimilarityBoost = similarity
			}
			opts = append(opts, elevenlabs.WithVoiceSettings(vs))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, kind := range []string{config.KindLLM, config.KindTTS} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the configured providers, wraps them in
// circuit-breaker fallback groups and creates the audio player.
func buildProviders(cfg *config.Config, reg *config.Registry) (*console.Providers, error) {
	ps := &console.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		primary, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name)
		if len(cfg.Providers.LLMFallbacks) == 0 {
			ps.LLM = primary
		} else {
			group := resilience.NewLLMFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.LLMFallbacks {
				p, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, p)
				slog.Info("fallback provider created", "kind", "llm", "name", entry.Name)
			}
			ps.LLM = group
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		primary, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", name)
		if len(cfg.Providers.TTSFallbacks) == 0 {
			ps.TTS = primary
		} else {
			group := resilience.NewTTSFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.TTSFallbacks {
				p, err := reg.CreateTTS(entry)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, p)
				slog.Info("fallback provider created", "kind", "tts", "name", entry.Name)
			}
			ps.TTS = group
		}

		player, err := tts.NewCommandPlayer(cfg.Speech.Player...)
		if err != nil {
			return nil, err
		}
		ps.Player = player
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, rules int) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        castvox startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Compositor", cfg.Compositor.Address)
	if cfg.Relay.Enabled() {
		printRow("Chat channel", cfg.Relay.Channel)
	} else {
		printRow("Chat channel", "(disabled)")
	}
	printRow("Rules", fmt.Sprintf("%d loaded", rules))
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML integers are
// accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
