// Package console is the castvox orchestrator. It owns the session state
// derived from compositor and relay events, routes dispatch results to
// per-action handlers, and keeps both protocol connections alive.
//
// Flow:
//
//	utterance → dispatch.Engine.Parse → action handler → compositor | relay | speech | model
//
// Protocol events are handled synchronously on the client read goroutines.
// Speech is serialised through a single queue so overlapping speak and ai
// actions never talk over each other; every other action runs on the caller's
// goroutine.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/castvox/internal/config"
	"github.com/MrWong99/castvox/internal/dispatch"
	"github.com/MrWong99/castvox/internal/observe"
	"github.com/MrWong99/castvox/internal/session"
	"github.com/MrWong99/castvox/internal/transcript"
	"github.com/MrWong99/castvox/internal/transcript/phonetic"
	"github.com/MrWong99/castvox/pkg/eventbus"
	"github.com/MrWong99/castvox/pkg/ircrelay"
	"github.com/MrWong99/castvox/pkg/obsws"
	"github.com/MrWong99/castvox/pkg/provider/llm"
	"github.com/MrWong99/castvox/pkg/provider/tts"
)

var (
	// ErrUnknownAction is returned when a matched rule names an action with
	// no registered handler.
	ErrUnknownAction = errors.New("console: unknown action")

	// ErrUnknownCommand is returned when an obs rule names a command outside
	// the compositor method table.
	ErrUnknownCommand = errors.New("console: unknown command")

	// ErrNotReady is returned when an action needs a collaborator that is not
	// configured or not connected.
	ErrNotReady = errors.New("console: collaborator not ready")
)

// Client names used in logs and metrics.
const (
	clientCompositor = "compositor"
	clientRelay      = "relay"
)

const speechQueueSize = 8

// Compositor is the subset of [obsws.Client] the console drives.
type Compositor interface {
	On(event string, fn eventbus.Handler) eventbus.Subscription
	State() obsws.State
	SetCurrentProgramSceneByName(ctx context.Context, name string) error
	SetCurrentProgramSceneByUUID(ctx context.Context, uuid string) error
	SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error
	GetSceneList(ctx context.Context) error
	GetSceneItemListByName(ctx context.Context, sceneName string) error
	GetSceneItemListByUUID(ctx context.Context, sceneUUID string) error
	GetSceneItemID(ctx context.Context, sceneName, sourceName string) error
	SendStreamCaption(ctx context.Context, caption string) error
}

// Relay is the subset of [ircrelay.Client] the console drives.
type Relay interface {
	On(event string, fn eventbus.Handler) eventbus.Subscription
	Connected() bool
	SendChannelMessage(ctx context.Context, channel, message string)
	RequestCapability(ctx context.Context, capability string)
	Join(ctx context.Context, channel string)
}

var (
	_ Compositor = (*obsws.Client)(nil)
	_ Relay      = (*ircrelay.Client)(nil)
)

// Providers holds the optional collaborators. A nil field disables the
// actions that need it.
type Providers struct {
	LLM    llm.Provider
	TTS    tts.Provider
	Player tts.Player
}

// ActionFunc handles one dispatch result.
type ActionFunc func(ctx context.Context, res dispatch.Result) error

// Option is a functional option for [New].
type Option func(*Console)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Console) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Console) { c.metrics = m }
}

// WithSnapper replaces the scene name snapper.
func WithSnapper(s *phonetic.Snapper) Option {
	return func(c *Console) { c.snapper = s }
}

// WithCompositorDialer sets how [Console.Run] opens the compositor
// connection. Without it Run assumes the caller manages the connection.
func WithCompositorDialer(dial session.DialFunc) Option {
	return func(c *Console) { c.dialCompositor = dial }
}

// WithRelayDialer sets how the relay is connected once the compositor
// authenticates.
func WithRelayDialer(dial session.DialFunc) Option {
	return func(c *Console) { c.dialRelay = dial }
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(initial, maximum time.Duration) Option {
	return func(c *Console) {
		c.backoff, c.maxBackoff = initial, maximum
	}
}

// Console routes utterances and protocol events. Create it with [New] and
// start it with [Console.Run].
type Console struct {
	cfg       *config.Config
	engine    *dispatch.Engine
	comp      Compositor
	relay     Relay
	providers Providers
	snapper   *phonetic.Snapper
	log       *slog.Logger
	metrics   *observe.Metrics

	state   Session
	actions map[dispatch.Action]ActionFunc
	obs     map[string]ActionFunc

	dialCompositor session.DialFunc
	dialRelay      session.DialFunc
	backoff        time.Duration
	maxBackoff     time.Duration

	speech     chan speechJob
	relayStart chan struct{}
	relayOnce  sync.Once

	mu       sync.Mutex
	baseCtx  context.Context
	compRC   *session.Reconnector
	relayRC  *session.Reconnector
	rejected map[string]bool
}

var _ transcript.Sink = (*Console)(nil)

// New creates a [Console] and subscribes it to both clients' events. relay
// may be nil when no chat channel is configured.
func New(cfg *config.Config, engine *dispatch.Engine, comp Compositor, relay Relay, providers Providers, opts ...Option) *Console {
	c := &Console{
		cfg:        cfg,
		engine:     engine,
		comp:       comp,
		relay:      relay,
		providers:  providers,
		snapper:    phonetic.New(),
		log:        slog.Default(),
		speech:     make(chan speechJob, speechQueueSize),
		relayStart: make(chan struct{}),
		baseCtx:    context.Background(),
		rejected:   make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.log = c.log.With("component", "console")

	c.actions = map[dispatch.Action]ActionFunc{
		dispatch.ActionOBS:   c.obsAction,
		dispatch.ActionChat:  c.chatAction,
		dispatch.ActionSpeak: c.speakAction,
		dispatch.ActionAI:    c.aiAction,
	}
	c.obs = c.compositorMethods()

	c.subscribeCompositor()
	if relay != nil {
		c.subscribeRelay()
	}
	return c
}

// Handle registers fn for action, replacing any previous handler. Handlers
// must be registered before [Console.Run].
func (c *Console) Handle(action dispatch.Action, fn ActionFunc) {
	c.actions[action] = fn
}

// Session returns a snapshot of the live session state.
func (c *Console) Session() SessionState {
	return c.state.Snapshot()
}

// Run connects the compositor, starts the relay once the compositor
// authenticates, and serves the speech queue until ctx is cancelled. It
// returns an error only when the first compositor dial fails and reconnect
// is disabled.
func (c *Console) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	if c.dialCompositor != nil {
		rc := c.reconnector(clientCompositor, c.dialCompositor)
		c.mu.Lock()
		c.compRC = rc
		c.mu.Unlock()

		if err := rc.Connect(ctx); err != nil {
			if !c.cfg.Compositor.Reconnect {
				return fmt.Errorf("console: %w", err)
			}
			c.log.Warn("compositor unreachable, retrying in background", "err", err)
			rc.NotifyDisconnect()
		}
		if c.cfg.Compositor.Reconnect {
			g.Go(func() error { return rc.Run(ctx) })
		}
	}

	if c.relay != nil && c.dialRelay != nil && c.cfg.Relay.Enabled() {
		g.Go(func() error { return c.runRelay(ctx) })
	}

	g.Go(func() error {
		c.speakLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (c *Console) runRelay(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.relayStart:
	}

	rc := c.reconnector(clientRelay, c.dialRelay)
	c.mu.Lock()
	c.relayRC = rc
	c.mu.Unlock()

	if err := rc.Connect(ctx); err != nil {
		if !c.cfg.Relay.Reconnect {
			// A dead relay is a steady state, not a reason to stop.
			c.log.Error("relay connect failed", "err", err)
			return nil
		}
		c.log.Warn("relay unreachable, retrying in background", "err", err)
		rc.NotifyDisconnect()
	}
	if !c.cfg.Relay.Reconnect {
		return nil
	}
	return rc.Run(ctx)
}

func (c *Console) reconnector(name string, dial session.DialFunc) *session.Reconnector {
	return session.NewReconnector(session.ReconnectorConfig{
		Name:               name,
		Dial:               dial,
		Backoff:            c.backoff,
		MaxBackoff:         c.maxBackoff,
		RequireEstablished: true,
		Logger:             c.log,
		OnAttempt: func(attempt int, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			c.metrics.RecordReconnect(c.baseContext(), name, status)
		},
		OnGiveUp: func(err error) {
			c.metrics.RecordReconnect(c.baseContext(), name, "gave_up")
		},
	})
}

// baseContext returns the context event handlers issue requests under.
func (c *Console) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCtx
}

func (c *Console) reconnectorFor(client string) *session.Reconnector {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client == clientRelay {
		return c.relayRC
	}
	return c.compRC
}

// established resets client's reconnect backoff once its session handshake
// completed.
func (c *Console) established(client string) {
	if rc := c.reconnectorFor(client); rc != nil {
		rc.Established()
	}
}

// reject marks client's credentials as refused. A rejected client is not
// redialled until the process restarts.
func (c *Console) reject(client string) {
	c.mu.Lock()
	c.rejected[client] = true
	c.mu.Unlock()
}

// disconnected schedules a redial of client when reconnect is enabled. A
// client whose credentials were refused stays down.
func (c *Console) disconnected(client string, reconnect bool) {
	c.mu.Lock()
	rejected := c.rejected[client]
	c.mu.Unlock()
	if !reconnect || rejected || c.baseContext().Err() != nil {
		return
	}
	if rc := c.reconnectorFor(client); rc != nil {
		rc.NotifyDisconnect()
	}
}

// ---- utterances ----

// HandleUtterance parses u and routes the result. Misses are sent as stream
// captions when compositor.captions is enabled. Errors are logged and
// recorded, never returned.
func (c *Console) HandleUtterance(ctx context.Context, u transcript.Utterance) {
	_ = observe.Traced(ctx, "console.utterance", func(ctx context.Context) error {
		err := c.dispatch(ctx, u)
		if err != nil {
			observe.Logger(ctx).Warn("utterance not handled", "utterance_id", u.ID, "text", u.Text, "err", err)
		}
		return err
	}, trace.WithAttributes(
		attribute.String("utterance.id", u.ID),
		attribute.String("utterance.source", u.Source),
	))
}

func (c *Console) dispatch(ctx context.Context, u transcript.Utterance) error {
	res, ok := c.engine.Parse(u.Text, c.placeholders()...)
	if !ok {
		c.metrics.RecordDispatch(ctx, observe.OutcomeMiss, "")
		if !c.cfg.Compositor.Captions {
			return nil
		}
		if !c.state.Snapshot().CompositorReady {
			return nil
		}
		return c.comp.SendStreamCaption(ctx, u.Text)
	}
	c.metrics.RecordDispatch(ctx, observe.OutcomeMatch, string(res.Action))
	observe.Logger(ctx).Debug("utterance matched",
		"utterance_id", u.ID,
		"rule", res.Rule,
		"action", res.Action,
		"command", res.Command,
	)
	return c.Route(ctx, res)
}

// Route runs the handler registered for res.Action.
func (c *Console) Route(ctx context.Context, res dispatch.Result) (err error) {
	ctx, span := observe.StartSpan(ctx, "console.action",
		trace.WithAttributes(
			attribute.String("action", string(res.Action)),
			attribute.String("command", res.Command),
		),
	)
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordAction(ctx, string(res.Action), status, time.Since(start).Seconds())
		observe.EndSpan(span, err)
	}()

	fn, ok := c.actions[res.Action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, res.Action)
	}
	return fn(ctx, res)
}

// Placeholder names injected into every parse. Longer names sharing a prefix
// come first so $lastSceneUuid is not consumed by $lastScene.
const (
	PlaceholderPrivacySource = "$privacySource"
	PlaceholderPrivacyScene  = "$privacyScene"
	PlaceholderLastSceneUUID = "$lastSceneUuid"
	PlaceholderLastScene     = "$lastScene"
	PlaceholderCurrentScene  = "$currentScene"
	PlaceholderTrue          = "$true"
	PlaceholderFalse         = "$false"
	PlaceholderChannel       = "$channel"
)

func (c *Console) placeholders() []dispatch.Placeholder {
	st := c.state.Snapshot()
	var privacy any = ""
	if st.PrivacyResolved {
		privacy = st.PrivacySourceID
	}
	return dispatch.Placeholders(
		[]string{
			PlaceholderPrivacySource,
			PlaceholderPrivacyScene,
			PlaceholderLastSceneUUID,
			PlaceholderLastScene,
			PlaceholderCurrentScene,
			PlaceholderTrue,
			PlaceholderFalse,
			PlaceholderChannel,
		},
		[]any{
			privacy,
			c.cfg.Compositor.PrivacyScene,
			st.Previous.UUID,
			st.Previous.Name,
			st.Current.Name,
			true,
			false,
			c.cfg.Relay.Channel,
		},
	)
}

// ---- protocol events ----

func subscribe[T any](log *slog.Logger, src interface {
	On(string, eventbus.Handler) eventbus.Subscription
}, event string, fn func(T)) {
	src.On(event, func(payload any) {
		v, ok := payload.(T)
		if !ok {
			log.Warn("unexpected event payload", "event", event, "type", fmt.Sprintf("%T", payload))
			return
		}
		fn(v)
	})
}

var compositorEvents = []string{
	obsws.EventOpen, obsws.EventClose, obsws.EventError, obsws.EventAuthRequired,
	obsws.EventAuthenticated, obsws.EventAuthFailed, obsws.EventSceneList,
	obsws.EventSceneItemList, obsws.EventSceneItemID, obsws.EventRequestFailed,
	obsws.EventSceneSwitched, obsws.EventSceneItemEnabled, obsws.EventMessage,
}

var relayEvents = []string{
	ircrelay.EventConnected, ircrelay.EventRegistered, ircrelay.EventPing,
	ircrelay.EventRaw, ircrelay.EventMessage, ircrelay.EventJoin, ircrelay.EventPart,
	ircrelay.EventNotice, ircrelay.EventError, ircrelay.EventClose,
}

func (c *Console) subscribeCompositor() {
	log := c.log.With("client", clientCompositor)
	for _, ev := range compositorEvents {
		c.comp.On(ev, func(any) { c.metrics.RecordProtocolEvent(c.baseContext(), clientCompositor, ev) })
	}

	subscribe(log, c.comp, obsws.EventOpen, func(addr string) {
		c.metrics.RecordConnection(c.baseContext(), clientCompositor, 1)
		log.Info("compositor connected", "address", addr)
	})
	subscribe(log, c.comp, obsws.EventAuthRequired, func(obsws.AuthChallenge) {
		if c.cfg.Compositor.Password == "" {
			log.Warn("compositor requires authentication but compositor.password is empty")
		}
	})
	subscribe(log, c.comp, obsws.EventAuthenticated, c.onAuthenticated)
	subscribe(log, c.comp, obsws.EventAuthFailed, func(err *obsws.AuthError) {
		c.reject(clientCompositor)
		log.Error("compositor rejected authentication, not reconnecting; check compositor.password", "err", err)
	})
	subscribe(log, c.comp, obsws.EventSceneList, c.onSceneList)
	subscribe(log, c.comp, obsws.EventSceneItemID, c.onSceneItemID)
	subscribe(log, c.comp, obsws.EventSceneSwitched, func(ev obsws.SceneSwitched) {
		c.state.switchTo(Scene{Name: ev.SceneName, UUID: ev.SceneUUID})
		log.Debug("program scene switched", "scene", ev.SceneName)
	})
	subscribe(log, c.comp, obsws.EventSceneItemList, func(ev obsws.SceneItemList) {
		log.Debug("scene item list", "scene", ev.SceneName, "scene_uuid", ev.SceneUUID, "items", len(ev.SceneItems))
	})
	subscribe(log, c.comp, obsws.EventRequestFailed, func(err *obsws.RequestError) {
		log.Warn("compositor request failed", "request_type", err.RequestType, "err", err)
	})
	subscribe(log, c.comp, obsws.EventError, func(err *obsws.TransportError) {
		log.Warn("compositor transport error", "err", err)
	})
	subscribe(log, c.comp, obsws.EventClose, func(ev obsws.CloseEvent) {
		c.state.setCompositorReady(false)
		c.metrics.RecordConnection(c.baseContext(), clientCompositor, -1)
		log.Info("compositor closed", "code", ev.Code, "reason", ev.Reason, "abandoned", ev.Abandoned)
		c.disconnected(clientCompositor, c.cfg.Compositor.Reconnect)
	})
}

func (c *Console) onAuthenticated(ev obsws.Identified) {
	ctx := c.baseContext()
	c.state.setCompositorReady(true)
	c.established(clientCompositor)
	c.log.Info("compositor authenticated", "rpc_version", ev.NegotiatedRPCVersion)

	if err := c.comp.GetSceneList(ctx); err != nil {
		c.log.Warn("scene list request failed", "err", err)
	}
	c.relayOnce.Do(func() { close(c.relayStart) })
	c.announce(c.cfg.Speech.Greeting)
}

func (c *Console) onSceneList(list obsws.SceneList) {
	c.state.applySceneList(list)
	st := c.state.Snapshot()
	c.log.Info("scene list received", "scenes", len(st.Scenes), "program", st.Current.Name)

	scene, source := c.cfg.Compositor.PrivacyScene, c.cfg.Compositor.PrivacySource
	if scene == "" || source == "" {
		return
	}
	if err := c.comp.GetSceneItemID(c.baseContext(), scene, source); err != nil {
		c.log.Warn("privacy source lookup failed", "scene", scene, "source", source, "err", err)
	}
}

func (c *Console) onSceneItemID(ev obsws.SceneItemID) {
	if ev.SceneName != c.cfg.Compositor.PrivacyScene || ev.SourceName != c.cfg.Compositor.PrivacySource {
		return
	}
	c.state.setPrivacySource(ev.SceneItemID)
	c.log.Info("privacy source resolved", "scene", ev.SceneName, "source", ev.SourceName, "scene_item_id", ev.SceneItemID)
}

func (c *Console) subscribeRelay() {
	log := c.log.With("client", clientRelay)
	for _, ev := range relayEvents {
		c.relay.On(ev, func(any) { c.metrics.RecordProtocolEvent(c.baseContext(), clientRelay, ev) })
	}

	subscribe(log, c.relay, ircrelay.EventConnected, func(addr string) {
		c.metrics.RecordConnection(c.baseContext(), clientRelay, 1)
		log.Info("relay connected", "address", addr)
	})
	subscribe(log, c.relay, ircrelay.EventRegistered, func(ircrelay.Line) {
		ctx := c.baseContext()
		c.state.setRelayReady(true)
		c.established(clientRelay)
		for _, capability := range c.cfg.Relay.Capabilities {
			c.relay.RequestCapability(ctx, capability)
		}
		if ch := c.cfg.Relay.Channel; ch != "" {
			c.relay.Join(ctx, ch)
			c.announce("Connected to " + ch)
		}
	})
	subscribe(log, c.relay, ircrelay.EventMessage, func(m ircrelay.Message) {
		log.Debug("chat message", "nick", m.Nick, "channel", m.Channel, "message", m.Message)
	})
	subscribe(log, c.relay, ircrelay.EventJoin, func(m ircrelay.Membership) {
		log.Debug("joined", "nick", m.Nick, "channel", m.Channel)
	})
	subscribe(log, c.relay, ircrelay.EventNotice, func(n ircrelay.Notice) {
		if !c.state.Snapshot().RelayReady {
			// Twitch answers a bad PASS with a NOTICE before registration
			// and then drops the socket.
			c.reject(clientRelay)
			log.Error("relay rejected login, not reconnecting; check relay.token", "message", n.Message)
			return
		}
		log.Info("relay notice", "channel", n.Channel, "message", n.Message)
	})
	subscribe(log, c.relay, ircrelay.EventError, func(err *ircrelay.TransportError) {
		log.Warn("relay transport error", "err", err)
	})
	subscribe(log, c.relay, ircrelay.EventClose, func(ev ircrelay.CloseEvent) {
		c.state.setRelayReady(false)
		c.metrics.RecordConnection(c.baseContext(), clientRelay, -1)
		log.Info("relay closed", "code", ev.Code, "reason", ev.Reason)
		c.disconnected(clientRelay, c.cfg.Relay.Reconnect)
	})
}
