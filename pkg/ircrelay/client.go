// Package ircrelay implements a client for the line-oriented chat relay
// protocol (IRC framed over a WebSocket, as served by Twitch chat).
//
// On socket open the client emits [EventConnected] and then sends the
// identification sequence: PASS (only when a token is configured), NICK and
// USER, in that order. Each inbound frame is split into lines; every line is
// emitted as [EventData]. Keep-alive PING lines are answered with PONG before
// any parsing takes place. All other lines are matched against a single
// grammar (see [ParseLine]) and dispatched by command.
//
// Outbound commands are best-effort: a failed send is logged at warn level and
// never returned to the caller. There is no queueing, rate limiting or
// automatic reconnection.
package ircrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/castvox/pkg/eventbus"
)

// DefaultAddress is the Twitch chat relay endpoint.
const DefaultAddress = "wss://irc-ws.chat.twitch.tv:443"

// Event names emitted by [Client].
const (
	EventConnected  = "connected"  // payload: string (address)
	EventRegistered = "registered" // payload: Line (numeric 001)
	EventData       = "data"       // payload: string (one raw line)
	EventPing       = "ping"       // payload: string (echoed payload)
	EventRaw        = "raw"        // payload: string (unparseable line)
	EventMessage    = "message"    // payload: Message
	EventJoin       = "join"       // payload: Membership
	EventPart       = "part"       // payload: Membership
	EventNotice     = "notice"     // payload: Notice
	EventError      = "error"      // payload: *TransportError
	EventClose      = "close"      // payload: CloseEvent
)

// ChatSession carries the identity presented to the relay.
type ChatSession struct {
	Nickname string
	// Realname defaults to Nickname.
	Realname string
	// Hostname defaults to "<nickname>.tmi.twitch.tv".
	Hostname string
	// AuthToken is sent as PASS when non-blank (e.g. "oauth:abc...").
	AuthToken string
}

func (s ChatSession) withDefaults() ChatSession {
	if s.Realname == "" {
		s.Realname = s.Nickname
	}
	if s.Hostname == "" {
		s.Hostname = s.Nickname + ".tmi.twitch.tv"
	}
	return s
}

// Message is the payload of [EventMessage].
type Message struct {
	Nick    string
	Channel string
	Message string
	Tags    map[string]string
}

// Membership is the payload of [EventJoin] and [EventPart].
type Membership struct {
	Nick    string
	Channel string
}

// Notice is the payload of [EventNotice].
type Notice struct {
	Channel string
	Message string
	Tags    map[string]string
}

// CloseEvent is the payload of [EventClose].
type CloseEvent struct {
	// Code is the websocket close status, or -1 when the socket failed
	// without a close frame.
	Code   int
	Reason string
}

// TransportError reports a socket failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ircrelay: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// errNotConnected is logged when an outbound command is issued without a socket.
var errNotConnected = errors.New("ircrelay: not connected")

// Option configures a [Client].
type Option func(*Client)

// WithAddress overrides [DefaultAddress].
func WithAddress(address string) Option {
	return func(c *Client) {
		if address != "" {
			c.address = address
		}
	}
}

// WithLogger sets the logger. The default is slog.Default() scoped to the
// "ircrelay" component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client is a chat relay client. It owns at most one socket at a time.
type Client struct {
	*eventbus.Bus

	log     *slog.Logger
	address string

	mu      sync.Mutex
	conn    *websocket.Conn
	session ChatSession
}

// New returns a disconnected [Client].
func New(opts ...Option) *Client {
	c := &Client{
		log:     slog.Default().With("component", "ircrelay"),
		address: DefaultAddress,
	}
	for _, o := range opts {
		o(c)
	}
	c.Bus = eventbus.New(eventbus.WithLogger(c.log))
	return c
}

// Connected reports whether a socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Nick returns the nickname currently in use.
func (c *Client) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Nickname
}

// Connect dials the relay, emits [EventConnected], sends the identification
// sequence and starts reading lines in a background goroutine. ctx bounds the
// lifetime of the connection.
//
// A dial failure is emitted as [EventError] and also returned. A failure
// during the identification sequence aborts the remaining steps; the socket
// stays open and the read goroutine reports its eventual close.
func (c *Client) Connect(ctx context.Context, session ChatSession) error {
	session = session.withDefaults()

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("ircrelay: already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.address, nil)
	if err != nil {
		terr := &TransportError{Op: "dial", Err: err}
		c.log.Warn("connect failed", "address", c.address, "err", err)
		c.Emit(EventError, terr)
		return terr
	}

	c.mu.Lock()
	c.conn = conn
	c.session = session
	c.mu.Unlock()

	c.log.Info("connected", "address", c.address, "nick", session.Nickname)
	c.Emit(EventConnected, c.address)

	if err := c.identify(ctx, session); err != nil {
		c.log.Warn("identification aborted", "err", err)
	}

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) identify(ctx context.Context, s ChatSession) error {
	if strings.TrimSpace(s.AuthToken) != "" {
		if err := c.sendLine(ctx, "PASS "+s.AuthToken); err != nil {
			return fmt.Errorf("ircrelay: send PASS: %w", err)
		}
	}
	if err := c.sendLine(ctx, "NICK "+s.Nickname); err != nil {
		return fmt.Errorf("ircrelay: send NICK: %w", err)
	}
	if err := c.sendLine(ctx, fmt.Sprintf("USER %s %s * :%s", s.Nickname, s.Hostname, s.Realname)); err != nil {
		return fmt.Errorf("ircrelay: send USER: %w", err)
	}
	return nil
}

// Close closes the socket with a normal closure status.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closing")
}

// ---- outbound commands ----

// SetNick changes the nickname.
func (c *Client) SetNick(ctx context.Context, nick string) {
	c.mu.Lock()
	c.session.Nickname = nick
	c.mu.Unlock()
	c.send(ctx, "NICK "+nick)
}

// SendChannelMessage posts message to channel.
func (c *Client) SendChannelMessage(ctx context.Context, channel, message string) {
	c.send(ctx, fmt.Sprintf("PRIVMSG %s :%s", channel, message))
}

// RequestCapability requests one or more space-separated capabilities.
func (c *Client) RequestCapability(ctx context.Context, capability string) {
	c.send(ctx, "CAP REQ :"+capability)
}

// Join joins channel.
func (c *Client) Join(ctx context.Context, channel string) {
	c.log.Info("joining channel", "channel", channel)
	c.send(ctx, "JOIN "+channel)
}

// Part leaves channel.
func (c *Client) Part(ctx context.Context, channel string) {
	c.send(ctx, "PART "+channel)
}

// Ping sends a keep-alive probe carrying token.
func (c *Client) Ping(ctx context.Context, token string) {
	c.send(ctx, "PING :"+token)
}

// Pong answers a keep-alive probe.
func (c *Client) Pong(ctx context.Context, token string) {
	c.log.Debug("sending pong", "token", token)
	c.send(ctx, "PONG :"+token)
}

// Quit announces disconnection with an optional reason.
func (c *Client) Quit(ctx context.Context, reason string) {
	if reason == "" {
		c.send(ctx, "QUIT")
		return
	}
	c.send(ctx, "QUIT :"+reason)
}

// send is the best-effort wrapper used by every public command.
func (c *Client) send(ctx context.Context, line string) {
	if err := c.sendLine(ctx, line); err != nil {
		c.log.Warn("send failed", "command", verb(line), "err", err)
	}
}

func (c *Client) sendLine(ctx context.Context, line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(line+"\r\n")); err != nil {
		return &TransportError{Op: "write " + verb(line), Err: err}
	}
	return nil
}

// verb returns the command word of an outbound line. Only the verb is
// logged, never the arguments.
func verb(line string) string {
	v, _, _ := strings.Cut(line, " ")
	return v
}

// ---- read path ----

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(ctx, conn, err)
			return
		}
		for _, line := range splitLines(string(data)) {
			c.handleLine(ctx, line)
		}
	}
}

func (c *Client) handleClose(ctx context.Context, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	ev := CloseEvent{Code: int(websocket.CloseStatus(err))}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		ev.Reason = ce.Reason
	}
	c.log.Info("disconnected", "code", ev.Code, "reason", ev.Reason)

	if ev.Code == -1 && ctx.Err() == nil {
		c.Emit(EventError, &TransportError{Op: "read", Err: err})
	}
	c.Emit(EventClose, ev)
}

func (c *Client) handleLine(ctx context.Context, raw string) {
	c.Emit(EventData, raw)

	if payload, ok := isPing(raw); ok {
		c.Pong(ctx, payload)
		c.Emit(EventPing, payload)
		return
	}

	l, ok := ParseLine(raw)
	if !ok {
		c.Emit(EventRaw, raw)
		return
	}

	switch l.Command {
	case "PRIVMSG":
		c.Emit(EventMessage, Message{Nick: l.Nick, Channel: l.Channel, Message: l.Message, Tags: l.Tags})
	case "JOIN":
		c.Emit(EventJoin, Membership{Nick: l.Nick, Channel: l.Channel})
	case "PART":
		c.Emit(EventPart, Membership{Nick: l.Nick, Channel: l.Channel})
	case "NOTICE":
		c.Emit(EventNotice, Notice{Channel: l.Channel, Message: l.Message, Tags: l.Tags})
	case "001":
		c.Emit(EventRegistered, l)
	default:
		c.log.Debug("unhandled command", "command", l.Command)
	}
}
