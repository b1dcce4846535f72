// Package obsws implements a client for the OBS WebSocket v5 control
// protocol: connection handshake, challenge-response authentication, request
// correlation by generated request id, and typed event emission for scene
// and request state changes.
//
// A [Client] embeds an [eventbus.Bus]. Every inbound frame is turned into one
// or more events (see the Event* constants) that are emitted synchronously on
// the client's read goroutine. Socket failures and closes are reported as
// events rather than returned from the read path; request operations return
// an error only for conditions the caller can act on immediately (not
// authenticated, not connected, write failed).
//
// Lifecycle:
//
//	Disconnected → Connecting → AwaitingAuth → Authenticated → Disconnected
//
// AwaitingAuth is entered only when the server's Hello carries an
// authentication challenge. Requests that are still pending when the socket
// closes are dropped without their handlers being called.
package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/castvox/pkg/eventbus"
)

// Event names emitted by [Client].
const (
	EventOpen             = "open"               // payload: string (address)
	EventClose            = "close"              // payload: CloseEvent
	EventError            = "error"              // payload: *TransportError
	EventAuthRequired     = "auth-required"      // payload: AuthChallenge
	EventAuthenticated    = "authenticated"      // payload: Identified
	EventAuthFailed       = "auth-failed"        // payload: *AuthError
	EventSceneList        = "scene-list"         // payload: SceneList
	EventSceneItemList    = "scene-item-list"    // payload: SceneItemList
	EventSceneItemID      = "scene-item-id"      // payload: SceneItemID
	EventRequestFailed    = "request-failed"     // payload: *RequestError
	EventServerEvent      = "event"              // payload: ServerEvent
	EventSceneSwitched    = "scene-switched"     // payload: SceneSwitched
	EventSceneItemEnabled = "scene-item-enabled" // payload: SceneItemEnabled
	EventMessage          = "message"            // payload: Message
)

// State is the connection state of a [Client].
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// CloseEvent is the payload of [EventClose].
type CloseEvent struct {
	// Code is the websocket close status, or -1 when the socket failed
	// without a close frame.
	Code int

	// Reason is the close reason sent by the peer, if any.
	Reason string

	// Abandoned is the number of pending requests dropped by the close.
	Abandoned int
}

// Message is the payload of [EventMessage]: any frame the client does not
// classify further.
type Message struct {
	Op   OpCode
	Data json.RawMessage
}

// ResponseHandler receives the server's reply to one request.
type ResponseHandler func(RequestResponse)

type pendingRequest struct {
	requestType string
	data        any
	handler     ResponseHandler
}

// Option configures a [Client].
type Option func(*Client)

// WithPassword makes the client answer authentication challenges itself.
// Without a password, callers must react to [EventAuthRequired] by calling
// [Client.Authenticate].
func WithPassword(password string) Option {
	return func(c *Client) {
		c.password = password
	}
}

// WithEventSubscriptions overrides the event subscription bitmask sent in
// the Identify frame. The default is [DefaultEventSubscriptions].
func WithEventSubscriptions(mask int) Option {
	return func(c *Client) {
		c.subscriptions = mask
	}
}

// WithLogger sets the logger. The default is slog.Default() scoped to the
// "obsws" component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client is an OBS WebSocket v5 client. It owns at most one socket at a time.
// All methods are safe for concurrent use.
type Client struct {
	*eventbus.Bus

	log           *slog.Logger
	password      string
	subscriptions int

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	rpcVersion int
	pending    map[string]pendingRequest
}

// New returns a disconnected [Client].
func New(opts ...Option) *Client {
	c := &Client{
		log:           slog.Default().With("component", "obsws"),
		subscriptions: DefaultEventSubscriptions,
		pending:       make(map[string]pendingRequest),
	}
	for _, o := range opts {
		o(c)
	}
	c.Bus = eventbus.New(eventbus.WithLogger(c.log))
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RPCVersion returns the RPC version negotiated with the server, or 0 before
// authentication.
func (c *Client) RPCVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpcVersion
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Connect dials address (e.g. "ws://localhost:4455") and starts reading
// frames in a background goroutine. ctx bounds both the dial and the
// lifetime of the connection: cancelling it closes the socket.
//
// A dial failure is emitted as [EventError] and also returned.
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("obsws: already connected")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, address, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		terr := &TransportError{Op: "dial", Err: err}
		c.log.Warn("connect failed", "address", address, "err", err)
		c.Emit(EventError, terr)
		return terr
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("connected", "address", address)
	c.Emit(EventOpen, address)

	go c.readLoop(ctx, conn)
	return nil
}

// Close closes the socket with a normal closure status. The read goroutine
// emits [EventClose] once the socket is down.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closing")
}

// Authenticate answers a challenge by sending an Identify frame carrying
// [AuthResponse] of password, salt and challenge.
func (c *Client) Authenticate(ctx context.Context, password, challenge, salt string) error {
	return c.identify(ctx, AuthResponse(password, salt, challenge))
}

func (c *Client) identify(ctx context.Context, auth string) error {
	c.log.Debug("identifying", "with_auth", auth != "")
	return c.send(ctx, OpIdentify, Identify{
		RPCVersion:         rpcVersion,
		Authentication:     auth,
		EventSubscriptions: c.subscriptions,
	})
}

// Request issues a raw request of requestType with data as requestData.
// handler, when non-nil, is invoked on the read goroutine with the response
// carrying the generated request id. The id is returned so callers can
// correlate responses themselves.
//
// Returns [ErrNotAuthenticated] before the server acknowledged Identify.
func (c *Client) Request(ctx context.Context, requestType string, data any, handler ResponseHandler) (string, error) {
	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotAuthenticated, requestType)
	}
	id := uuid.NewString()
	c.pending[id] = pendingRequest{requestType: requestType, data: data, handler: handler}
	c.mu.Unlock()

	err := c.send(ctx, OpRequest, Request{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

// send marshals the envelope and writes it as one text frame.
func (c *Client) send(ctx context.Context, op OpCode, d any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("obsws: encode %s: %w", op, err)
	}
	frame, err := json.Marshal(Frame{Op: op, D: body})
	if err != nil {
		return fmt.Errorf("obsws: encode frame: %w", err)
	}

	c.log.Debug("sending", "op", op.String(), "bytes", len(frame))
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		c.log.Warn("send failed", "op", op.String(), "err", err)
		return &TransportError{Op: "write " + op.String(), Err: err}
	}
	return nil
}

// ---- read path ----

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(ctx, conn, err)
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Client) handleClose(ctx context.Context, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.state = StateDisconnected
	c.rpcVersion = 0
	abandoned := len(c.pending)
	for id, req := range c.pending {
		c.log.Debug("abandoning pending request", "request_id", id, "request_type", req.requestType)
	}
	c.pending = make(map[string]pendingRequest)
	c.mu.Unlock()

	ev := CloseEvent{Code: int(websocket.CloseStatus(err)), Abandoned: abandoned}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		ev.Reason = ce.Reason
	}

	c.log.Info("disconnected", "code", ev.Code, "reason", ev.Reason, "abandoned_requests", abandoned)

	if ev.Code == closeAuthenticationFailed {
		c.Emit(EventAuthFailed, &AuthError{Code: ev.Code, Reason: ev.Reason})
	}
	if ev.Code == -1 && ctx.Err() == nil {
		c.Emit(EventError, &TransportError{Op: "read", Err: err})
	}
	c.Emit(EventClose, ev)
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Warn("malformed frame", "err", err)
		c.Emit(EventMessage, Message{Op: -1, Data: data})
		return
	}

	switch f.Op {
	case OpHello:
		c.handleHello(ctx, f.D)
	case OpIdentified:
		c.handleIdentified(f.D)
	case OpEvent:
		c.handleEvent(f.D)
	case OpRequestResponse:
		c.handleResponse(f)
	default:
		c.Emit(EventMessage, Message{Op: f.Op, Data: f.D})
	}
}

func (c *Client) handleHello(ctx context.Context, raw json.RawMessage) {
	var h Hello
	if err := json.Unmarshal(raw, &h); err != nil {
		c.log.Warn("malformed hello", "err", err)
		return
	}
	c.log.Debug("hello received",
		"server_version", h.OBSWebSocketVersion,
		"rpc_version", h.RPCVersion,
		"auth_required", h.Authentication != nil,
	)

	if h.Authentication == nil {
		if err := c.identify(ctx, ""); err != nil {
			c.log.Warn("identify failed", "err", err)
		}
		return
	}

	c.mu.Lock()
	c.state = StateAwaitingAuth
	c.mu.Unlock()

	c.Emit(EventAuthRequired, *h.Authentication)

	if c.password != "" {
		if err := c.Authenticate(ctx, c.password, h.Authentication.Challenge, h.Authentication.Salt); err != nil {
			c.log.Warn("authenticate failed", "err", err)
		}
	}
}

func (c *Client) handleIdentified(raw json.RawMessage) {
	var id Identified
	if err := json.Unmarshal(raw, &id); err != nil {
		c.log.Warn("malformed identified", "err", err)
		return
	}
	c.mu.Lock()
	c.state = StateAuthenticated
	c.rpcVersion = id.NegotiatedRPCVersion
	c.mu.Unlock()

	c.log.Info("authenticated", "rpc_version", id.NegotiatedRPCVersion)
	c.Emit(EventAuthenticated, id)
}

func (c *Client) handleEvent(raw json.RawMessage) {
	var ev ServerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn("malformed event", "err", err)
		return
	}
	c.Emit(EventServerEvent, ev)

	switch ev.EventType {
	case serverEventProgramSceneChanged:
		var p SceneSwitched
		if err := json.Unmarshal(ev.EventData, &p); err == nil {
			c.Emit(EventSceneSwitched, p)
		}
	case serverEventSceneItemEnabled:
		var p SceneItemEnabled
		if err := json.Unmarshal(ev.EventData, &p); err == nil {
			c.Emit(EventSceneItemEnabled, p)
		}
	}
}

func (c *Client) handleResponse(f Frame) {
	var resp RequestResponse
	if err := json.Unmarshal(f.D, &resp); err != nil {
		c.log.Warn("malformed request response", "err", err)
		c.Emit(EventMessage, Message{Op: f.Op, Data: f.D})
		return
	}

	c.mu.Lock()
	req, tracked := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.mu.Unlock()

	if tracked && req.handler != nil {
		req.handler(resp)
	}

	if !resp.RequestStatus.Result {
		c.Emit(EventRequestFailed, &RequestError{
			RequestType: resp.RequestType,
			RequestID:   resp.RequestID,
			Status:      resp.RequestStatus,
		})
		return
	}

	switch resp.RequestType {
	case RequestGetSceneList:
		var p SceneList
		if c.decodeResponse(resp, &p) {
			p.RequestID = resp.RequestID
			c.Emit(EventSceneList, p)
		}
	case RequestGetSceneItemList:
		var p SceneItemList
		if c.decodeResponse(resp, &p) {
			p.RequestID = resp.RequestID
			if ref, ok := req.data.(sceneRef); ok {
				p.SceneName, p.SceneUUID = ref.SceneName, ref.SceneUUID
			}
			c.Emit(EventSceneItemList, p)
		}
	case RequestGetSceneItemID:
		var p SceneItemID
		if c.decodeResponse(resp, &p) {
			p.RequestID = resp.RequestID
			if d, ok := req.data.(getSceneItemIDData); ok {
				p.SceneName, p.SourceName = d.SceneName, d.SourceName
			}
			c.Emit(EventSceneItemID, p)
		}
	case RequestGetCurrentProgramScene,
		RequestSetCurrentProgramScene,
		RequestSetSceneItemEnabled,
		RequestSendStreamCaption:
		// Acknowledgements only.
	default:
		c.Emit(EventMessage, Message{Op: f.Op, Data: f.D})
	}
}

func (c *Client) decodeResponse(resp RequestResponse, v any) bool {
	if len(resp.ResponseData) == 0 {
		return true
	}
	if err := json.Unmarshal(resp.ResponseData, v); err != nil {
		c.log.Warn("malformed response data", "request_type", resp.RequestType, "err", err)
		return false
	}
	return true
}
