package obsws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/castvox/pkg/obsws"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

const waitTimeout = 3 * time.Second

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a fake compositor. The handler receives the accepted
// conn; returning from it closes the socket normally.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:       []string{"obswebsocket.json"},
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readFrame reads one frame and decodes its body into v.
func readFrame(t *testing.T, conn *websocket.Conn, v any) obsws.OpCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readFrame: %v", err)
		return -1
	}
	var f obsws.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Errorf("readFrame unmarshal: %v", err)
		return -1
	}
	if v != nil {
		if err := json.Unmarshal(f.D, v); err != nil {
			t.Errorf("readFrame body: %v", err)
		}
	}
	return f.Op
}

// writeFrame sends one frame with body d.
func writeFrame(t *testing.T, conn *websocket.Conn, op obsws.OpCode, d any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	body, _ := json.Marshal(d)
	data, _ := json.Marshal(obsws.Frame{Op: op, D: body})
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeFrame: %v (may be expected on close)", err)
	}
}

// handshake performs an unauthenticated Hello/Identify/Identified exchange.
func handshake(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeFrame(t, conn, obsws.OpHello, obsws.Hello{OBSWebSocketVersion: "5.5.0", RPCVersion: 1})
	var id obsws.Identify
	if op := readFrame(t, conn, &id); op != obsws.OpIdentify {
		t.Errorf("expected Identify, got op %d", op)
	}
	writeFrame(t, conn, obsws.OpIdentified, obsws.Identified{NegotiatedRPCVersion: 1})
}

// connectAuthenticated dials srv and waits for the authenticated event.
func connectAuthenticated(t *testing.T, srv *httptest.Server, opts ...obsws.Option) *obsws.Client {
	t.Helper()
	c := obsws.New(opts...)
	authed := make(chan struct{})
	c.Once(obsws.EventAuthenticated, func(any) { close(authed) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := c.Connect(ctx, wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, authed, "authenticated")
	return c
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timeout waiting for %s", what)
		var zero T
		return zero
	}
}

// ── Handshake ─────────────────────────────────────────────────────────────────

func TestConnect_ChallengeResponse(t *testing.T) {
	t.Parallel()

	const (
		password  = "hunter2"
		salt      = "salty"
		challenge = "challenging"
	)
	gotIdentify := make(chan obsws.Identify, 1)

	srv := startServer(t, func(conn *websocket.Conn) {
		writeFrame(t, conn, obsws.OpHello, obsws.Hello{
			RPCVersion:     1,
			Authentication: &obsws.AuthChallenge{Challenge: challenge, Salt: salt},
		})
		var id obsws.Identify
		readFrame(t, conn, &id)
		gotIdentify <- id
		writeFrame(t, conn, obsws.OpIdentified, obsws.Identified{NegotiatedRPCVersion: 1})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := obsws.New(obsws.WithPassword(password))
	authRequired := make(chan obsws.AuthChallenge, 1)
	c.On(obsws.EventAuthRequired, func(p any) { authRequired <- p.(obsws.AuthChallenge) })
	authed := make(chan obsws.Identified, 1)
	c.On(obsws.EventAuthenticated, func(p any) { authed <- p.(obsws.Identified) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Connect(ctx, wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch := waitFor(t, authRequired, "auth-required")
	if ch.Challenge != challenge || ch.Salt != salt {
		t.Errorf("auth-required payload = %+v", ch)
	}

	id := waitFor(t, gotIdentify, "identify frame")
	want := obsws.Identify{
		RPCVersion:         1,
		Authentication:     obsws.AuthResponse(password, salt, challenge),
		EventSubscriptions: obsws.DefaultEventSubscriptions,
	}
	if diff := cmp.Diff(want, id); diff != "" {
		t.Errorf("identify mismatch (-want +got):\n%s", diff)
	}

	ack := waitFor(t, authed, "authenticated")
	if ack.NegotiatedRPCVersion != 1 {
		t.Errorf("negotiated rpc version = %d; want 1", ack.NegotiatedRPCVersion)
	}
	if s := c.State(); s != obsws.StateAuthenticated {
		t.Errorf("state = %s; want authenticated", s)
	}
	if v := c.RPCVersion(); v != 1 {
		t.Errorf("RPCVersion = %d; want 1", v)
	}
}

func TestConnect_ChallengeWithoutPasswordWaitsForCaller(t *testing.T) {
	t.Parallel()

	gotIdentify := make(chan obsws.Identify, 1)
	srv := startServer(t, func(conn *websocket.Conn) {
		writeFrame(t, conn, obsws.OpHello, obsws.Hello{
			RPCVersion:     1,
			Authentication: &obsws.AuthChallenge{Challenge: "c", Salt: "s"},
		})
		var id obsws.Identify
		readFrame(t, conn, &id)
		gotIdentify <- id
		<-conn.CloseRead(context.Background()).Done()
	})

	c := obsws.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	required := make(chan obsws.AuthChallenge, 1)
	c.On(obsws.EventAuthRequired, func(p any) { required <- p.(obsws.AuthChallenge) })
	if err := c.Connect(ctx, wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch := waitFor(t, required, "auth-required")
	if s := c.State(); s != obsws.StateAwaitingAuth {
		t.Errorf("state = %s; want awaiting-auth", s)
	}
	if err := c.Authenticate(ctx, "p", ch.Challenge, ch.Salt); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	id := waitFor(t, gotIdentify, "identify")
	if id.Authentication != "LEfh2WVBWpa8M06P7MehLXlToA1PtH2lNSNPjUZVYls=" {
		t.Errorf("authentication = %q", id.Authentication)
	}
}

func TestConnect_NoChallenge(t *testing.T) {
	t.Parallel()

	gotIdentify := make(chan obsws.Identify, 1)
	srv := startServer(t, func(conn *websocket.Conn) {
		writeFrame(t, conn, obsws.OpHello, obsws.Hello{RPCVersion: 1})
		var id obsws.Identify
		readFrame(t, conn, &id)
		gotIdentify <- id
		writeFrame(t, conn, obsws.OpIdentified, obsws.Identified{NegotiatedRPCVersion: 1})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectAuthenticated(t, srv)
	id := waitFor(t, gotIdentify, "identify")
	if id.Authentication != "" {
		t.Errorf("identify carried authentication %q without a challenge", id.Authentication)
	}
	if s := c.State(); s != obsws.StateAuthenticated {
		t.Errorf("state = %s; want authenticated", s)
	}
}

func TestConnect_DialFailureEmitsError(t *testing.T) {
	t.Parallel()

	c := obsws.New()
	errs := make(chan error, 1)
	c.On(obsws.EventError, func(p any) { errs <- p.(error) })

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := c.Connect(ctx, "ws://127.0.0.1:1")
	if err == nil {
		t.Fatal("Connect to a closed port succeeded")
	}
	var terr *obsws.TransportError
	if !errors.As(err, &terr) {
		t.Errorf("error %T is not a *TransportError", err)
	}
	waitFor(t, errs, "error event")
	if s := c.State(); s != obsws.StateDisconnected {
		t.Errorf("state = %s; want disconnected", s)
	}
}

func TestAuthFailed_CloseCode(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		writeFrame(t, conn, obsws.OpHello, obsws.Hello{
			RPCVersion:     1,
			Authentication: &obsws.AuthChallenge{Challenge: "c", Salt: "s"},
		})
		readFrame(t, conn, nil)
		conn.Close(4009, "Authentication failed.")
	})

	c := obsws.New(obsws.WithPassword("wrong"))
	failed := make(chan *obsws.AuthError, 1)
	c.On(obsws.EventAuthFailed, func(p any) { failed <- p.(*obsws.AuthError) })
	closed := make(chan obsws.CloseEvent, 1)
	c.On(obsws.EventClose, func(p any) { closed <- p.(obsws.CloseEvent) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Connect(ctx, wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ae := waitFor(t, failed, "auth-failed")
	if ae.Code != 4009 {
		t.Errorf("auth error code = %d; want 4009", ae.Code)
	}
	ce := waitFor(t, closed, "close")
	if ce.Code != 4009 {
		t.Errorf("close code = %d; want 4009", ce.Code)
	}
	if s := c.State(); s != obsws.StateDisconnected {
		t.Errorf("state = %s; want disconnected", s)
	}
}

// ── Requests ──────────────────────────────────────────────────────────────────

func TestRequest_BeforeAuthentication(t *testing.T) {
	t.Parallel()

	c := obsws.New()
	ctx := context.Background()

	ops := map[string]func() error{
		"SetCurrentProgramSceneByName": func() error { return c.SetCurrentProgramSceneByName(ctx, "x") },
		"SetCurrentProgramSceneByUUID": func() error { return c.SetCurrentProgramSceneByUUID(ctx, "x") },
		"SetSceneItemEnabled":          func() error { return c.SetSceneItemEnabled(ctx, "x", 1, true) },
		"GetSceneList":                 func() error { return c.GetSceneList(ctx) },
		"GetSceneItemListByName":       func() error { return c.GetSceneItemListByName(ctx, "x") },
		"GetSceneItemListByUUID":       func() error { return c.GetSceneItemListByUUID(ctx, "x") },
		"GetSceneItemID":               func() error { return c.GetSceneItemID(ctx, "x", "y") },
		"SendStreamCaption":            func() error { return c.SendStreamCaption(ctx, "x") },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, obsws.ErrNotAuthenticated) {
			t.Errorf("%s: err = %v; want ErrNotAuthenticated", name, err)
		}
	}
}

func TestRequest_OutOfOrderCorrelation(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)

		var first, second obsws.Request
		readFrame(t, conn, &first)
		readFrame(t, conn, &second)

		// Answer in reverse order.
		for _, r := range []obsws.Request{second, first} {
			writeFrame(t, conn, obsws.OpRequestResponse, obsws.RequestResponse{
				RequestType:   r.RequestType,
				RequestID:     r.RequestID,
				RequestStatus: obsws.RequestStatus{Result: true, Code: 100},
				ResponseData:  json.RawMessage(`{"echo":"` + r.RequestType + `"}`),
			})
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectAuthenticated(t, srv)
	ctx := context.Background()

	type answer struct{ id, echo string }
	answers := make(chan answer, 2)
	handler := func(resp obsws.RequestResponse) {
		var body struct {
			Echo string `json:"echo"`
		}
		_ = json.Unmarshal(resp.ResponseData, &body)
		answers <- answer{id: resp.RequestID, echo: body.Echo}
	}

	idA, err := c.Request(ctx, "GetVersion", nil, handler)
	if err != nil {
		t.Fatalf("Request A: %v", err)
	}
	idB, err := c.Request(ctx, "GetStats", nil, handler)
	if err != nil {
		t.Fatalf("Request B: %v", err)
	}
	if idA == idB || idA == "" || idB == "" {
		t.Fatalf("request ids not unique: %q %q", idA, idB)
	}

	got := map[string]string{}
	for range 2 {
		a := waitFor(t, answers, "response")
		got[a.id] = a.echo
	}
	want := map[string]string{idA: "GetVersion", idB: "GetStats"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("correlation mismatch (-want +got):\n%s", diff)
	}
	if n := c.Pending(); n != 0 {
		t.Errorf("Pending = %d after all responses; want 0", n)
	}
}

func TestGetSceneList_EmitsTypedEvent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		var req obsws.Request
		readFrame(t, conn, &req)
		if req.RequestType != obsws.RequestGetSceneList {
			t.Errorf("request type = %q", req.RequestType)
		}
		writeFrame(t, conn, obsws.OpRequestResponse, map[string]any{
			"requestType":   req.RequestType,
			"requestId":     req.RequestID,
			"requestStatus": map[string]any{"result": true, "code": 100},
			"responseData": map[string]any{
				"currentProgramSceneName": "Main",
				"currentProgramSceneUuid": "uuid-main",
				"scenes": []map[string]any{
					{"sceneIndex": 0, "sceneName": "Main", "sceneUuid": "uuid-main"},
					{"sceneIndex": 1, "sceneName": "scene.brb", "sceneUuid": "uuid-brb"},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectAuthenticated(t, srv)
	lists := make(chan obsws.SceneList, 1)
	c.On(obsws.EventSceneList, func(p any) { lists <- p.(obsws.SceneList) })

	if err := c.GetSceneList(context.Background()); err != nil {
		t.Fatalf("GetSceneList: %v", err)
	}
	got := waitFor(t, lists, "scene-list")
	if got.CurrentProgramSceneName != "Main" {
		t.Errorf("current program scene = %q", got.CurrentProgramSceneName)
	}
	want := []obsws.Scene{
		{SceneIndex: 0, SceneName: "Main", SceneUUID: "uuid-main"},
		{SceneIndex: 1, SceneName: "scene.brb", SceneUUID: "uuid-brb"},
	}
	if diff := cmp.Diff(want, got.Scenes); diff != "" {
		t.Errorf("scenes mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSceneItemID_EchoesRequestNames(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		var req struct {
			obsws.Request
			RequestData struct {
				SceneName  string `json:"sceneName"`
				SourceName string `json:"sourceName"`
			} `json:"requestData"`
		}
		readFrame(t, conn, &req)
		if req.RequestData.SceneName != "Screens" || req.RequestData.SourceName != "Privacy Screen" {
			t.Errorf("request data = %+v", req.RequestData)
		}
		writeFrame(t, conn, obsws.OpRequestResponse, obsws.RequestResponse{
			RequestType:   obsws.RequestGetSceneItemID,
			RequestID:     req.RequestID,
			RequestStatus: obsws.RequestStatus{Result: true, Code: 100},
			ResponseData:  json.RawMessage(`{"sceneItemId":42}`),
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectAuthenticated(t, srv)
	ids := make(chan obsws.SceneItemID, 1)
	c.On(obsws.EventSceneItemID, func(p any) { ids <- p.(obsws.SceneItemID) })

	if err := c.GetSceneItemID(context.Background(), "Screens", "Privacy Screen"); err != nil {
		t.Fatalf("GetSceneItemID: %v", err)
	}
	got := waitFor(t, ids, "scene-item-id")
	if got.SceneItemID != 42 || got.SceneName != "Screens" || got.SourceName != "Privacy Screen" {
		t.Errorf("scene-item-id payload = %+v", got)
	}
}

func TestSetCurrentProgramScene_FollowsUpWithItemList(t *testing.T) {
	t.Parallel()

	types := make(chan string, 2)
	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		for range 2 {
			var req obsws.Request
			readFrame(t, conn, &req)
			types <- req.RequestType
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectAuthenticated(t, srv)
	if err := c.SetCurrentProgramSceneByName(context.Background(), "scene.brb"); err != nil {
		t.Fatalf("SetCurrentProgramSceneByName: %v", err)
	}
	got := []string{waitFor(t, types, "first request"), waitFor(t, types, "second request")}
	want := []string{obsws.RequestSetCurrentProgramScene, obsws.RequestGetSceneItemList}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestFailed_EmitsRequestError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		var req obsws.Request
		readFrame(t, conn, &req)
		writeFrame(t, conn, obsws.OpRequestResponse, obsws.RequestResponse{
			RequestType:   req.RequestType,
			RequestID:     req.RequestID,
			RequestStatus: obsws.RequestStatus{Result: false, Code: 600, Comment: "No source was found"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectAuthenticated(t, srv)
	failures := make(chan *obsws.RequestError, 1)
	c.On(obsws.EventRequestFailed, func(p any) { failures <- p.(*obsws.RequestError) })

	if err := c.SetSceneItemEnabled(context.Background(), "Screens", 9, true); err != nil {
		t.Fatalf("SetSceneItemEnabled: %v", err)
	}
	re := waitFor(t, failures, "request-failed")
	if re.RequestType != obsws.RequestSetSceneItemEnabled || re.Status.Code != 600 {
		t.Errorf("request error = %+v", re)
	}
}

func TestServerEvent_SceneSwitched(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		writeFrame(t, conn, obsws.OpEvent, map[string]any{
			"eventType":   "CurrentProgramSceneChanged",
			"eventIntent": 4,
			"eventData":   map[string]any{"sceneName": "scene.brb", "sceneUuid": "uuid-brb"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := obsws.New()
	switched := make(chan obsws.SceneSwitched, 1)
	c.On(obsws.EventSceneSwitched, func(p any) { switched <- p.(obsws.SceneSwitched) })
	raw := make(chan obsws.ServerEvent, 1)
	c.On(obsws.EventServerEvent, func(p any) { raw <- p.(obsws.ServerEvent) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Connect(ctx, wsURL(srv)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if ev := waitFor(t, raw, "event"); ev.EventType != "CurrentProgramSceneChanged" {
		t.Errorf("event type = %q", ev.EventType)
	}
	got := waitFor(t, switched, "scene-switched")
	if got.SceneName != "scene.brb" || got.SceneUUID != "uuid-brb" {
		t.Errorf("scene-switched payload = %+v", got)
	}
}

func TestUnknownResponse_EmitsMessage(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		var req obsws.Request
		readFrame(t, conn, &req)
		writeFrame(t, conn, obsws.OpRequestResponse, obsws.RequestResponse{
			RequestType:   req.RequestType,
			RequestID:     req.RequestID,
			RequestStatus: obsws.RequestStatus{Result: true, Code: 100},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectAuthenticated(t, srv)
	msgs := make(chan obsws.Message, 1)
	c.On(obsws.EventMessage, func(p any) { msgs <- p.(obsws.Message) })

	if _, err := c.Request(context.Background(), "GetVersion", nil, nil); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if m := waitFor(t, msgs, "message"); m.Op != obsws.OpRequestResponse {
		t.Errorf("message op = %d; want %d", m.Op, obsws.OpRequestResponse)
	}
}

// ── Close semantics ───────────────────────────────────────────────────────────

func TestClose_AbandonsPendingRequests(t *testing.T) {
	t.Parallel()

	requestIDs := make(chan string, 2)
	srv := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		var req obsws.Request
		readFrame(t, conn, &req)
		requestIDs <- req.RequestID
		// Close without answering.
		conn.Close(websocket.StatusGoingAway, "shutting down")
	})

	c := connectAuthenticated(t, srv)
	closed := make(chan obsws.CloseEvent, 1)
	c.On(obsws.EventClose, func(p any) { closed <- p.(obsws.CloseEvent) })

	called := make(chan struct{}, 1)
	firstID, err := c.Request(context.Background(), obsws.RequestGetSceneList, nil, func(obsws.RequestResponse) {
		called <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := waitFor(t, requestIDs, "request id"); got != firstID {
		t.Errorf("server saw request id %q; client returned %q", got, firstID)
	}

	ev := waitFor(t, closed, "close")
	if ev.Code != int(websocket.StatusGoingAway) {
		t.Errorf("close code = %d; want %d", ev.Code, websocket.StatusGoingAway)
	}
	if ev.Abandoned != 1 {
		t.Errorf("abandoned = %d; want 1", ev.Abandoned)
	}
	if n := c.Pending(); n != 0 {
		t.Errorf("Pending = %d after close; want 0", n)
	}
	select {
	case <-called:
		t.Error("abandoned request handler was invoked")
	case <-time.After(100 * time.Millisecond):
	}

	// Requests after close fail fast; a reconnect starts a fresh correlation.
	if err := c.GetSceneList(context.Background()); !errors.Is(err, obsws.ErrNotAuthenticated) {
		t.Errorf("GetSceneList after close: err = %v; want ErrNotAuthenticated", err)
	}

	srv2 := startServer(t, func(conn *websocket.Conn) {
		handshake(t, conn)
		var req obsws.Request
		readFrame(t, conn, &req)
		requestIDs <- req.RequestID
		<-conn.CloseRead(context.Background()).Done()
	})
	authed := make(chan struct{})
	c.Once(obsws.EventAuthenticated, func(any) { close(authed) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Connect(ctx, wsURL(srv2)); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitFor(t, authed, "re-authenticated")

	secondID, err := c.Request(context.Background(), obsws.RequestGetSceneList, nil, nil)
	if err != nil {
		t.Fatalf("Request after reconnect: %v", err)
	}
	if secondID == firstID {
		t.Error("request after reconnect reused the abandoned request id")
	}
	if got := waitFor(t, requestIDs, "second request id"); got != secondID {
		t.Errorf("server saw %q; want %q", got, secondID)
	}
}
