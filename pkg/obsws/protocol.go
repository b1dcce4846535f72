package obsws

import "encoding/json"

// OpCode identifies the class of a protocol frame.
type OpCode int

// Operation codes of the OBS WebSocket v5 protocol. The numeric values are
// fixed by the server.
const (
	OpHello                OpCode = 0
	OpIdentify             OpCode = 1
	OpIdentified           OpCode = 2
	OpReidentify           OpCode = 3
	OpEvent                OpCode = 5
	OpRequest              OpCode = 6
	OpRequestResponse      OpCode = 7
	OpRequestBatch         OpCode = 8
	OpRequestBatchResponse OpCode = 9
)

// String returns the protocol name of the op code.
func (o OpCode) String() string {
	switch o {
	case OpHello:
		return "Hello"
	case OpIdentify:
		return "Identify"
	case OpIdentified:
		return "Identified"
	case OpReidentify:
		return "Reidentify"
	case OpEvent:
		return "Event"
	case OpRequest:
		return "Request"
	case OpRequestResponse:
		return "RequestResponse"
	case OpRequestBatch:
		return "RequestBatch"
	case OpRequestBatchResponse:
		return "RequestBatchResponse"
	default:
		return "Unknown"
	}
}

const (
	// rpcVersion is the RPC version announced in the Identify frame.
	rpcVersion = 1

	// DefaultEventSubscriptions subscribes to the General (1) and Scenes (1<<5)
	// event categories.
	DefaultEventSubscriptions = 33

	// subprotocol is the JSON encoding subprotocol offered during the handshake.
	subprotocol = "obswebsocket.json"

	// closeAuthenticationFailed is the close code the server uses when the
	// identify authentication string is rejected.
	closeAuthenticationFailed = 4009

	// readLimit bounds a single inbound frame. Scene lists with many sources
	// exceed the websocket library's 32 KiB default.
	readLimit = 4 << 20
)

// Frame is the envelope of every message in either direction.
type Frame struct {
	Op OpCode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// AuthChallenge is the authentication block of a Hello frame.
type AuthChallenge struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// Hello is the first frame sent by the server after the socket opens.
type Hello struct {
	OBSWebSocketVersion string         `json:"obsWebSocketVersion"`
	RPCVersion          int            `json:"rpcVersion"`
	Authentication      *AuthChallenge `json:"authentication,omitempty"`
}

// Identify is sent by the client in response to Hello.
type Identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

// Identified acknowledges a successful Identify.
type Identified struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

// Request is a client-issued request frame body.
type Request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

// RequestStatus reports whether the server executed a request.
type RequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// RequestResponse is the server's reply to a [Request].
type RequestResponse struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus RequestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

// ServerEvent is the body of an op 5 frame.
type ServerEvent struct {
	EventType   string          `json:"eventType"`
	EventIntent int             `json:"eventIntent"`
	EventData   json.RawMessage `json:"eventData,omitempty"`
}

// Request type names used by this client.
const (
	RequestGetSceneList           = "GetSceneList"
	RequestGetSceneItemList       = "GetSceneItemList"
	RequestGetSceneItemID         = "GetSceneItemId"
	RequestGetCurrentProgramScene = "GetCurrentProgramScene"
	RequestSetCurrentProgramScene = "SetCurrentProgramScene"
	RequestSetSceneItemEnabled    = "SetSceneItemEnabled"
	RequestSendStreamCaption      = "SendStreamCaption"
)

// Server event types that are re-emitted as typed events.
const (
	serverEventProgramSceneChanged = "CurrentProgramSceneChanged"
	serverEventSceneItemEnabled    = "SceneItemEnableStateChanged"
)

// ---- request payloads ----

type sceneRef struct {
	SceneName string `json:"sceneName,omitempty"`
	SceneUUID string `json:"sceneUuid,omitempty"`
}

type setSceneItemEnabledData struct {
	SceneName        string `json:"sceneName"`
	SceneItemID      int    `json:"sceneItemId"`
	SceneItemEnabled bool   `json:"sceneItemEnabled"`
}

type getSceneItemIDData struct {
	SceneName  string `json:"sceneName"`
	SourceName string `json:"sourceName"`
}

type sendStreamCaptionData struct {
	CaptionText string `json:"captionText"`
}

// ---- response payloads ----

// Scene is one entry of a scene list.
type Scene struct {
	SceneIndex int    `json:"sceneIndex"`
	SceneName  string `json:"sceneName"`
	SceneUUID  string `json:"sceneUuid"`
}

// SceneList is the payload of the [EventSceneList] event.
type SceneList struct {
	RequestID               string  `json:"-"`
	CurrentProgramSceneName string  `json:"currentProgramSceneName"`
	CurrentProgramSceneUUID string  `json:"currentProgramSceneUuid"`
	CurrentPreviewSceneName string  `json:"currentPreviewSceneName"`
	CurrentPreviewSceneUUID string  `json:"currentPreviewSceneUuid"`
	Scenes                  []Scene `json:"scenes"`
}

// SceneItem is one source placed in a scene.
type SceneItem struct {
	SceneItemID      int    `json:"sceneItemId"`
	SceneItemIndex   int    `json:"sceneItemIndex"`
	SceneItemEnabled bool   `json:"sceneItemEnabled"`
	SourceName       string `json:"sourceName"`
	SourceUUID       string `json:"sourceUuid"`
	SourceType       string `json:"sourceType"`
}

// SceneItemList is the payload of the [EventSceneItemList] event. SceneName
// and SceneUUID echo whichever reference the request used.
type SceneItemList struct {
	RequestID  string      `json:"-"`
	SceneName  string      `json:"-"`
	SceneUUID  string      `json:"-"`
	SceneItems []SceneItem `json:"sceneItems"`
}

// SceneItemID is the payload of the [EventSceneItemID] event.
type SceneItemID struct {
	RequestID   string `json:"-"`
	SceneName   string `json:"-"`
	SourceName  string `json:"-"`
	SceneItemID int    `json:"sceneItemId"`
}

// SceneSwitched is the payload of the [EventSceneSwitched] event.
type SceneSwitched struct {
	SceneName string `json:"sceneName"`
	SceneUUID string `json:"sceneUuid"`
}

// SceneItemEnabled is the payload of the [EventSceneItemEnabled] event.
type SceneItemEnabled struct {
	SceneName        string `json:"sceneName"`
	SceneUUID        string `json:"sceneUuid"`
	SceneItemID      int    `json:"sceneItemId"`
	SceneItemEnabled bool   `json:"sceneItemEnabled"`
}
