package obsws

import (
	"context"
	"fmt"
)

// The operations below are fire-and-forget: each issues one tagged request
// and returns once it is written. Results arrive later as events correlated
// by request type (EventSceneList, EventSceneItemList, EventSceneItemID) or,
// on failure, as EventRequestFailed. Every operation returns
// ErrNotAuthenticated when invoked before authentication.

// SetCurrentProgramSceneByName switches the program scene and then requests
// the item list of the new scene.
func (c *Client) SetCurrentProgramSceneByName(ctx context.Context, name string) error {
	if _, err := c.Request(ctx, RequestSetCurrentProgramScene, sceneRef{SceneName: name}, nil); err != nil {
		return fmt.Errorf("obsws: set program scene %q: %w", name, err)
	}
	return c.GetSceneItemListByName(ctx, name)
}

// SetCurrentProgramSceneByUUID switches the program scene by its unique id
// and then requests the item list of the new scene.
func (c *Client) SetCurrentProgramSceneByUUID(ctx context.Context, uuid string) error {
	if _, err := c.Request(ctx, RequestSetCurrentProgramScene, sceneRef{SceneUUID: uuid}, nil); err != nil {
		return fmt.Errorf("obsws: set program scene %s: %w", uuid, err)
	}
	return c.GetSceneItemListByUUID(ctx, uuid)
}

// SetSceneItemEnabled shows or hides one scene item.
func (c *Client) SetSceneItemEnabled(ctx context.Context, sceneName string, sceneItemID int, enabled bool) error {
	_, err := c.Request(ctx, RequestSetSceneItemEnabled, setSceneItemEnabledData{
		SceneName:        sceneName,
		SceneItemID:      sceneItemID,
		SceneItemEnabled: enabled,
	}, nil)
	if err != nil {
		return fmt.Errorf("obsws: set scene item %d enabled=%t: %w", sceneItemID, enabled, err)
	}
	return nil
}

// GetSceneList requests the scene list. The result is emitted as EventSceneList.
func (c *Client) GetSceneList(ctx context.Context) error {
	if _, err := c.Request(ctx, RequestGetSceneList, nil, nil); err != nil {
		return fmt.Errorf("obsws: get scene list: %w", err)
	}
	return nil
}

// GetSceneItemListByName requests the items of a scene. The result is
// emitted as EventSceneItemList.
func (c *Client) GetSceneItemListByName(ctx context.Context, sceneName string) error {
	if _, err := c.Request(ctx, RequestGetSceneItemList, sceneRef{SceneName: sceneName}, nil); err != nil {
		return fmt.Errorf("obsws: get scene item list %q: %w", sceneName, err)
	}
	return nil
}

// GetSceneItemListByUUID is GetSceneItemListByName keyed by scene uuid.
func (c *Client) GetSceneItemListByUUID(ctx context.Context, sceneUUID string) error {
	if _, err := c.Request(ctx, RequestGetSceneItemList, sceneRef{SceneUUID: sceneUUID}, nil); err != nil {
		return fmt.Errorf("obsws: get scene item list %s: %w", sceneUUID, err)
	}
	return nil
}

// GetSceneItemID resolves the numeric id of sourceName inside sceneName. The
// result is emitted as EventSceneItemID.
func (c *Client) GetSceneItemID(ctx context.Context, sceneName, sourceName string) error {
	_, err := c.Request(ctx, RequestGetSceneItemID, getSceneItemIDData{
		SceneName:  sceneName,
		SourceName: sourceName,
	}, nil)
	if err != nil {
		return fmt.Errorf("obsws: get scene item id %q/%q: %w", sceneName, sourceName, err)
	}
	return nil
}

// SendStreamCaption sends a live caption line to the active stream output.
func (c *Client) SendStreamCaption(ctx context.Context, caption string) error {
	if _, err := c.Request(ctx, RequestSendStreamCaption, sendStreamCaptionData{CaptionText: caption}, nil); err != nil {
		return fmt.Errorf("obsws: send caption: %w", err)
	}
	return nil
}
