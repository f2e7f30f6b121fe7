// SPDX-License-Identifier: MIT

package compositor

import (
	"context"
	"fmt"
	"time"

	xlog "github.com/onair-live/onair/internal/log"
)

// sceneItemID resolves a source name within a scene to its item id.
func (c *Client) sceneItemID(ctx context.Context, scene, source string) (int, error) {
	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	err := c.call(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  scene,
		"sourceName": source,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.SceneItemID, nil
}

// IsVisible reports whether the source is enabled in the scene. Any error
// reads as not visible.
func (c *Client) IsVisible(ctx context.Context, scene, source string) bool {
	itemID, err := c.sceneItemID(ctx, scene, source)
	if err != nil {
		return false
	}
	var out struct {
		SceneItemEnabled bool `json:"sceneItemEnabled"`
	}
	err = c.call(ctx, "GetSceneItemEnabled", map[string]any{
		"sceneName":   scene,
		"sceneItemId": itemID,
	}, &out)
	if err != nil {
		return false
	}
	return out.SceneItemEnabled
}

func (c *Client) setSourceEnabled(ctx context.Context, scene string, itemID int, enabled bool) error {
	return c.call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      itemID,
		"sceneItemEnabled": enabled,
	}, nil)
}

// ToggleSource hides the source and, unless onlyOff, unhides it again after
// a short settle pause. The off/on cycle forces the engine to drop a frozen
// frame and re-acquire the feed.
func (c *Client) ToggleSource(ctx context.Context, scene, source string, onlyOff bool) error {
	itemID, err := c.sceneItemID(ctx, scene, source)
	if err != nil {
		return fmt.Errorf("compositor: resolve %s/%s: %w", scene, source, err)
	}
	if err := c.setSourceEnabled(ctx, scene, itemID, false); err != nil {
		return fmt.Errorf("compositor: hide %s/%s: %w", scene, source, err)
	}
	c.logger.Debug().
		Str(xlog.FieldScene, scene).
		Str(xlog.FieldSource, source).
		Bool("only_off", onlyOff).
		Msg("source hidden")
	if onlyOff {
		return nil
	}

	select {
	case <-time.After(c.cfg.SettlePause):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.setSourceEnabled(ctx, scene, itemID, true); err != nil {
		return fmt.Errorf("compositor: unhide %s/%s: %w", scene, source, err)
	}
	return nil
}

// RestartMedia asks the engine to reinitialize a media input.
func (c *Client) RestartMedia(ctx context.Context, input string) error {
	err := c.call(ctx, "TriggerMediaInputAction", map[string]any{
		"inputName":   input,
		"mediaAction": mediaActionRestart,
	}, nil)
	if err != nil {
		return fmt.Errorf("compositor: restart media %s: %w", input, err)
	}
	return nil
}

// MediaStatus returns the engine's view of a media input, or nil on error.
func (c *Client) MediaStatus(ctx context.Context, input string) (*MediaStatus, error) {
	var raw struct {
		MediaState    string   `json:"mediaState"`
		MediaDuration float64  `json:"mediaDuration"`
		MediaTime     *float64 `json:"mediaTime"`
		MediaCursor   *float64 `json:"mediaCursor"`
	}
	err := c.call(ctx, "GetMediaInputStatus", map[string]any{
		"inputName": input,
	}, &raw)
	if err != nil {
		return nil, err
	}

	status := &MediaStatus{State: raw.MediaState, Duration: raw.MediaDuration}
	// Engine versions disagree on the field name for the playback position.
	switch {
	case raw.MediaTime != nil:
		status.Time = *raw.MediaTime
	case raw.MediaCursor != nil:
		status.Time = *raw.MediaCursor
	}
	return status, nil
}

// Stats returns global rendering and encoding numbers.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.call(ctx, "GetStats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OutputStatus returns the state of the broadcast output.
func (c *Client) OutputStatus(ctx context.Context) (*OutputStatus, error) {
	var out OutputStatus
	if err := c.call(ctx, "GetStreamStatus", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListInputs enumerates the engine's inputs.
func (c *Client) ListInputs(ctx context.Context) ([]Input, error) {
	var out struct {
		Inputs []Input `json:"inputs"`
	}
	if err := c.call(ctx, "GetInputList", nil, &out); err != nil {
		return nil, err
	}
	return out.Inputs, nil
}

// CreateMediaInput creates a hidden media input bound to the given URL.
func (c *Client) CreateMediaInput(ctx context.Context, scene, name, mediaURL string) error {
	err := c.call(ctx, "CreateInput", map[string]any{
		"sceneName":        scene,
		"inputName":        name,
		"inputKind":        "ffmpeg_source",
		"sceneItemEnabled": false,
		"inputSettings": map[string]any{
			"input":           mediaURL,
			"is_local_file":   false,
			"buffering_mb":    2,
			"reconnect_delay": 2,
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("compositor: create input %s: %w", name, err)
	}
	return nil
}

// RemoveInput destroys an input by name.
func (c *Client) RemoveInput(ctx context.Context, name string) error {
	err := c.call(ctx, "RemoveInput", map[string]any{
		"inputName": name,
	}, nil)
	if err != nil {
		return fmt.Errorf("compositor: remove input %s: %w", name, err)
	}
	return nil
}

// SwitchToNewSource creates a fresh input bound to rtmpURL, lets it buffer
// hidden, makes it visible once its media state reaches playing and then
// destroys the previously created input. It reports whether the new source
// went live.
func (c *Client) SwitchToNewSource(ctx context.Context, rtmpURL, scene string) bool {
	name := fmt.Sprintf("dyn-%d", time.Now().UnixMilli())

	if err := c.CreateMediaInput(ctx, scene, name, rtmpURL); err != nil {
		c.logger.Error().Err(err).Str(xlog.FieldURL, rtmpURL).Msg("create dynamic source")
		return false
	}

	// Wait hidden until the feed actually plays, so the audience never sees
	// a black or frozen frame.
	playing := false
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		status, err := c.MediaStatus(ctx, name)
		if err == nil && status.State == MediaStatePlaying {
			playing = true
			break
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return false
		}
	}
	if !playing {
		c.logger.Warn().
			Str(xlog.FieldInput, name).
			Msg("dynamic source never reached playing, removing")
		_ = c.RemoveInput(ctx, name)
		return false
	}

	itemID, err := c.sceneItemID(ctx, scene, name)
	if err != nil {
		c.logger.Error().Err(err).Str(xlog.FieldInput, name).Msg("resolve dynamic source")
		return false
	}
	if err := c.setSourceEnabled(ctx, scene, itemID, true); err != nil {
		c.logger.Error().Err(err).Str(xlog.FieldInput, name).Msg("enable dynamic source")
		return false
	}

	c.mu.Lock()
	previous := c.dynamicSource
	c.dynamicSource = name
	c.mu.Unlock()

	if previous != "" {
		if err := c.RemoveInput(ctx, previous); err != nil {
			c.logger.Warn().Err(err).Str(xlog.FieldInput, previous).Msg("remove previous dynamic source")
		}
	}

	c.logger.Info().
		Str(xlog.FieldInput, name).
		Str(xlog.FieldScene, scene).
		Msg("dynamic source live")
	return true
}
