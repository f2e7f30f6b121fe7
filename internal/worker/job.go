// SPDX-License-Identifier: MIT

package worker

import (
	"time"

	"github.com/google/uuid"
)

// Type tags a job variant.
type Type string

// Job variants. The compositor-class ones are subject to the inter-job
// spacing delay.
const (
	TypeStartStream         Type = "START_STREAM"
	TypeSwitchStream        Type = "SWITCH_STREAM" // reserved
	TypeToggleSource        Type = "TOGGLE_SOURCE"
	TypeKickPublisher       Type = "KICK_PUBLISHER"
	TypeRestartMedia        Type = "RESTART_MEDIA"
	TypeStopRecording       Type = "STOP_RECORDING"
	TypeSendNotification    Type = "SEND_NOTIFICATION"
	TypeFlashLoading        Type = "FLASH_LOADING"
	TypeCheckStreamHealth   Type = "CHECK_STREAM_HEALTH"
	TypeSwitchDynamicSource Type = "SWITCH_DYNAMIC_SOURCE"
)

// Payload field keys.
const (
	KeyStreamKey   = "stream_key"
	KeyDisplayName = "display_name"
	KeyRTMPURL     = "rtmp_url"
	KeyScene       = "scene"
	KeySource      = "source"
	KeyOnlyOff     = "only_off"
	KeyInput       = "input"
	KeyMessage     = "message"
)

// compositorClass marks the job types that drive the compositor and must be
// spaced apart; the engine crashes under bursty control traffic.
var compositorClass = map[Type]bool{
	TypeToggleSource:        true,
	TypeRestartMedia:        true,
	TypeFlashLoading:        true,
	TypeSwitchDynamicSource: true,
}

// Job is a unit of deferred work. Producers enqueue it; the worker owns it
// exclusively once dequeued.
type Job struct {
	ID         string
	Type       Type
	Payload    map[string]any
	EnqueuedAt time.Time
}

// NewJob builds a job with a fresh id and the current enqueue timestamp.
func NewJob(t Type, payload map[string]any) Job {
	if payload == nil {
		payload = map[string]any{}
	}
	return Job{
		ID:         uuid.NewString(),
		Type:       t,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
}

// IsCompositorClass reports whether the job type drives the compositor.
func (j Job) IsCompositorClass() bool {
	return compositorClass[j.Type]
}

// str reads a string payload field, tolerating absence.
func (j Job) str(key string) string {
	if v, ok := j.Payload[key].(string); ok {
		return v
	}
	return ""
}

// boolean reads a bool payload field, tolerating absence.
func (j Job) boolean(key string) bool {
	if v, ok := j.Payload[key].(bool); ok {
		return v
	}
	return false
}
