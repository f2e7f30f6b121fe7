// SPDX-License-Identifier: MIT

package compositor

import "encoding/json"

// WebSocket op codes of the scene engine's v5 RPC protocol.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

// envelope is the outer message frame.
type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	RPCVersion     int `json:"rpcVersion"`
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

type requestEnvelope struct {
	RequestType string          `json:"requestType"`
	RequestID   string          `json:"requestId"`
	RequestData json.RawMessage `json:"requestData,omitempty"`
}

type responseEnvelope struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

// Media states reported by GetMediaInputStatus.
const (
	MediaStateNone      = "OBS_MEDIA_STATE_NONE"
	MediaStatePlaying   = "OBS_MEDIA_STATE_PLAYING"
	MediaStateOpening   = "OBS_MEDIA_STATE_OPENING"
	MediaStateBuffering = "OBS_MEDIA_STATE_BUFFERING"
	MediaStatePaused    = "OBS_MEDIA_STATE_PAUSED"
	MediaStateStopped   = "OBS_MEDIA_STATE_STOPPED"
	MediaStateEnded     = "OBS_MEDIA_STATE_ENDED"
	MediaStateError     = "OBS_MEDIA_STATE_ERROR"
)

const mediaActionRestart = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_RESTART"

// MediaStatus is the compositor's view of one media input.
type MediaStatus struct {
	State    string  `json:"mediaState"`
	Duration float64 `json:"mediaDuration"`
	// Time is filled from either mediaTime or mediaCursor, whichever the
	// engine version sends.
	Time float64 `json:"-"`
}

// Stats carries the engine's global rendering numbers.
type Stats struct {
	ActiveFPS           float64 `json:"activeFps"`
	CPUUsage            float64 `json:"cpuUsage"`
	MemoryUsage         float64 `json:"memoryUsage"`
	RenderSkippedFrames int64   `json:"renderSkippedFrames"`
	RenderTotalFrames   int64   `json:"renderTotalFrames"`
	OutputSkippedFrames int64   `json:"outputSkippedFrames"`
	OutputTotalFrames   int64   `json:"outputTotalFrames"`
}

// OutputStatus describes the broadcast output.
type OutputStatus struct {
	Active        bool    `json:"outputActive"`
	Reconnecting  bool    `json:"outputReconnecting"`
	Congestion    float64 `json:"outputCongestion"`
	Duration      int64   `json:"outputDuration"`
	SkippedFrames int64   `json:"outputSkippedFrames"`
	TotalFrames   int64   `json:"outputTotalFrames"`
}

// Input is one entry from the engine's input enumeration.
type Input struct {
	Name string `json:"inputName"`
	Kind string `json:"inputKind"`
	UUID string `json:"inputUuid"`
}
