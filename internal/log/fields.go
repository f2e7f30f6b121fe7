// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldUserID    = "user_id"
	FieldStreamKey = "stream_key"

	// Process / pipeline fields
	FieldComponent = "component"
	FieldAction    = "action"
	FieldJobType   = "job_type"

	// Compositor / media fields
	FieldScene      = "scene"
	FieldSource     = "source"
	FieldInput      = "input"
	FieldMediaState = "media_state"
	FieldFPS        = "fps"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldLeadKey  = "lead_key"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
