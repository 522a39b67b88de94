// Package telemetry carries dispatch observability: structured log field
// names, the Sink that receives per-trigger and per-dispatch events, and the
// OpenTelemetry exporter setup.
package telemetry

// Log and span attribute keys shared across packages.
const (
	FieldDispatchID    = "dispatch_id"
	FieldBot           = "bot"
	FieldTrigger       = "trigger"
	FieldConditionKind = "condition_kind"
	FieldOutcome       = "outcome"
	FieldStage         = "stage"
	FieldError         = "error"
	FieldMessageID     = "message_id"
	FieldChannelID     = "channel_id"
	FieldGuildID       = "guild_id"
	FieldSenderID      = "sender_id"
	FieldPreview       = "preview"
	FieldDurationMS    = "duration_ms"
)

// PreviewWidth is the display width of message previews in logs.
const PreviewWidth = 60
