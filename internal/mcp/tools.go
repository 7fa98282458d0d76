package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("recording_list",
	mcp.WithDescription("List encrypted recordings on this device, newest first. Returns metadata only."),
	mcp.WithString("type", mcp.Description("Filter by capture mode"), mcp.Enum("voice", "video")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip (default 0)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var exportToolDef = mcp.NewTool("recording_export",
	mcp.WithDescription("Decrypt recordings to recording_<id>.webm files. Defaults to every recording and ~/.echocap/exports."),
	mcp.WithString("id", mcp.Description("Export only this recording")),
	mcp.WithString("dir", mcp.Description("Destination directory; must be ~/.echocap/exports or listed in allowed_paths")),
)

var deleteToolDef = mcp.NewTool("recording_delete",
	mcp.WithDescription("Permanently delete one recording."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Recording id")),
	mcp.WithDestructiveHintAnnotation(true),
)

var settingsGetToolDef = mcp.NewTool("settings_get",
	mcp.WithDescription("Return the trigger phrases, capture mode, activation flag, and theme."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var settingsUpdateToolDef = mcp.NewTool("settings_update",
	mcp.WithDescription("Change settings. Omitted fields keep their current value."),
	mcp.WithString("start_phrase", mcp.Description("Phrase that starts a recording")),
	mcp.WithString("stop_phrase", mcp.Description("Phrase that stops a recording")),
	mcp.WithString("capture_mode", mcp.Description("Capture mode"), mcp.Enum("voice", "video")),
	mcp.WithBoolean("activation_enabled", mcp.Description("Listen for trigger phrases")),
	mcp.WithString("theme", mcp.Description("UI theme"), mcp.Enum("light", "dark")),
)

var trainingStatusToolDef = mcp.NewTool("training_status",
	mcp.WithDescription("Report voice training progress (samples collected out of 5)."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var deviceStatusToolDef = mcp.NewTool("device_status",
	mcp.WithDescription("Report registration, recording count, settings, and training progress. Never returns the device token."),
	mcp.WithReadOnlyHintAnnotation(true),
)
