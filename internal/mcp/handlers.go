package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store  *db.Store
	cfg    *config.Config
	enc    crypt.Provider
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *db.Store, cfg *config.Config, enc crypt.Provider, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{store: store, cfg: cfg, enc: enc, logger: logger}
}

// ListRequest represents the arguments for recording_list.
type ListRequest struct {
	Type   string `json:"type,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ExportRequest represents the arguments for recording_export.
type ExportRequest struct {
	ID  string `json:"id,omitempty"`
	Dir string `json:"dir,omitempty"`
}

// DeleteRequest represents the arguments for recording_delete.
type DeleteRequest struct {
	ID string `json:"id"`
}

// SettingsUpdateRequest represents the arguments for settings_update.
type SettingsUpdateRequest struct {
	StartPhrase       *string `json:"start_phrase,omitempty"`
	StopPhrase        *string `json:"stop_phrase,omitempty"`
	CaptureMode       *string `json:"capture_mode,omitempty"`
	ActivationEnabled *bool   `json:"activation_enabled,omitempty"`
	Theme             *string `json:"theme,omitempty"`
}

// HandleList handles the recording_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListRecordings(ctx, h.store, ops.ListInput{
		Kind:   input.Type,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return h.fail("recording_list", err), nil
	}
	return successResult(result)
}

// HandleExport handles the recording_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.store, h.enc, h.cfg, ops.ExportInput{
		ID:  input.ID,
		Dir: input.Dir,
	})
	if err != nil {
		return h.fail("recording_export", err), nil
	}
	return successResult(result)
}

// HandleDelete handles the recording_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteRecording(ctx, h.store, ops.DeleteInput{ID: input.ID})
	if err != nil {
		return h.fail("recording_delete", err), nil
	}
	return successResult(result)
}

// HandleSettingsGet handles the settings_get tool call.
func (h *Handlers) HandleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.GetSettings(ctx, h.store)
	if err != nil {
		return h.fail("settings_get", err), nil
	}
	return successResult(result)
}

// HandleSettingsUpdate handles the settings_update tool call.
func (h *Handlers) HandleSettingsUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.UpdateSettings(ctx, h.store, ops.SettingsInput{
		StartPhrase:       input.StartPhrase,
		StopPhrase:        input.StopPhrase,
		CaptureMode:       input.CaptureMode,
		ActivationEnabled: input.ActivationEnabled,
		Theme:             input.Theme,
	})
	if err != nil {
		return h.fail("settings_update", err), nil
	}
	return successResult(result)
}

// HandleTrainingStatus handles the training_status tool call. Samples are
// read from the store so progress made by another process is visible.
func (h *Handlers) HandleTrainingStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, err := ops.LoadTrainer(ctx, h.store)
	if err != nil {
		return h.fail("training_status", err), nil
	}
	return successResult(ops.TrainingStatus(tr))
}

// HandleDeviceStatus handles the device_status tool call.
func (h *Handlers) HandleDeviceStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, err := ops.LoadTrainer(ctx, h.store)
	if err != nil {
		return h.fail("device_status", err), nil
	}
	result, err := ops.DeviceStatus(ctx, h.store, tr)
	if err != nil {
		return h.fail("device_status", err), nil
	}
	return successResult(result)
}

func (h *Handlers) fail(tool string, err error) *mcp.CallToolResult {
	h.logger.Debug("tool failed", zap.String("tool", tool), zap.Error(err))
	return errorResult(err)
}

// Result helpers

// errorResult creates an MCP error result from any error, with IsError set.
// INTERNAL errors carry a generic message and no details.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if echoErr, ok := errors.As(err); ok && echoErr.Code != errors.ErrInternal {
		// Keep wrapper context when the coded error was wrapped
		msg := echoErr.Message
		if err != error(echoErr) {
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    echoErr.Code,
			"message": msg,
			"status":  echoErr.Status,
		}
		if echoErr.Hint != "" {
			errorObj["hint"] = echoErr.Hint
		}
		if echoErr.Details != nil {
			errorObj["details"] = echoErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
