package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/ops"
	"github.com/hpungsan/echocap/internal/recording"
)

// testSetup creates a registered store and a config that allows temp dirs.
func testSetup(t *testing.T) (*db.Store, *config.Config) {
	t.Helper()

	store, err := db.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := ops.Register(context.Background(), store); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	return store, cfg
}

func newHandlers(t *testing.T) (*Handlers, *db.Store) {
	t.Helper()
	store, cfg := testSetup(t)
	return NewHandlers(store, cfg, crypt.NewProvider(), nil), store
}

func saveRecording(t *testing.T, h *Handlers, data string) *recording.Recording {
	t.Helper()
	rec, err := ops.SaveCapture(context.Background(), h.store, h.enc, &capture.Capture{
		Data: []byte(data),
		Mode: recording.KindVoice,
	})
	if err != nil {
		t.Fatalf("SaveCapture failed: %v", err)
	}
	return rec
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleList(t *testing.T) {
	h, _ := newHandlers(t)
	ctx := context.Background()
	saveRecording(t, h, "a")
	saveRecording(t, h, "b")

	tests := []struct {
		name      string
		args      map[string]any
		wantItems int
		errorCode string
	}{
		{"all", nil, 2, ""},
		{"limit", map[string]any{"limit": 1}, 1, ""},
		{"voice only", map[string]any{"type": "voice"}, 2, ""},
		{"video only", map[string]any{"type": "video"}, 0, ""},
		{"bad type", map[string]any{"type": "photo"}, 0, "INVALID_REQUEST"},
		{"unknown argument", map[string]any{"workspace": "x"}, 0, "INVALID_REQUEST"},
		{"wrong argument type", map[string]any{"limit": "ten"}, 0, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleList(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if tt.errorCode != "" {
				assertErrorCode(t, result, tt.errorCode)
				return
			}
			out := parseOutput(t, result)
			items := out["items"].([]any)
			if len(items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(items), tt.wantItems)
			}
		})
	}
}

func TestHandleExportAndDelete(t *testing.T) {
	h, _ := newHandlers(t)
	ctx := context.Background()
	rec := saveRecording(t, h, "exported audio")
	dir := t.TempDir()

	result, err := h.HandleExport(ctx, makeRequest(map[string]any{"id": rec.ID, "dir": dir}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	if out["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", out["count"])
	}

	result, _ = h.HandleDelete(ctx, makeRequest(map[string]any{"id": rec.ID}))
	out = parseOutput(t, result)
	if out["deleted"] != true || out["id"] != rec.ID {
		t.Errorf("delete output = %v", out)
	}

	result, _ = h.HandleDelete(ctx, makeRequest(map[string]any{"id": rec.ID}))
	assertErrorCode(t, result, "NOT_FOUND")

	result, _ = h.HandleDelete(ctx, makeRequest(nil))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = h.HandleExport(ctx, makeRequest(map[string]any{"id": rec.ID, "dir": dir}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleSettings(t *testing.T) {
	h, _ := newHandlers(t)
	ctx := context.Background()

	result, _ := h.HandleSettingsGet(ctx, makeRequest(nil))
	out := parseOutput(t, result)
	if out["startPhrase"] != "start recording" || out["captureMode"] != "voice" {
		t.Errorf("defaults = %v", out)
	}

	result, _ = h.HandleSettingsUpdate(ctx, makeRequest(map[string]any{
		"stop_phrase":        "Cut",
		"activation_enabled": true,
		"theme":              "dark",
	}))
	out = parseOutput(t, result)
	if out["stopPhrase"] != "cut" || out["activationEnabled"] != true || out["theme"] != "dark" {
		t.Errorf("updated = %v", out)
	}

	result, _ = h.HandleSettingsGet(ctx, makeRequest(nil))
	out = parseOutput(t, result)
	if out["stopPhrase"] != "cut" {
		t.Errorf("stopPhrase not persisted: %v", out)
	}

	result, _ = h.HandleSettingsUpdate(ctx, makeRequest(map[string]any{"start_phrase": "cut"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleTrainingAndDeviceStatus(t *testing.T) {
	h, store := newHandlers(t)
	ctx := context.Background()

	tr, err := ops.LoadTrainer(ctx, store)
	if err != nil {
		t.Fatalf("LoadTrainer failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := ops.AddTrainingSample(ctx, store, tr, "start recording", []byte("sample")); err != nil {
			t.Fatalf("AddTrainingSample failed: %v", err)
		}
	}

	result, _ := h.HandleTrainingStatus(ctx, makeRequest(nil))
	out := parseOutput(t, result)
	if out["progress"].(float64) != 2 || out["complete"] != false {
		t.Errorf("training status = %v", out)
	}

	saveRecording(t, h, "x")
	result, _ = h.HandleDeviceStatus(ctx, makeRequest(nil))
	text := result.Content[0].(mcp.TextContent).Text
	out = parseOutput(t, result)
	if out["registered"] != true || out["recordings"].(float64) != 1 {
		t.Errorf("device status = %v", out)
	}

	tok, err := store.GetDeviceToken(ctx)
	if err != nil {
		t.Fatalf("GetDeviceToken failed: %v", err)
	}
	if strings.Contains(text, tok.Token) {
		t.Error("device_status leaked the device token")
	}
}

func TestServerRegistration(t *testing.T) {
	store, cfg := testSetup(t)

	s := NewServer(store, cfg, crypt.NewProvider(), nil, "test")
	tools := s.ListTools()

	expected := []string{
		"device_status",
		"recording_delete",
		"recording_export",
		"recording_list",
		"settings_get",
		"settings_update",
		"training_status",
	}
	if len(tools) != len(expected) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expected))
	}
	for _, name := range expected {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	store, cfg := testSetup(t)

	cfg.DisabledTools = []string{"recording_delete", "recording_export", "recording_delete"}
	s := NewServer(store, cfg, crypt.NewProvider(), nil, "test")
	tools := s.ListTools()

	if len(tools) != 5 {
		t.Errorf("registered tool count = %d, want 5", len(tools))
	}
	for _, name := range []string{"recording_delete", "recording_export"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	store, cfg := testSetup(t)

	cfg.DisabledTools = AllToolNames()
	s := NewServer(store, cfg, crypt.NewProvider(), nil, "test")

	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"recording_delete", "settings_update"}, 0},
		{"one unknown", []string{"recording_delete", "capsule_store"}, 1},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("open /tmp/secret.db: permission denied")))
	errObj := errorObject(t, r)

	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if strings.Contains(errObj["message"].(string), "secret.db") {
		t.Error("INTERNAL message leaked the cause")
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	r := errorResult(fmt.Errorf("recording 01X: %w", errors.NewNotFound("recordings", "01X")))
	errObj := errorObject(t, r)

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if msg := errObj["message"].(string); !strings.Contains(msg, "recording 01X") {
		t.Errorf("message should keep wrapper context, got: %s", msg)
	}
	if _, ok := errObj["details"]; !ok {
		t.Error("expected details for NOT_FOUND")
	}
}

func TestErrorResult_IncludesHint(t *testing.T) {
	r := errorResult(errors.NewDeviceUnavailable("microphone", nil))
	errObj := errorObject(t, r)

	if _, ok := errObj["hint"]; !ok {
		t.Error("expected hint in error payload")
	}
}

// Helper functions

func errorObject(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if code := errorObject(t, result)["code"]; code != expectedCode {
		t.Errorf("got error code %v, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}
