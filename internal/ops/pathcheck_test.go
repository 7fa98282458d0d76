package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/errors"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("webm"), 0600); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
}

func TestValidatePath_TraversalRejected(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../recording.webm"},
		{"deep traversal", "../../etc/recording.webm"},
		{"mid-path traversal", "/tmp/../etc/recording.webm"},
		{"hidden in path", "/tmp/safe/../../../etc/shadow.webm"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, PathCheckWrite, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidatePath_ExtensionRequired(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	for _, path := range []string{"/tmp/recording", "/tmp/recording.jsonl", "/tmp/recording.webm.txt"} {
		t.Run(path, func(t *testing.T) {
			err := ValidatePath(path, PathCheckWrite, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidatePath_DefaultExportsDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := config.DefaultConfig()

	dir, err := DefaultExportsDir()
	if err != nil {
		t.Fatalf("DefaultExportsDir failed: %v", err)
	}
	if want := filepath.Join(home, ".echocap", "exports"); dir != want {
		t.Errorf("DefaultExportsDir() = %q, want %q", dir, want)
	}

	if err := ValidatePath(filepath.Join(dir, "recording_a.webm"), PathCheckWrite, cfg); err != nil {
		t.Errorf("expected default exports dir to be allowed, got: %v", err)
	}

	// Anything else needs allowed_paths
	err = ValidatePath(filepath.Join(t.TempDir(), "recording_a.webm"), PathCheckWrite, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestValidatePath_AllowUnsafePaths(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	testFile := filepath.Join(tmpDir, "sample.webm")
	writeFile(t, testFile)

	if err := ValidatePath(testFile, PathCheckRead, cfg); err != nil {
		t.Errorf("expected success with AllowUnsafePaths=true, got: %v", err)
	}
	if err := ValidatePath(filepath.Join(tmpDir, "out.webm"), PathCheckWrite, cfg); err != nil {
		t.Errorf("expected success for write with AllowUnsafePaths=true, got: %v", err)
	}
}

func TestValidatePath_AllowedPaths(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{tmpDir, "relative/ignored"}

	testFile := filepath.Join(tmpDir, "sample.webm")
	writeFile(t, testFile)

	if err := ValidatePath(testFile, PathCheckRead, cfg); err != nil {
		t.Errorf("expected success for path in AllowedPaths, got: %v", err)
	}

	otherFile := filepath.Join(t.TempDir(), "other.webm")
	writeFile(t, otherFile)

	if err := ValidatePath(otherFile, PathCheckRead, cfg); err == nil {
		t.Error("expected error for path outside AllowedPaths, got nil")
	}
}

func TestValidatePath_FileNotFound_ReadMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	err := ValidatePath(filepath.Join(t.TempDir(), "missing.webm"), PathCheckRead, cfg)
	if !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got: %v", err)
	}
}

func TestValidatePath_SymlinkRejected(t *testing.T) {
	tests := []struct {
		name   string
		mode   PathCheckMode
		unsafe bool
	}{
		{"read", PathCheckRead, false},
		{"write", PathCheckWrite, false},
		{"read with unsafe paths", PathCheckRead, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			allowedDir := t.TempDir()
			cfg := config.DefaultConfig()
			cfg.AllowedPaths = []string{allowedDir}
			cfg.AllowUnsafePaths = tc.unsafe

			target := filepath.Join(t.TempDir(), "secret.webm")
			writeFile(t, target)

			symlink := filepath.Join(allowedDir, "link.webm")
			if err := os.Symlink(target, symlink); err != nil {
				t.Skipf("cannot create symlink: %v", err)
			}

			err := ValidatePath(symlink, tc.mode, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidatePath_NestedPathRejected(t *testing.T) {
	allowedDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{allowedDir}

	subDir := filepath.Join(allowedDir, "subdir")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}
	nested := filepath.Join(subDir, "sample.webm")
	writeFile(t, nested)

	for _, mode := range []PathCheckMode{PathCheckRead, PathCheckWrite} {
		err := ValidatePath(nested, mode, cfg)
		if !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("mode %d: expected ErrInvalidRequest, got: %v", mode, err)
		}
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := []struct {
		path     string
		contains bool
	}{
		{"/home/user/file.webm", false},
		{"../file.webm", true},
		{"/home/../etc/passwd", true},
		{"./file.webm", false},
		{"/home/user/.hidden/file.webm", false},
		{"file..name.webm", false},
		{"/tmp/a/b/../c.webm", true},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := containsTraversal(tc.path); got != tc.contains {
				t.Errorf("containsTraversal(%q) = %v, want %v", tc.path, got, tc.contains)
			}
		})
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"ulid", "01JA2B3C4D5E6F7G8H9J0KMNPQ", "01JA2B3C4D5E6F7G8H9J0KMNPQ"},
		{"forward slash", "path/to/file", "path-to-file"},
		{"backslash", "path\\to\\file", "path-to-file"},
		{"traversal attempt", "../../../etc/passwd", "etc-passwd"},
		{"null bytes", "foo\x00bar", "foobar"},
		{"empty after sanitize", "../../..", "unnamed"},
		{"multiple dashes collapse", "a---b", "a-b"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeForFilename(tc.input); got != tc.expected {
				t.Errorf("SanitizeForFilename(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}
