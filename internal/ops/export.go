package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	ID  string // optional, default: every recording
	Dir string // optional, default: ~/.echocap/exports
}

// ExportedFile is one decrypted recording written by Export.
type ExportedFile struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Dir        string         `json:"dir"`
	Files      []ExportedFile `json:"files"`
	Count      int            `json:"count"`
	ExportedAt int64          `json:"exported_at"`
}

// Export decrypts recordings with the current device token and writes each
// to <dir>/recording_<id>.webm. Files written before a failure are kept.
func Export(ctx context.Context, store *db.Store, enc crypt.Provider, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	dir := input.Dir
	if dir == "" {
		var err error
		dir, err = DefaultExportsDir()
		if err != nil {
			return nil, err
		}
	}

	var ids []string
	if id := strings.TrimSpace(input.ID); id != "" {
		ids = []string{id}
	} else {
		recs, err := store.ListRecordings(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
	}

	// Validate every destination before touching the filesystem
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = exportPath(dir, id)
		if err := ValidatePath(paths[i], PathCheckWrite, cfg); err != nil {
			return nil, err
		}
	}

	token, err := loadToken(ctx, store, "export")
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
		}
	}

	out := &ExportOutput{
		Dir:        dir,
		Files:      []ExportedFile{},
		ExportedAt: now.Unix(),
	}
	for i, id := range ids {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("export")
		default:
		}

		_, packet, err := store.GetRecording(ctx, id)
		if err != nil {
			return nil, err
		}
		plaintext, err := enc.Decrypt(packet, token)
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(paths[i], plaintext); err != nil {
			return nil, err
		}

		out.Files = append(out.Files, ExportedFile{ID: id, Path: paths[i], Bytes: len(plaintext)})
	}
	out.Count = len(out.Files)

	return out, nil
}

// exportPath returns the export file path for recording id.
func exportPath(dir, id string) string {
	name := fmt.Sprintf("recording_%s.%s", SanitizeForFilename(id), recording.KindVoice.Extension())
	return filepath.Join(dir, name)
}

// writeFileAtomic writes data to a temp file next to path, syncs it, and
// renames it into place. An existing file is left untouched on failure.
func writeFileAtomic(path string, data []byte) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}

	// Close before rename (required on Windows)
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("export path is a symlink")
	}

	// Windows refuses to rename over an existing file; fail rather than
	// delete the original first.
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (delete the existing file first)")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}
