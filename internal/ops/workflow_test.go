package ops

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
	"github.com/hpungsan/echocap/internal/testutil"
)

// TestFullWorkflow exercises the recording lifecycle:
// register → capture → save → list → export → delete → list (empty)
func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	enc := crypt.NewProvider()

	// 1. Register
	reg, err := Register(ctx, store)
	require.NoError(t, err)
	require.True(t, reg.Created)

	// 2. Capture
	dev := testutil.NewFakeDevice()
	session := capture.NewSession(dev, capture.WithChunkInterval(time.Millisecond))
	feed(t, dev, "hello from the microphone")

	c, err := CaptureFor(ctx, session, recording.KindVoice, 200*time.Millisecond)
	require.NoError(t, err)

	// 3. Save, then clear the pending buffer
	rec, err := SaveCapture(ctx, store, enc, c)
	require.NoError(t, err)
	session.Clear()
	require.Nil(t, session.Pending())

	// 4. List
	list, err := ListRecordings(ctx, store, ListInput{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, rec.ID, list.Items[0].ID)

	// 5. Export round-trips the plaintext
	dir := t.TempDir()
	exp, err := Export(ctx, store, enc, exportConfig(dir), ExportInput{Dir: dir})
	require.NoError(t, err)
	require.Equal(t, 1, exp.Count)
	data, err := os.ReadFile(exp.Files[0].Path)
	require.NoError(t, err)
	require.Equal(t, "hello from the microphone", string(data))

	// 6. Delete
	_, err = DeleteRecording(ctx, store, DeleteInput{ID: rec.ID})
	require.NoError(t, err)

	// 7. List is empty and export finds nothing
	list, err = ListRecordings(ctx, store, ListInput{})
	require.NoError(t, err)
	require.Empty(t, list.Items)

	_, err = Export(ctx, store, enc, exportConfig(dir), ExportInput{ID: rec.ID, Dir: dir})
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
}
