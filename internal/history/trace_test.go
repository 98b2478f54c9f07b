package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTraceWriterPersist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	w, err := NewTraceWriter(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	export := RunExport{RunID: "abc-123", Task: "t", Status: "completed", Records: []Record{{Step: 0}}}
	require.NoError(t, w.Persist(context.Background(), export))

	f, err := os.Open(filepath.Join(dir, "abc-123.json"))
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadJSON(f)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got.RunID)

	// Only the final file remains.
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	assert.Equal(t, filepath.Join(dir, "x.json"), w.Path("../../x"))
}
