package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Sink persists the export of a finished run.
type Sink interface {
	Persist(ctx context.Context, export RunExport) error
}

// TraceWriter stores each finished run as <dir>/<run_id>.json.
type TraceWriter struct {
	dir    string
	logger *zap.Logger
}

var _ Sink = (*TraceWriter)(nil)

// NewTraceWriter creates the directory if needed.
func NewTraceWriter(dir string, logger *zap.Logger) (*TraceWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create traces directory %s: %w", dir, err)
	}
	return &TraceWriter{dir: dir, logger: logger.Named("trace_writer")}, nil
}

// Path returns the file a run is written to.
func (w *TraceWriter) Path(runID string) string {
	return filepath.Join(w.dir, filepath.Base(runID)+".json")
}

// Persist writes the export atomically (temp file + rename).
func (w *TraceWriter) Persist(_ context.Context, export RunExport) error {
	path := w.Path(export.RunID)
	tmp, err := os.CreateTemp(w.dir, ".trace-*.json")
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmp.Name())
	}()

	if err := WriteJSON(tmp, export); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move trace file into place: %w", err)
	}
	w.logger.Info("Run trace written", zap.String("run_id", export.RunID), zap.String("path", path))
	return nil
}
