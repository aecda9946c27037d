package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/alquery/internal/al"
)

// maxDetectionFileSize bounds how much a replay file may hold.
const maxDetectionFileSize = 512 << 20

// LoadDetections reads detection records from a .json or .cbor file. Both
// hold an array of records using the detector's field names.
func LoadDetections(path string) ([]al.Detection, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".cbor" {
		return nil, fmt.Errorf("detection file must have .json or .cbor extension, got %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat detection file: %w", err)
	}
	if info.Size() > maxDetectionFileSize {
		return nil, fmt.Errorf("detection file too large: %d bytes (max %d)", info.Size(), maxDetectionFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read detection file: %w", err)
	}

	var dets []al.Detection
	if ext == ".cbor" {
		err = cbor.Unmarshal(data, &dets)
	} else {
		err = json.Unmarshal(data, &dets)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse detection file %s: %w", path, err)
	}
	return dets, nil
}

// WriteDetections saves records to path, encoded by its extension.
func WriteDetections(path string, dets []al.Detection) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(dets, "", "  ")
	case ".cbor":
		data, err = cbor.Marshal(dets)
	default:
		return fmt.Errorf("detection file must have .json or .cbor extension: %s", path)
	}
	if err != nil {
		return fmt.Errorf("encode detections: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write detections: %w", err)
	}
	return nil
}

// FileRunner replays records saved by a previous inference pass. The file
// is read on first use.
type FileRunner struct {
	Path string

	once sync.Once
	dets []al.Detection
	err  error
}

// NewFileRunner returns a runner over the records in path.
func NewFileRunner(path string) *FileRunner {
	return &FileRunner{Path: path}
}

// Infer implements Runner.
func (r *FileRunner) Infer(ctx context.Context, frames []string) ([]al.Detection, error) {
	r.once.Do(func() {
		r.dets, r.err = LoadDetections(r.Path)
		if r.err == nil {
			logf("loaded %d detection records from %s", len(r.dets), r.Path)
		}
	})
	if r.err != nil {
		return nil, r.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Align(frames, r.dets)
}

// RecordingRunner wraps a Runner and saves every successful result to Path.
type RecordingRunner struct {
	Runner Runner
	Path   string
}

// Infer implements Runner.
func (r *RecordingRunner) Infer(ctx context.Context, frames []string) ([]al.Detection, error) {
	dets, err := r.Runner.Infer(ctx, frames)
	if err != nil {
		return nil, err
	}
	if err := WriteDetections(r.Path, dets); err != nil {
		return nil, fmt.Errorf("save detections: %w", err)
	}
	return dets, nil
}
