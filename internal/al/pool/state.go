package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/alquery/internal/al"
)

const maxStateFileSize = 64 << 20

// State is the on-disk form of a labelling campaign: the dataset listing
// plus its current partition. FrameIDs[i] is the identifier of index i.
type State struct {
	FrameIDs []string `json:"frame_ids"`
	Partition
}

// Validate checks that the partition only references listed indices and
// has no duplicates.
func (s State) Validate() error {
	if err := s.Partition.Validate(); err != nil {
		return err
	}
	for _, set := range [][]int{s.Labeled, s.Unlabeled} {
		for _, i := range set {
			if i < 0 || i >= len(s.FrameIDs) {
				return &al.InvalidParameterError{Param: "partition", Reason: fmt.Sprintf("index %d outside listing of %d frames", i, len(s.FrameIDs))}
			}
		}
	}
	return nil
}

// Table builds the FrameTable of the listing.
func (s State) Table() (*FrameTable, error) {
	return IndexerFromIDs(s.FrameIDs)
}

// UnlabeledFrames returns the identifiers of the unlabeled indices.
func (s State) UnlabeledFrames() ([]string, error) {
	t, err := s.Table()
	if err != nil {
		return nil, err
	}
	return t.Frames(s.Unlabeled)
}

// WithPartition returns a copy of s holding p.
func (s State) WithPartition(p Partition) State {
	return State{FrameIDs: s.FrameIDs, Partition: p}
}

// LoadState reads and validates a state file. The file must be JSON.
func LoadState(path string) (State, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return State{}, fmt.Errorf("pool file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return State{}, fmt.Errorf("failed to stat pool file: %w", err)
	}
	if info.Size() > maxStateFileSize {
		return State{}, fmt.Errorf("pool file too large: %d bytes (max %d)", info.Size(), maxStateFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return State{}, fmt.Errorf("failed to read pool file: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to parse pool file %s: %w", path, err)
	}
	if s.Labeled == nil {
		s.Labeled = []int{}
	}
	if s.Unlabeled == nil {
		s.Unlabeled = []int{}
	}
	if err := s.Validate(); err != nil {
		return State{}, fmt.Errorf("invalid pool file %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path as indented JSON.
func (s State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pool state: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write pool state: %w", err)
	}
	return nil
}
