// Package pool tracks which dataset indices are labeled and which are
// still available for querying.
package pool

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/banshee-data/alquery/internal/al"
)

// Indexer maps a frame identifier to its dataset index.
type Indexer interface {
	Index(frameID string) (int, bool)
}

// MapIndexer is an Indexer backed by a map.
type MapIndexer map[string]int

// Index implements Indexer.
func (m MapIndexer) Index(frameID string) (int, bool) {
	i, ok := m[frameID]
	return i, ok
}

// FrameTable indexes frames by their position in a dataset listing:
// ids[i] is the identifier of dataset index i.
type FrameTable struct {
	ids   []string
	index map[string]int
}

// IndexerFromIDs builds a FrameTable. Duplicate identifiers are rejected.
func IndexerFromIDs(ids []string) (*FrameTable, error) {
	t := &FrameTable{ids: append([]string(nil), ids...), index: make(map[string]int, len(ids))}
	for i, id := range ids {
		if prev, dup := t.index[id]; dup {
			return nil, &al.InvalidParameterError{Param: "frame_ids", Reason: fmt.Sprintf("frame id %q listed at indices %d and %d", id, prev, i)}
		}
		t.index[id] = i
	}
	return t, nil
}

// Index implements Indexer.
func (t *FrameTable) Index(frameID string) (int, bool) {
	i, ok := t.index[frameID]
	return i, ok
}

// ID returns the identifier at dataset index i.
func (t *FrameTable) ID(i int) (string, bool) {
	if i < 0 || i >= len(t.ids) {
		return "", false
	}
	return t.ids[i], true
}

// Len returns the number of listed frames.
func (t *FrameTable) Len() int {
	return len(t.ids)
}

// Frames returns the identifiers of the given indices in order.
func (t *FrameTable) Frames(indices []int) ([]string, error) {
	out := make([]string, len(indices))
	for i, idx := range indices {
		id, ok := t.ID(idx)
		if !ok {
			return nil, &al.InvalidParameterError{Param: "dataset index", Reason: fmt.Sprintf("%d outside listing of %d frames", idx, len(t.ids))}
		}
		out[i] = id
	}
	return out, nil
}

// Partition is the labeled/unlabeled split of the dataset indices.
type Partition struct {
	Labeled   []int `json:"labeled"`
	Unlabeled []int `json:"unlabeled"`
}

// Len returns the total number of indices in the partition.
func (p Partition) Len() int {
	return len(p.Labeled) + len(p.Unlabeled)
}

// Validate reports duplicate indices within or across the two sets.
func (p Partition) Validate() error {
	seen := make(map[int]string, p.Len())
	for _, set := range []struct {
		name string
		idx  []int
	}{{"labeled", p.Labeled}, {"unlabeled", p.Unlabeled}} {
		for _, i := range set.idx {
			if prev, ok := seen[i]; ok {
				return &al.InvalidParameterError{Param: "partition", Reason: fmt.Sprintf("index %d appears in %s and %s", i, prev, set.name)}
			}
			seen[i] = set.name
		}
	}
	return nil
}

// Update moves the chosen frames from the unlabeled set into the labeled
// set. Every chosen identifier must resolve through idx to an index that
// is currently unlabeled; otherwise an UnknownFrameIDError is returned and
// nothing changes. cur is never modified. Both returned sets are sorted.
func Update(chosen []string, idx Indexer, cur Partition) (Partition, error) {
	unlabeled := make(map[int]struct{}, len(cur.Unlabeled))
	for _, i := range cur.Unlabeled {
		unlabeled[i] = struct{}{}
	}

	move := make(map[int]struct{}, len(chosen))
	for _, id := range chosen {
		i, ok := idx.Index(id)
		if !ok {
			return Partition{}, &al.UnknownFrameIDError{FrameID: id, Reason: "no dataset index"}
		}
		if _, ok := unlabeled[i]; !ok {
			return Partition{}, &al.UnknownFrameIDError{FrameID: id, Reason: fmt.Sprintf("index %d is not in the unlabeled pool", i)}
		}
		if _, dup := move[i]; dup {
			return Partition{}, &al.UnknownFrameIDError{FrameID: id, Reason: fmt.Sprintf("index %d chosen twice", i)}
		}
		move[i] = struct{}{}
	}

	next := Partition{
		Labeled:   make([]int, 0, len(cur.Labeled)+len(move)),
		Unlabeled: make([]int, 0, len(cur.Unlabeled)-len(move)),
	}
	next.Labeled = append(next.Labeled, cur.Labeled...)
	for _, i := range cur.Unlabeled {
		if _, ok := move[i]; ok {
			next.Labeled = append(next.Labeled, i)
		} else {
			next.Unlabeled = append(next.Unlabeled, i)
		}
	}
	sort.Ints(next.Labeled)
	sort.Ints(next.Unlabeled)
	return next, nil
}

// Shuffle returns a copy of p with both sets shuffled by rng.
func (p Partition) Shuffle(rng *rand.Rand) Partition {
	out := Partition{
		Labeled:   append([]int(nil), p.Labeled...),
		Unlabeled: append([]int(nil), p.Unlabeled...),
	}
	rng.Shuffle(len(out.Labeled), func(i, j int) { out.Labeled[i], out.Labeled[j] = out.Labeled[j], out.Labeled[i] })
	rng.Shuffle(len(out.Unlabeled), func(i, j int) { out.Unlabeled[i], out.Unlabeled[j] = out.Unlabeled[j], out.Unlabeled[i] })
	return out
}
