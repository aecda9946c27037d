package pool

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alquery/internal/al"
)

func TestUpdate_MovesChosen(t *testing.T) {
	t.Parallel()

	idx := MapIndexer{"a": 10, "b": 11, "c": 12, "d": 13}
	cur := Partition{Labeled: []int{3, 1}, Unlabeled: []int{12, 10, 13, 11}}
	next, err := Update([]string{"c", "a"}, idx, cur)
	require.NoError(t, err)

	if diff := cmp.Diff(Partition{Labeled: []int{1, 3, 10, 12}, Unlabeled: []int{11, 13}}, next); diff != "" {
		t.Errorf("partition mismatch (-want +got):\n%s", diff)
	}
	// input untouched
	assert.Equal(t, []int{3, 1}, cur.Labeled)
	assert.Equal(t, []int{12, 10, 13, 11}, cur.Unlabeled)
}

func TestUpdate_Invariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 25; round++ {
		n := 5 + rng.Intn(40)
		ids := make([]string, n)
		for i := range ids {
			ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
		}
		table, err := IndexerFromIDs(ids)
		require.NoError(t, err)

		perm := rng.Perm(n)
		split := rng.Intn(n)
		cur := Partition{Labeled: perm[:split], Unlabeled: perm[split:]}
		k := rng.Intn(len(cur.Unlabeled) + 1)
		chosen, err := table.Frames(cur.Unlabeled[:k])
		require.NoError(t, err)

		next, err := Update(chosen, table, cur)
		require.NoError(t, err)
		assert.Len(t, next.Labeled, len(cur.Labeled)+k)
		assert.Len(t, next.Unlabeled, len(cur.Unlabeled)-k)
		require.NoError(t, next.Validate())

		union := append(append([]int(nil), next.Labeled...), next.Unlabeled...)
		sort.Ints(union)
		want := append([]int(nil), perm...)
		sort.Ints(want)
		assert.Equal(t, want, union)
	}
}

func TestUpdate_UnknownFrame(t *testing.T) {
	t.Parallel()

	idx := MapIndexer{"a": 0, "b": 1}
	cur := Partition{Labeled: []int{0}, Unlabeled: []int{1}}

	tests := []struct {
		name   string
		chosen []string
	}{
		{"not indexed", []string{"zzz"}},
		{"already labeled", []string{"a"}},
		{"chosen twice", []string{"b", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Update(tt.chosen, idx, cur)
			var unknown *al.UnknownFrameIDError
			if !errors.As(err, &unknown) {
				t.Fatalf("expected UnknownFrameIDError, got %v", err)
			}
			assert.Equal(t, tt.chosen[0], unknown.FrameID)
		})
	}
	assert.Equal(t, Partition{Labeled: []int{0}, Unlabeled: []int{1}}, cur)
}

func TestUpdate_NothingChosen(t *testing.T) {
	t.Parallel()

	next, err := Update(nil, MapIndexer{}, Partition{Labeled: []int{2}, Unlabeled: []int{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, next.Labeled)
	assert.Equal(t, []int{0, 1}, next.Unlabeled)
}

func TestIndexerFromIDs(t *testing.T) {
	t.Parallel()

	table, err := IndexerFromIDs([]string{"000001", "000007", "000003"})
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	i, ok := table.Index("000007")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = table.Index("missing")
	assert.False(t, ok)

	id, ok := table.ID(2)
	assert.True(t, ok)
	assert.Equal(t, "000003", id)
	_, ok = table.ID(3)
	assert.False(t, ok)

	_, err = table.Frames([]int{0, 5})
	var invalid *al.InvalidParameterError
	assert.ErrorAs(t, err, &invalid)

	_, err = IndexerFromIDs([]string{"x", "y", "x"})
	assert.Error(t, err)
}

func TestPartition_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Partition{Labeled: []int{1}, Unlabeled: []int{2}}.Validate())
	assert.Error(t, Partition{Labeled: []int{1}, Unlabeled: []int{1}}.Validate())
	assert.Error(t, Partition{Unlabeled: []int{4, 4}}.Validate())
}

func TestPartition_ShuffleDeterministic(t *testing.T) {
	t.Parallel()

	p := Partition{Labeled: []int{0, 1, 2, 3, 4, 5}, Unlabeled: []int{6, 7, 8, 9}}
	a := p.Shuffle(rand.New(rand.NewSource(666)))
	b := p.Shuffle(rand.New(rand.NewSource(666)))
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, p.Labeled, a.Labeled)
	assert.ElementsMatch(t, p.Unlabeled, a.Unlabeled)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, p.Labeled)
}
