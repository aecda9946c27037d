package rank

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/al/aggregate"
	"github.com/banshee-data/alquery/internal/al/extract"
)

func policy(t *testing.T, rule, budget int, mutate func(*al.Params)) al.Policy {
	t.Helper()
	p := al.DefaultParams()
	p.Rule = rule
	p.Budget = budget
	if mutate != nil {
		mutate(&p)
	}
	pol, err := al.NewPolicy(p)
	require.NoError(t, err)
	return pol
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('A' + i))
	}
	return out
}

func TestSelect_ObjectCount(t *testing.T) {
	t.Parallel()

	res := &extract.Result{FrameIDs: ids(3), ObjectCounts: []int{1, 5, 3}}
	r, err := Select(res, &aggregate.Aggregated{}, policy(t, 4, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, r.Chosen)
	assert.Len(t, r.Candidates, 3)
}

func TestSelect_CategoryGate(t *testing.T) {
	t.Parallel()

	res := &extract.Result{
		FrameIDs:        ids(4),
		CategoryEntropy: []float64{0.1, 0.9, 0.5, 0.7},
	}
	// A has the best weighted key but is dropped by the entropy gate.
	agg := &aggregate.Aggregated{
		Aleatoric: []float64{1.0, 0.2, 0.9, 0.6},
		Epistemic: []float64{1.0, 0.1, 0.9, 0.3},
	}
	r, err := Select(res, agg, policy(t, 9, 1, func(p *al.Params) { p.K1 = 2 }))
	require.NoError(t, err)

	got := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		got[i] = c.FrameID
	}
	assert.Equal(t, []string{"D", "B"}, got)
	assert.Equal(t, []string{"D"}, r.Chosen)
	assert.InDelta(t, 0.9, r.Candidates[0].Score, 1e-12)
}

func TestSelect_StatisticalGate(t *testing.T) {
	t.Parallel()

	res := &extract.Result{
		FrameIDs:        ids(3),
		CategoryEntropy: []float64{0, 0, 1},
		ScaleEntropy:    []float64{0, 2, 1},
		RotationEntropy: []float64{1, 1, 1},
	}
	agg := &aggregate.Aggregated{Aleatoric: []float64{1, 0, 0.5}, Epistemic: []float64{1, 0, 0.5}}
	pol := policy(t, 12, 1, func(p *al.Params) {
		p.K1 = 2
		p.Stat = &al.StatWeights{Category: 1, Scale: 1, Rotation: 5}
	})

	gate, err := GateValues(res, pol)
	require.NoError(t, err)
	// rotation entropies are constant and rescale to 0
	if diff := cmp.Diff([]float64{0, 1, 1.5}, gate); diff != "" {
		t.Errorf("gate values mismatch (-want +got):\n%s", diff)
	}

	r, err := Select(res, agg, pol)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, r.Chosen)
	assert.Len(t, r.Candidates, 2)
}

func TestSelect_WeightedKey(t *testing.T) {
	t.Parallel()

	res := &extract.Result{FrameIDs: ids(2)}
	agg := &aggregate.Aggregated{Aleatoric: []float64{1, 0}, Epistemic: []float64{0, 1}}

	r, err := Select(res, agg, policy(t, 13, 1, func(p *al.Params) { p.EUTheta, p.AUTheta = 2, 1 }))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, r.Chosen)

	r, err = Select(res, agg, policy(t, 7, 1, func(p *al.Params) { p.EUTheta, p.AUTheta = 0.5, 1 }))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, r.Chosen)
}

func TestSelect_TiesKeepDiscoveryOrder(t *testing.T) {
	t.Parallel()

	res := &extract.Result{FrameIDs: ids(5)}
	agg := &aggregate.Aggregated{Aleatoric: []float64{0.5, 1, 0.5, 1, 0.5}}
	r, err := Select(res, agg, policy(t, 1, 4, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D", "A", "C"}, r.Chosen)
}

func TestSelect_FewerFramesThanBudget(t *testing.T) {
	t.Parallel()

	res := &extract.Result{FrameIDs: ids(2)}
	agg := &aggregate.Aggregated{Aleatoric: []float64{0.2, 0.4}}
	r, err := Select(res, agg, policy(t, 2, 10, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, r.Chosen)

	r, err = Select(&extract.Result{}, &aggregate.Aggregated{}, policy(t, 2, 3, nil))
	require.NoError(t, err)
	assert.Empty(t, r.Chosen)
}

func TestSelect_MissingEpistemic(t *testing.T) {
	t.Parallel()

	res := &extract.Result{FrameIDs: ids(2)}
	_, err := Select(res, &aggregate.Aggregated{Aleatoric: []float64{1, 2}}, policy(t, 6, 1, nil))
	assert.Error(t, err)
}

func TestSort_NaNLast(t *testing.T) {
	t.Parallel()

	c := []Candidate{
		{FrameID: "nan", Score: math.NaN(), Order: 0},
		{FrameID: "low", Score: 0.1, Order: 1},
		{FrameID: "high", Score: 0.9, Order: 2},
	}
	Sort(c)
	assert.Equal(t, "high", c[0].FrameID)
	assert.Equal(t, "low", c[1].FrameID)
	assert.Equal(t, "nan", c[2].FrameID)
}

func TestCandidate_JSONNonFinite(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal([]Candidate{{FrameID: "a", Score: 0.5, Order: 1}, {FrameID: "b", Score: math.NaN(), Order: 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"frame_id":"a","score":0.5,"order":1},{"frame_id":"b","score":null,"order":2}]`, string(data))

	var back []Candidate
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 2)
	assert.Equal(t, 0.5, back[0].Score)
	assert.True(t, math.IsNaN(back[1].Score))
}
