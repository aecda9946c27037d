// Package rank turns aggregated per-frame uncertainties into ranking keys,
// applies the optional entropy gate and picks the top-budget frames.
package rank

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/al/aggregate"
	"github.com/banshee-data/alquery/internal/al/extract"
)

// Candidate is one scored frame. Order is the frame's position in the
// extraction result and breaks ties between equal scores.
type Candidate struct {
	FrameID string  `json:"frame_id"`
	Score   float64 `json:"score"`
	Order   int     `json:"order"`
}

// MarshalJSON writes a non-finite score as null.
func (c Candidate) MarshalJSON() ([]byte, error) {
	var score *float64
	if !math.IsNaN(c.Score) && !math.IsInf(c.Score, 0) {
		score = &c.Score
	}
	return json.Marshal(struct {
		FrameID string   `json:"frame_id"`
		Score   *float64 `json:"score"`
		Order   int      `json:"order"`
	}{c.FrameID, score, c.Order})
}

// UnmarshalJSON reads a null score as NaN.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw struct {
		FrameID string   `json:"frame_id"`
		Score   *float64 `json:"score"`
		Order   int      `json:"order"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.FrameID, c.Order, c.Score = raw.FrameID, raw.Order, math.NaN()
	if raw.Score != nil {
		c.Score = *raw.Score
	}
	return nil
}

// Ranking is the outcome of Select.
type Ranking struct {
	// Candidates holds every frame that passed the gate, best first.
	Candidates []Candidate
	// Chosen holds the identifiers of the first Budget candidates.
	Chosen []string
}

// Keys returns the ranking key of every non-empty frame, index-aligned
// with res.FrameIDs.
func Keys(res *extract.Result, agg *aggregate.Aggregated, p al.Policy) ([]float64, error) {
	n := res.Len()
	switch p.Key {
	case al.KeyAleatoric:
		if len(agg.Aleatoric) != n {
			return nil, fmt.Errorf("aleatoric key: got %d values for %d frames", len(agg.Aleatoric), n)
		}
		return append([]float64(nil), agg.Aleatoric...), nil
	case al.KeyEpistemic:
		if len(agg.Epistemic) != n {
			return nil, fmt.Errorf("epistemic key: got %d values for %d frames", len(agg.Epistemic), n)
		}
		return append([]float64(nil), agg.Epistemic...), nil
	case al.KeyWeighted:
		if len(agg.Epistemic) != n || len(agg.Aleatoric) != n {
			return nil, fmt.Errorf("weighted key: got %d epistemic and %d aleatoric values for %d frames",
				len(agg.Epistemic), len(agg.Aleatoric), n)
		}
		keys := make([]float64, n)
		for i := range keys {
			keys[i] = p.EUTheta*agg.Epistemic[i] + p.AUTheta*agg.Aleatoric[i]
		}
		return keys, nil
	case al.KeyCategoryEntropy:
		return append([]float64(nil), res.CategoryEntropy...), nil
	case al.KeyObjectCount:
		keys := make([]float64, len(res.ObjectCounts))
		for i, c := range res.ObjectCounts {
			keys[i] = float64(c)
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("unhandled ranking key %d for rule %d", p.Key, int(p.Rule))
	}
}

// GateValues returns the first-stage value of every non-empty frame for a
// gated policy, or nil when the policy has no gate.
func GateValues(res *extract.Result, p al.Policy) ([]float64, error) {
	switch p.Gate {
	case al.GateNone:
		return nil, nil
	case al.GateCategoryEntropy:
		return append([]float64(nil), res.CategoryEntropy...), nil
	case al.GateStatistical:
		scale, err := aggregate.Rescale("scale entropy", res.ScaleEntropy)
		if err != nil {
			return nil, err
		}
		rot, err := aggregate.Rescale("rotation entropy", res.RotationEntropy)
		if err != nil {
			return nil, err
		}
		vals := make([]float64, res.Len())
		for i := range vals {
			vals[i] = p.Stat.Category*res.CategoryEntropy[i] + p.Stat.Scale*scale[i] + p.Stat.Rotation*rot[i]
		}
		return vals, nil
	default:
		return nil, fmt.Errorf("unhandled gate %d for rule %d", p.Gate, int(p.Rule))
	}
}

// Select ranks the non-empty frames of res under p. A gated policy first
// shortlists floor(K1·Budget) frames by gate value; the shortlisted keys
// are compared as they are, without another rescale. Candidates are sorted
// by descending key with ties in discovery order, and the first Budget
// become Chosen.
func Select(res *extract.Result, agg *aggregate.Aggregated, p al.Policy) (*Ranking, error) {
	keys, err := Keys(res, agg, p)
	if err != nil {
		return nil, err
	}
	if len(keys) != res.Len() {
		return nil, fmt.Errorf("got %d keys for %d frames", len(keys), res.Len())
	}
	cands := make([]Candidate, len(keys))
	for i, k := range keys {
		cands[i] = Candidate{FrameID: res.FrameIDs[i], Score: k, Order: i}
	}

	gate, err := GateValues(res, p)
	if err != nil {
		return nil, err
	}
	if gate != nil {
		cands = shortlist(cands, gate, p.ShortlistSize())
	}

	Sort(cands)
	n := p.Budget
	if n > len(cands) {
		n = len(cands)
	}
	chosen := make([]string, n)
	for i := range chosen {
		chosen[i] = cands[i].FrameID
	}
	return &Ranking{Candidates: cands, Chosen: chosen}, nil
}

// Sort orders candidates by descending score, then ascending Order. NaN
// scores sort last.
func Sort(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].Score, cands[j].Score
		switch {
		case math.IsNaN(a) != math.IsNaN(b):
			return math.IsNaN(b)
		case a != b && !math.IsNaN(a):
			return a > b
		default:
			return cands[i].Order < cands[j].Order
		}
	})
}

// shortlist keeps the size candidates with the highest gate values,
// returned in discovery order.
func shortlist(cands []Candidate, gate []float64, size int) []Candidate {
	if size >= len(cands) {
		return cands
	}
	byGate := make([]Candidate, len(cands))
	for i, c := range cands {
		byGate[i] = Candidate{FrameID: c.FrameID, Score: gate[c.Order], Order: c.Order}
	}
	Sort(byGate)
	kept := make([]bool, len(cands))
	for _, c := range byGate[:size] {
		kept[c.Order] = true
	}
	out := make([]Candidate, 0, size)
	for _, c := range cands {
		if kept[c.Order] {
			out = append(out, c)
		}
	}
	return out
}
