// Package aggregate reduces each frame's per-object uncertainties to one
// scalar. Min-max bounds are computed in a separate pass over a flat
// buffer and handed to the rescaling step explicitly.
package aggregate

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/al/extract"
)

// Bounds is the min-max range of a pooled set of values.
type Bounds struct {
	Min float64
	Max float64
}

// Flatten copies every per-frame value into one buffer.
func Flatten(values [][]float64) []float64 {
	n := 0
	for _, v := range values {
		n += len(v)
	}
	flat := make([]float64, 0, n)
	for _, v := range values {
		flat = append(flat, v...)
	}
	return flat
}

// BoundsOf returns the min-max range of values. An empty buffer has no
// range and yields an EmptyPoolError tagged with stage.
func BoundsOf(stage string, values []float64) (Bounds, error) {
	if len(values) == 0 {
		return Bounds{}, &al.EmptyPoolError{Stage: stage}
	}
	return Bounds{Min: floats.Min(values), Max: floats.Max(values)}, nil
}

// Normalize maps v into [0, 1]. A degenerate range maps everything to 0.
func (b Bounds) Normalize(v float64) float64 {
	span := b.Max - b.Min
	if span == 0 {
		return 0
	}
	return (v - b.Min) / span
}

// NormalizeAll returns a rescaled copy of vs.
func (b Bounds) NormalizeAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = b.Normalize(v)
	}
	return out
}

// Rescale min-max normalises vs against its own range.
func Rescale(stage string, vs []float64) ([]float64, error) {
	b, err := BoundsOf(stage, vs)
	if err != nil {
		return nil, err
	}
	return b.NormalizeAll(vs), nil
}

// Reduce collapses one frame's values into a scalar.
func Reduce(vs []float64, r al.Reduction) float64 {
	if len(vs) == 0 {
		return 0
	}
	switch r {
	case al.ReduceMax:
		return floats.Max(vs)
	case al.ReduceSum:
		return floats.Sum(vs)
	default:
		return stat.Mean(vs, nil)
	}
}

// ReduceAll applies Reduce to every frame.
func ReduceAll(values [][]float64, r al.Reduction) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = Reduce(v, r)
	}
	return out
}

// Complement returns 1 - s for every score.
func Complement(scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = 1 - s
	}
	return out
}

// Aggregated holds one aleatoric and, when the policy reads one, one
// epistemic scalar per non-empty frame, index-aligned with the
// extractor's FrameIDs.
type Aggregated struct {
	Aleatoric []float64
	Epistemic []float64
}

// Frames aggregates an extraction result under policy p.
//
// Aleatoric values are rescaled against the bounds of every object in
// every frame, optionally weighted by (complemented) confidence, then
// reduced per frame. When the policy consumes epistemic estimates they are
// rescaled across frames (scalar estimates) or across all objects and then
// reduced (per-object estimates), and both reduced lists are rescaled
// across frames once more.
func Frames(res *extract.Result, p al.Policy) (*Aggregated, error) {
	auBounds, err := BoundsOf("aleatoric", Flatten(res.Aleatoric))
	if err != nil {
		return nil, err
	}

	scores := make([][]float64, len(res.Scores))
	for i, s := range res.Scores {
		if p.ScoreReverse {
			scores[i] = Complement(s)
		} else {
			scores[i] = append([]float64(nil), s...)
		}
	}

	perObject := make([][]float64, len(res.Aleatoric))
	for i, au := range res.Aleatoric {
		switch {
		case p.UseConfidence:
			perObject[i] = scores[i]
		case p.ScorePlus:
			v := auBounds.NormalizeAll(au)
			floats.Mul(v, scores[i])
			perObject[i] = v
		default:
			perObject[i] = auBounds.NormalizeAll(au)
		}
	}

	out := &Aggregated{Aleatoric: ReduceAll(perObject, p.Reduction)}
	if !p.UsesEpistemic() || len(res.Epistemic) == 0 {
		return out, nil
	}

	switch res.Epistemic[0].Kind {
	case al.EpistemicFrame:
		eu := make([]float64, len(res.Epistemic))
		for i, e := range res.Epistemic {
			eu[i] = e.Frame
		}
		if out.Epistemic, err = Rescale("epistemic", eu); err != nil {
			return nil, err
		}
	case al.EpistemicPerObject:
		perFrame := make([][]float64, len(res.Epistemic))
		for i, e := range res.Epistemic {
			perFrame[i] = e.PerObject
		}
		euBounds, err := BoundsOf("epistemic", Flatten(perFrame))
		if err != nil {
			return nil, err
		}
		for i := range perFrame {
			perFrame[i] = euBounds.NormalizeAll(perFrame[i])
		}
		if out.Epistemic, err = Rescale("epistemic", ReduceAll(perFrame, p.Reduction)); err != nil {
			return nil, err
		}
	default:
		return out, nil
	}

	if out.Aleatoric, err = Rescale("aleatoric", out.Aleatoric); err != nil {
		return nil, err
	}
	return out, nil
}
