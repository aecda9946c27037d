// Package extract turns raw detection records into per-frame uncertainty
// bundles: confidence filtering, empty-frame routing, aleatoric vector
// reduction, epistemic shape handling and the three frame entropies.
package extract

import (
	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/al/entropy"
)

// Result holds parallel per-frame slices. Index i of every slice refers to
// FrameIDs[i]; frames routed to Empty appear in none of them.
type Result struct {
	FrameIDs []string

	// Aleatoric holds one value per surviving object.
	Aleatoric [][]float64
	Epistemic []al.Epistemic
	Scores    [][]float64

	// ObjectCounts is the detection count before the confidence filter.
	ObjectCounts []int

	CategoryEntropy []float64
	ScaleEntropy    []float64
	RotationEntropy []float64

	Empty []string
}

// Len returns the number of non-empty frames.
func (r *Result) Len() int {
	return len(r.FrameIDs)
}

// Frames extracts the uncertainty bundle of every detection record under
// policy p. Records are validated before anything is computed, so a
// malformed record anywhere fails the whole call.
func Frames(dets []al.Detection, p al.Policy) (*Result, error) {
	seen := make(map[string]struct{}, len(dets))
	for i := range dets {
		d := &dets[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.FrameID]; dup {
			return nil, &al.MalformedDetectionError{FrameID: d.FrameID, Field: "frame_id", Reason: "duplicate frame identifier"}
		}
		seen[d.FrameID] = struct{}{}
	}

	res := &Result{}
	shape := al.EpistemicAbsent
	for i := range dets {
		d := &dets[i]
		if d.Len() == 0 {
			res.Empty = append(res.Empty, d.FrameID)
			continue
		}
		keep := surviving(d.Scores, p.Threshold)
		if len(keep) == 0 {
			res.Empty = append(res.Empty, d.FrameID)
			continue
		}

		ep, err := epistemicFor(d, keep, p, &shape)
		if err != nil {
			return nil, err
		}

		names := make([]string, len(keep))
		scales := make([]float64, len(keep))
		rots := make([]float64, len(keep))
		scores := make([]float64, len(keep))
		aleatoric := make([]float64, len(keep))
		for j, k := range keep {
			names[j] = d.Names[k]
			scales[j] = entropy.ScaleOf(d.Boxes[k])
			rots[j] = d.Rotations[k]
			scores[j] = d.Scores[k]
			aleatoric[j] = maxComponent(d.Aleatoric[k])
		}

		res.FrameIDs = append(res.FrameIDs, d.FrameID)
		res.Aleatoric = append(res.Aleatoric, aleatoric)
		res.Epistemic = append(res.Epistemic, ep)
		res.Scores = append(res.Scores, scores)
		res.ObjectCounts = append(res.ObjectCounts, d.Len())
		res.CategoryEntropy = append(res.CategoryEntropy, entropy.Category(names))
		res.ScaleEntropy = append(res.ScaleEntropy, entropy.Scale(scales, p.Bins.ScaleMin, p.Bins.ScaleMax, p.Bins.ScaleWidth))
		res.RotationEntropy = append(res.RotationEntropy, entropy.Rotation(rots, p.Bins.RotationWidthDeg))
	}
	return res, nil
}

// surviving returns the indices of scores at or above threshold.
func surviving(scores []float64, threshold float64) []int {
	keep := make([]int, 0, len(scores))
	for i, s := range scores {
		if s >= threshold {
			keep = append(keep, i)
		}
	}
	return keep
}

// epistemicFor picks the estimate the policy consumes. Every frame of a
// round must carry the same epistemic shape; shape records the first one
// seen.
func epistemicFor(d *al.Detection, keep []int, p al.Policy, shape *al.EpistemicKind) (al.Epistemic, error) {
	switch p.Epistemic {
	case al.EpistemicFromMC:
		if d.EpistemicMC == nil {
			return al.Epistemic{}, &al.MalformedDetectionError{FrameID: d.FrameID, Field: "ep_mc", Reason: "rule requires a frame-level Monte-Carlo estimate"}
		}
		return al.FrameEpistemic(*d.EpistemicMC), nil
	case al.EpistemicFromModel:
		ep := d.Epistemic
		if ep.Kind == al.EpistemicAbsent {
			return al.Epistemic{}, &al.MalformedDetectionError{FrameID: d.FrameID, Field: "ep", Reason: "rule requires an epistemic estimate"}
		}
		if *shape == al.EpistemicAbsent {
			*shape = ep.Kind
		} else if ep.Kind != *shape {
			return al.Epistemic{}, &al.MalformedDetectionError{
				FrameID: d.FrameID,
				Field:   "ep",
				Reason:  "got " + ep.Kind.String() + " estimate after " + shape.String() + " estimates",
			}
		}
		return ep.Select(keep), nil
	default:
		return al.Epistemic{}, nil
	}
}

func maxComponent(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
