// Package entropy computes the base-2 Shannon entropies used to describe
// how varied a frame's detections are: by class, by footprint and by
// heading.
package entropy

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Shannon returns -Σ f·log2 f over freqs. Zero entries are dropped before
// the log; freqs is expected to sum to 1.
func Shannon(freqs []float64) float64 {
	nz := make([]float64, 0, len(freqs))
	for _, f := range freqs {
		if f > 0 {
			nz = append(nz, f)
		}
	}
	if len(nz) < 2 {
		return 0
	}
	return stat.Entropy(nz) / math.Ln2
}

// Category returns the entropy of the empirical class distribution.
func Category(labels []string) float64 {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[string]int, len(labels))
	order := make([]string, 0, len(labels))
	for _, l := range labels {
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}
	freqs := make([]float64, len(order))
	for i, l := range order {
		freqs[i] = float64(counts[l]) / float64(len(labels))
	}
	return Shannon(freqs)
}

// Scale returns the entropy of box footprints clipped to [lo, hi] and
// binned into right-closed intervals (lo+k·w, lo+(k+1)·w]. A value equal
// to lo falls outside every bin and is not counted.
func Scale(scales []float64, lo, hi, width float64) float64 {
	clipped := make([]float64, len(scales))
	for i, s := range scales {
		clipped[i] = clamp(s, lo, hi)
	}
	return binned(clipped, edges(lo, hi, width))
}

// minRotationDeg keeps a heading of exactly 0° inside the first bin.
const minRotationDeg = 0.01

// Rotation returns the entropy of headings given in radians. Angles are
// wrapped into [0, 360) degrees, clipped to [0.01, 360] and binned into
// right-closed sectors of widthDeg starting at 0.
func Rotation(radians []float64, widthDeg float64) float64 {
	deg := make([]float64, len(radians))
	for i, r := range radians {
		d := r * 180 / math.Pi
		d -= math.Floor(d/360) * 360
		deg[i] = clamp(d, minRotationDeg, 360)
	}
	return binned(deg, edges(0, 360, widthDeg))
}

// ScaleOf returns the ground footprint (length × width) of a box laid out
// as [x, y, z, length, width, ...].
func ScaleOf(box []float64) float64 {
	if len(box) < 5 {
		return 0
	}
	return box[3] * box[4]
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// edges returns lo, lo+w, ... up to and including hi when w divides the
// range evenly.
func edges(lo, hi, w float64) []float64 {
	if !(w > 0) || !(hi > lo) {
		return nil
	}
	n := int(math.Floor((hi-lo)/w + 1e-9))
	out := make([]float64, n+1)
	for k := range out {
		out[k] = lo + float64(k)*w
	}
	return out
}

// binned counts values into right-closed bins between consecutive edges
// and returns the entropy of the occupancy frequencies. Values outside
// (edges[0], edges[len-1]] are ignored.
func binned(values, e []float64) float64 {
	if len(e) < 2 || len(values) == 0 {
		return 0
	}
	counts := make([]float64, len(e)-1)
	total := 0.0
	for _, v := range values {
		if math.IsNaN(v) || v <= e[0] || v > e[len(e)-1] {
			continue
		}
		k := int(math.Ceil((v-e[0])/(e[1]-e[0]))) - 1
		if k < 0 {
			k = 0
		}
		if k >= len(counts) {
			k = len(counts) - 1
		}
		// guard against floating point drift at bin edges
		for k > 0 && v <= e[k] {
			k--
		}
		for k < len(counts)-1 && v > e[k+1] {
			k++
		}
		counts[k]++
		total++
	}
	if total == 0 {
		return 0
	}
	for i := range counts {
		counts[i] /= total
	}
	return Shannon(counts)
}
