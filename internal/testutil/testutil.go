// Package testutil provides shared test fixtures for detection records
// and small assertion helpers.
//
// Fixtures keep the per-object arrays of a frame aligned so tests only
// spell out the values they care about.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/alquery/internal/al"
)

// Object describes one detected object in a fixture frame. Zero Length or
// Width fall back to a 4 m × 2 m car footprint.
type Object struct {
	Name      string
	Score     float64
	Aleatoric []float64
	Length    float64
	Width     float64
	Rotation  float64
}

// Obj returns a car-sized object with a scalar aleatoric value.
func Obj(name string, score, aleatoric float64) Object {
	return Object{Name: name, Score: score, Aleatoric: []float64{aleatoric}}
}

// Frame builds a detection record for id from objs with no epistemic
// estimate.
func Frame(id string, objs ...Object) al.Detection {
	d := al.Detection{
		FrameID:   id,
		Names:     make([]string, len(objs)),
		Boxes:     make([][]float64, len(objs)),
		Rotations: make([]float64, len(objs)),
		Scores:    make([]float64, len(objs)),
		Aleatoric: make(al.ObjectValues, len(objs)),
	}
	for i, o := range objs {
		l, w := o.Length, o.Width
		if l == 0 {
			l = 4
		}
		if w == 0 {
			w = 2
		}
		d.Names[i] = o.Name
		d.Boxes[i] = []float64{0, 0, 0, l, w, 1.5, o.Rotation}
		d.Rotations[i] = o.Rotation
		d.Scores[i] = o.Score
		d.Aleatoric[i] = append([]float64(nil), o.Aleatoric...)
	}
	return d
}

// WithFrameEpistemic attaches a frame-scalar epistemic estimate.
func WithFrameEpistemic(d al.Detection, v float64) al.Detection {
	d.Epistemic = al.FrameEpistemic(v)
	return d
}

// WithObjectEpistemic attaches one epistemic value per object.
func WithObjectEpistemic(d al.Detection, vs ...float64) al.Detection {
	d.Epistemic = al.ObjectEpistemic(vs...)
	return d
}

// WithMC attaches a Monte-Carlo dropout estimate.
func WithMC(d al.Detection, v float64) al.Detection {
	d.EpistemicMC = &v
	return d
}

// TempDBPath returns a database path inside a per-test temporary directory.
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "rounds.db")
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
