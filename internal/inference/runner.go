// Package inference provides the runners that produce detection records
// for the unlabeled pool: a gRPC client to the detector service, a replay
// runner over saved detection files and an in-memory runner.
package inference

import (
	"context"

	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/monitoring"
)

var logf = monitoring.Subsystem("inference")

// Runner runs the detection model over a set of frames. It blocks until
// every frame has a record or the call fails.
type Runner interface {
	Infer(ctx context.Context, frames []string) ([]al.Detection, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, frames []string) ([]al.Detection, error)

// Infer implements Runner.
func (f RunnerFunc) Infer(ctx context.Context, frames []string) ([]al.Detection, error) {
	return f(ctx, frames)
}

// StaticRunner serves a fixed set of detection records.
type StaticRunner struct {
	dets []al.Detection
	// Err, when set, is returned by every Infer call.
	Err error
}

// NewStaticRunner returns a runner over dets.
func NewStaticRunner(dets ...al.Detection) *StaticRunner {
	return &StaticRunner{dets: dets}
}

// Infer implements Runner. Records for frames that were not requested are
// dropped and missing frames come back with no detections.
func (r *StaticRunner) Infer(ctx context.Context, frames []string) ([]al.Detection, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Align(frames, r.dets)
}

// Align orders dets to match frames. A requested frame with no record is
// returned with no detections, which the extractor routes to the empty
// list. Records for frames that were not requested are dropped; two
// records for the same frame are a MalformedDetectionError.
func Align(frames []string, dets []al.Detection) ([]al.Detection, error) {
	byID := make(map[string]int, len(dets))
	for i, d := range dets {
		if _, dup := byID[d.FrameID]; dup {
			return nil, &al.MalformedDetectionError{FrameID: d.FrameID, Field: "frame_id", Reason: "duplicate record from runner"}
		}
		byID[d.FrameID] = i
	}

	out := make([]al.Detection, len(frames))
	missing := 0
	for i, id := range frames {
		j, ok := byID[id]
		if !ok {
			out[i] = al.Detection{FrameID: id}
			missing++
			continue
		}
		out[i] = dets[j]
		delete(byID, id)
	}
	if missing > 0 {
		logf("%d of %d requested frames had no record; treating them as empty", missing, len(frames))
	}
	if len(byID) > 0 {
		logf("dropping %d records for frames outside the request", len(byID))
	}
	return out, nil
}
