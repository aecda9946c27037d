package campaign

import (
	"errors"

	"github.com/banshee-data/alquery/internal/config"
	"github.com/banshee-data/alquery/internal/inference"
)

// RunnerOptions selects where detections come from.
type RunnerOptions struct {
	// DetectionsPath replays a saved inference pass. It takes precedence
	// over the inference service address in the config.
	DetectionsPath string
	// SavePath, when set, records every inference result to this file.
	SavePath string
}

// NewRunner builds the inference runner described by opts and cfg. The
// returned close function releases any connection and is never nil.
func NewRunner(cfg *config.QueryConfig, opts RunnerOptions) (inference.Runner, func() error, error) {
	noop := func() error { return nil }

	var r inference.Runner
	closer := noop
	switch {
	case opts.DetectionsPath != "":
		r = inference.NewFileRunner(opts.DetectionsPath)
	case cfg.GetInferenceAddr() != "":
		g, err := inference.NewGRPCRunner(cfg.GetInferenceAddr(), inference.GRPCOptions{
			BatchSize: cfg.GetInferenceBatchSize(),
			Timeout:   cfg.GetInferenceTimeout(),
		})
		if err != nil {
			return nil, noop, err
		}
		r, closer = g, g.Close
	default:
		return nil, noop, errors.New("no detection source: set a detections file or inference_addr")
	}

	if opts.SavePath != "" {
		r = &inference.RecordingRunner{Runner: r, Path: opts.SavePath}
	}
	return r, closer, nil
}
