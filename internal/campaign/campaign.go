// Package campaign drives query rounds over a labelling campaign: it
// resolves the unlabeled frames of a pool state, runs the strategy, then
// records the round and its reports.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/banshee-data/alquery/internal/al/pool"
	"github.com/banshee-data/alquery/internal/al/rank"
	"github.com/banshee-data/alquery/internal/al/strategy"
	"github.com/banshee-data/alquery/internal/config"
	"github.com/banshee-data/alquery/internal/inference"
	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/report"
	"github.com/banshee-data/alquery/internal/store"
	"github.com/banshee-data/alquery/internal/timeutil"
)

var logf = monitoring.Subsystem("campaign")

// Campaign bundles what a round needs beyond its request. Runner is
// required. A nil Store skips persistence and an empty ReportDir skips
// reports.
type Campaign struct {
	Runner    inference.Runner
	Store     *store.Store
	Metrics   *monitoring.Metrics
	Clock     timeutil.Clock
	ReportDir string
}

// Request describes one round.
type Request struct {
	State         pool.State          `json:"state"`
	Config        *config.QueryConfig `json:"config,omitempty"`
	ParentRoundID string              `json:"parent_round_id,omitempty"`
}

// Result is the outcome of a round.
type Result struct {
	RoundID   string           `json:"round_id,omitempty"`
	State     pool.State       `json:"state"`
	Chosen    []string         `json:"chosen"`
	Ranked    []rank.Candidate `json:"ranked"`
	Empty     []string         `json:"empty"`
	Scored    int              `json:"scored"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Reports   []string         `json:"reports,omitempty"`
	// Warning is set when the selection succeeded but persisting the
	// round or writing its reports failed.
	Warning string `json:"warning,omitempty"`
}

// Run executes one round. The returned state carries the updated
// partition; req.State is not modified. A failure to persist or report is
// returned together with the result, since the selection itself
// succeeded.
func (c *Campaign) Run(ctx context.Context, req Request) (*Result, error) {
	cfg := req.Config
	if cfg == nil {
		cfg = config.EmptyQueryConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	if err := req.State.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool state: %w", err)
	}
	table, err := req.State.Table()
	if err != nil {
		return nil, err
	}
	frames, err := table.Frames(req.State.Unlabeled)
	if err != nil {
		return nil, err
	}
	logf("querying %d of %d listed frames", len(frames), table.Len())

	s := &strategy.Strategy{
		Runner:  c.Runner,
		Indexer: table,
		Metrics: c.Metrics,
		Clock:   c.Clock,
	}
	if cfg.GetShufflePools() {
		s.Shuffle = rand.New(rand.NewSource(cfg.GetShuffleSeed()))
	}
	out, err := s.Query(ctx, frames, req.State.Partition, policy)
	if err != nil {
		return nil, err
	}

	res := &Result{
		State:     req.State.WithPartition(out.Partition),
		Chosen:    out.Chosen,
		Ranked:    out.Ranked,
		Empty:     out.Empty,
		Scored:    out.Scored,
		ElapsedMs: out.Elapsed.Milliseconds(),
	}

	if c.Store != nil {
		params, err := json.Marshal(cfg)
		if err != nil {
			return res.warn(fmt.Errorf("encode round params: %w", err))
		}
		round := &store.Round{
			ParentRoundID: req.ParentRoundID,
			Rule:          int(policy.Rule),
			Budget:        policy.Budget,
			ParamsJSON:    params,
			Chosen:        out.Chosen,
			Partition:     out.Partition,
			EmptyCount:    len(out.Empty),
			ScoredCount:   out.Scored,
			DurationMs:    res.ElapsedMs,
		}
		if err := c.Store.InsertRound(round); err != nil {
			return res.warn(fmt.Errorf("persist round: %w", err))
		}
		res.RoundID = round.RoundID
		logf("stored round %s", round.RoundID)
	}

	if c.ReportDir != "" {
		name := res.RoundID
		if name == "" {
			name = fmt.Sprintf("round-%d", len(out.Partition.Labeled))
		}
		paths, err := report.Write(filepath.Join(c.ReportDir, name), out.Ranked, out.Chosen)
		res.Reports = paths
		if err != nil {
			return res.warn(fmt.Errorf("write reports: %w", err))
		}
	}
	return res, nil
}

func (r *Result) warn(err error) (*Result, error) {
	r.Warning = err.Error()
	return r, err
}
