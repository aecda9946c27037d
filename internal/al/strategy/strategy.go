// Package strategy runs one active-learning query round: inference over
// the unlabeled frames, uncertainty extraction, aggregation, ranking and
// the pool update.
package strategy

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/al/aggregate"
	"github.com/banshee-data/alquery/internal/al/extract"
	"github.com/banshee-data/alquery/internal/al/pool"
	"github.com/banshee-data/alquery/internal/al/rank"
	"github.com/banshee-data/alquery/internal/inference"
	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/timeutil"
)

var logf = monitoring.Subsystem("query")

// Strategy holds the collaborators of a query round. Runner and Indexer
// are required; the rest are optional.
type Strategy struct {
	Runner  inference.Runner
	Indexer pool.Indexer

	Metrics *monitoring.Metrics
	Clock   timeutil.Clock
	// Shuffle, when set, shuffles both output pools.
	Shuffle *rand.Rand
}

// Outcome is the result of a successful round.
type Outcome struct {
	Partition pool.Partition
	// Chosen lists the acquired frames, best first.
	Chosen []string
	// Ranked lists every frame that reached the final sort, best first.
	Ranked []rank.Candidate
	Empty  []string
	// Scored is the number of non-empty frames.
	Scored  int
	Elapsed time.Duration
}

// Query runs one round with the given collaborators.
func Query(ctx context.Context, runner inference.Runner, idx pool.Indexer, frames []string, cur pool.Partition, p al.Policy) (*Outcome, error) {
	s := &Strategy{Runner: runner, Indexer: idx}
	return s.Query(ctx, frames, cur, p)
}

// Query scores frames, which should be the identifiers of cur.Unlabeled,
// and moves the top p.Budget into the labeled pool. The round is
// all-or-nothing: on error cur is returned to the caller untouched and no
// partition is produced.
func (s *Strategy) Query(ctx context.Context, frames []string, cur pool.Partition, p al.Policy) (*Outcome, error) {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()

	out, err := s.run(ctx, frames, cur, p)
	elapsed := clock.Since(start)
	if err != nil {
		kind := al.ErrorKind(err)
		logf("round failed after %v (%s): %v", elapsed, kind, err)
		s.Metrics.ObserveFailure(kind, elapsed)
		return nil, err
	}
	out.Elapsed = elapsed
	s.Metrics.ObserveRound(out.Scored, len(out.Empty), len(out.Chosen), elapsed)
	logf("rule %d chose %d of %d scored frames (%d empty) in %v: label=%d unlabel=%d",
		int(p.Rule), len(out.Chosen), out.Scored, len(out.Empty), elapsed,
		len(out.Partition.Labeled), len(out.Partition.Unlabeled))
	return out, nil
}

func (s *Strategy) run(ctx context.Context, frames []string, cur pool.Partition, p al.Policy) (*Outcome, error) {
	if s.Runner == nil || s.Indexer == nil {
		return nil, fmt.Errorf("strategy needs both a runner and an indexer")
	}
	logf("start search: label pool=%d unlabel pool=%d frames=%d", len(cur.Labeled), len(cur.Unlabeled), len(frames))

	dets, err := s.Runner.Infer(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	res, err := extract.Frames(dets, p)
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.Frames(res, p)
	if err != nil {
		return nil, err
	}
	ranking, err := rank.Select(res, agg, p)
	if err != nil {
		return nil, err
	}
	next, err := pool.Update(ranking.Chosen, s.Indexer, cur)
	if err != nil {
		return nil, err
	}
	if s.Shuffle != nil {
		next = next.Shuffle(s.Shuffle)
	}

	return &Outcome{
		Partition: next,
		Chosen:    ranking.Chosen,
		Ranked:    ranking.Candidates,
		Empty:     res.Empty,
		Scored:    res.Len(),
	}, nil
}
