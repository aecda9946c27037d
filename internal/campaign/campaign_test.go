package campaign

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alquery/internal/al"
	"github.com/banshee-data/alquery/internal/al/pool"
	"github.com/banshee-data/alquery/internal/config"
	"github.com/banshee-data/alquery/internal/inference"
	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/report"
	"github.com/banshee-data/alquery/internal/store"
	"github.com/banshee-data/alquery/internal/testutil"
	"github.com/banshee-data/alquery/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func fixtureRunner() *inference.StaticRunner {
	return inference.NewStaticRunner(
		testutil.Frame("A", testutil.Obj("Car", 0.5, 0.4), testutil.Obj("Car", 0.2, 5.0)),
		testutil.Frame("B", testutil.Obj("Car", 0.9, 0.1), testutil.Obj("Car", 0.8, 0.9)),
		testutil.Frame("C"),
		testutil.Frame("D", testutil.Obj("Pedestrian", 0.7, 0.3)),
	)
}

func fixtureState() pool.State {
	return pool.State{
		FrameIDs:  []string{"A", "B", "C", "D"},
		Partition: pool.Partition{Labeled: []int{3}, Unlabeled: []int{0, 1, 2}},
	}
}

func TestRun_WithStoreAndReports(t *testing.T) {
	t.Parallel()

	st, err := store.Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	defer st.Close()

	reportDir := t.TempDir()
	c := &Campaign{
		Runner:    fixtureRunner(),
		Store:     st,
		Metrics:   monitoring.NewMetrics(),
		Clock:     timeutil.NewSteppingClock(time.Unix(0, 0), 2*time.Second),
		ReportDir: reportDir,
	}
	req := Request{
		State:         fixtureState(),
		Config:        config.EmptyQueryConfig().WithBudget(1),
		ParentRoundID: "seed",
	}

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, res.Chosen)
	assert.Equal(t, []string{"C"}, res.Empty)
	assert.Equal(t, 2, res.Scored)
	assert.Equal(t, int64(2000), res.ElapsedMs)
	assert.Equal(t, []int{1, 3}, res.State.Labeled)
	assert.Equal(t, []int{0, 2}, res.State.Unlabeled)
	assert.Equal(t, []int{3}, req.State.Labeled, "request state untouched")

	require.NotEmpty(t, res.RoundID)
	round, err := st.GetRound(res.RoundID)
	require.NoError(t, err)
	assert.Equal(t, "seed", round.ParentRoundID)
	assert.Equal(t, int(al.RuleMaxAleatoric), round.Rule)
	assert.Equal(t, 1, round.Budget)
	assert.Equal(t, []string{"B"}, round.Chosen)
	assert.Equal(t, res.State.Partition, round.Partition)
	assert.Equal(t, 1, round.EmptyCount)

	var params config.QueryConfig
	require.NoError(t, json.Unmarshal(round.ParamsJSON, &params))
	assert.Equal(t, 1, params.GetBudget())

	require.Len(t, res.Reports, 3)
	for _, p := range res.Reports {
		assert.Equal(t, filepath.Join(reportDir, res.RoundID), filepath.Dir(p))
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
	assert.FileExists(t, filepath.Join(reportDir, res.RoundID, report.CSVName))
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	c := &Campaign{Runner: fixtureRunner()}

	t.Run("missing budget", func(t *testing.T) {
		_, err := c.Run(context.Background(), Request{State: fixtureState()})
		var target *al.InvalidParameterError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, "budget", target.Param)
	})

	t.Run("invalid rule", func(t *testing.T) {
		cfg := config.EmptyQueryConfig().WithBudget(1)
		rule := 5
		cfg.Rule = &rule
		_, err := c.Run(context.Background(), Request{State: fixtureState(), Config: cfg})
		var target *al.InvalidRuleError
		assert.ErrorAs(t, err, &target)
	})

	t.Run("index outside listing", func(t *testing.T) {
		state := fixtureState()
		state.Unlabeled = []int{0, 1, 9}
		_, err := c.Run(context.Background(), Request{State: state, Config: config.EmptyQueryConfig().WithBudget(1)})
		var target *al.InvalidParameterError
		assert.ErrorAs(t, err, &target)
	})
}

func TestRun_PersistAndReportFailuresWarn(t *testing.T) {
	t.Parallel()

	st, err := store.Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	c := &Campaign{Runner: fixtureRunner(), Store: st}
	res, err := c.Run(context.Background(), Request{State: fixtureState(), Config: config.EmptyQueryConfig().WithBudget(1)})
	require.Error(t, err)
	require.NotNil(t, res, "selection survives a failed persist")
	assert.Equal(t, []string{"B"}, res.Chosen)
	assert.Empty(t, res.RoundID)
	assert.Contains(t, res.Warning, "persist round")

	notDir := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))
	c = &Campaign{Runner: fixtureRunner(), ReportDir: notDir}
	res, err = c.Run(context.Background(), Request{State: fixtureState(), Config: config.EmptyQueryConfig().WithBudget(1)})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Warning, "write reports")
	assert.Equal(t, []int{1, 3}, res.State.Labeled)
}

func TestRun_ShuffleIsSeeded(t *testing.T) {
	t.Parallel()

	state := pool.State{FrameIDs: []string{"A", "B", "C", "D"}, Partition: pool.Partition{Labeled: []int{}, Unlabeled: []int{0, 1, 2, 3}}}
	cfg := config.EmptyQueryConfig().WithBudget(2)
	shuffle := true
	cfg.ShufflePools = &shuffle

	c := &Campaign{Runner: fixtureRunner()}
	first, err := c.Run(context.Background(), Request{State: state, Config: cfg})
	require.NoError(t, err)
	second, err := c.Run(context.Background(), Request{State: state, Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, first.State.Partition, second.State.Partition)
	assert.ElementsMatch(t, []int{0, 1}, first.State.Labeled)
	assert.ElementsMatch(t, []int{2, 3}, first.State.Unlabeled)
}

func TestNewRunner(t *testing.T) {
	t.Parallel()

	_, closeFn, err := NewRunner(config.EmptyQueryConfig(), RunnerOptions{})
	assert.Error(t, err)
	assert.NoError(t, closeFn())

	r, closeFn, err := NewRunner(config.EmptyQueryConfig(), RunnerOptions{DetectionsPath: "dets.json"})
	require.NoError(t, err)
	assert.IsType(t, &inference.FileRunner{}, r)
	assert.NoError(t, closeFn())

	r, _, err = NewRunner(config.EmptyQueryConfig(), RunnerOptions{DetectionsPath: "dets.json", SavePath: "out.cbor"})
	require.NoError(t, err)
	assert.IsType(t, &inference.RecordingRunner{}, r)

	cfg := config.EmptyQueryConfig()
	addr := "localhost:50051"
	cfg.InferenceAddr = &addr
	r, closeFn, err = NewRunner(cfg, RunnerOptions{})
	require.NoError(t, err)
	assert.IsType(t, &inference.GRPCRunner{}, r)
	assert.NoError(t, closeFn())
}
