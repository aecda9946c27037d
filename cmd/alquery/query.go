package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/alquery/internal/al/pool"
	"github.com/banshee-data/alquery/internal/campaign"
	"github.com/banshee-data/alquery/internal/config"
	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/store"
)

func runQuery(args []string, stdout io.Writer) error {
	fs := newFlagSet("query")
	poolPath := fs.String("pool", "", "Pool state file (required)")
	configPath := fs.String("config", "", "Query config file (.json); built-in defaults when empty")
	detections := fs.String("detections", "", "Saved detections (.json or .cbor) to replay instead of calling a detector")
	inferenceAddr := fs.String("inference-addr", "", "Detector gRPC address")
	saveDetections := fs.String("save-detections", "", "Record the inference results to this .json or .cbor file")
	rule := fs.Int("rule", 0, "Selection rule (overrides config)")
	budget := fs.Int("budget", 0, "Frames to select (overrides config)")
	threshold := fs.Float64("threshold", 0, "Detection confidence threshold (overrides config)")
	shuffle := fs.Bool("shuffle", false, "Shuffle the output pools (overrides config)")
	dbPath := fs.String("db", "", "Round database; the round is stored when set")
	parent := fs.String("parent", "", "Parent round ID; 'latest' uses the newest stored round")
	reportDir := fs.String("report-dir", "", "Write CSV, PNG and HTML reports under this directory")
	outPath := fs.String("out", "", "Write the updated pool state to this file")
	asJSON := fs.Bool("json", false, "Print the full round result as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *poolPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -pool flag is required")
		fs.Usage()
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.Override(flagOverrides(fs, *rule, *budget, *threshold, *shuffle, *inferenceAddr))

	state, err := pool.LoadState(*poolPath)
	if err != nil {
		return err
	}

	runner, closeRunner, err := campaign.NewRunner(cfg, campaign.RunnerOptions{
		DetectionsPath: *detections,
		SavePath:       *saveDetections,
	})
	if err != nil {
		return err
	}
	defer closeRunner()

	c := &campaign.Campaign{
		Runner:    runner,
		Metrics:   monitoring.NewMetrics(),
		ReportDir: *reportDir,
	}
	parentID := *parent
	if *dbPath != "" {
		st, err := store.Open(*dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		c.Store = st

		if parentID == "latest" {
			latest, err := st.LatestRound()
			switch {
			case errors.Is(err, store.ErrNotFound):
				parentID = ""
			case err != nil:
				return err
			default:
				parentID = latest.RoundID
			}
		}
	} else if parentID == "latest" {
		return errors.New("-parent latest needs -db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := c.Run(ctx, campaign.Request{State: state, Config: cfg, ParentRoundID: parentID})
	if res == nil {
		return err
	}
	if *outPath != "" {
		if serr := res.State.Save(*outPath); serr != nil {
			return serr
		}
	}
	if perr := printResult(stdout, res, *asJSON); perr != nil {
		return perr
	}
	return err
}

func loadConfig(path string) (*config.QueryConfig, error) {
	if path == "" {
		return config.EmptyQueryConfig(), nil
	}
	return config.LoadQueryConfig(path)
}

// flagOverrides collects the flags the user actually set.
func flagOverrides(fs *flag.FlagSet, rule, budget int, threshold float64, shuffle bool, addr string) *config.QueryConfig {
	o := config.EmptyQueryConfig()
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rule":
			o.Rule = &rule
		case "budget":
			o.Budget = &budget
		case "threshold":
			o.ConfidenceThreshold = &threshold
		case "shuffle":
			o.ShufflePools = &shuffle
		case "inference-addr":
			o.InferenceAddr = &addr
		}
	})
	return o
}

func printResult(w io.Writer, res *campaign.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, id := range res.Chosen {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}
