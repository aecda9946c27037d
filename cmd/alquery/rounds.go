package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/alquery/internal/store"
)

func runRounds(args []string, stdout io.Writer) error {
	fs := newFlagSet("rounds")
	dbPath := fs.String("db", "", "Round database (required)")
	limit := fs.Int("limit", 20, "Rounds to show, newest first; 0 shows all")
	asJSON := fs.Bool("json", false, "Print rounds as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -db flag is required")
		fs.Usage()
		return errUsage
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rounds, err := st.ListRounds(*limit)
	if err != nil {
		return err
	}
	if *asJSON {
		if rounds == nil {
			rounds = []*store.Round{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rounds)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tCREATED\tRULE\tBUDGET\tCHOSEN\tLABELED\tUNLABELED\tEMPTY\tPARENT")
	for _, r := range rounds {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.RoundID,
			time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339),
			r.Rule, r.Budget, len(r.Chosen),
			len(r.Partition.Labeled), len(r.Partition.Unlabeled),
			r.EmptyCount, dash(r.ParentRoundID))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := newFlagSet("migrate")
	dbPath := fs.String("db", "", "Round database (required)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: alquery migrate -db FILE up|down|version")
		fs.PrintDefaults()
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *dbPath == "" || fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	st, err := store.OpenNoMigrate(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	switch action := strings.ToLower(fs.Arg(0)); action {
	case "up":
		if err := st.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := st.MigrateDown(); err != nil {
			return err
		}
	case "version":
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate action: %s\n", action)
		fs.Usage()
		return errUsage
	}

	v, dirty, err := st.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "schema version %d", v)
	if dirty {
		fmt.Fprint(stdout, " (dirty)")
	}
	fmt.Fprintln(stdout)
	return nil
}
