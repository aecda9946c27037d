package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/alquery/internal/al/pool"
)

// Round is one persisted query round.
type Round struct {
	RoundID       string          `json:"round_id"`
	ParentRoundID string          `json:"parent_round_id,omitempty"`
	Rule          int             `json:"rule"`
	Budget        int             `json:"budget"`
	ParamsJSON    json.RawMessage `json:"params_json,omitempty"`
	Chosen        []string        `json:"chosen"`
	Partition     pool.Partition  `json:"partition"`
	EmptyCount    int             `json:"empty_count"`
	ScoredCount   int             `json:"scored_count"`
	DurationMs    int64           `json:"duration_ms"`
	CreatedAt     int64           `json:"created_at"`
}

// ErrNotFound is returned when no round matches a lookup.
var ErrNotFound = errors.New("round not found")

const roundColumns = `round_id, parent_round_id, rule, budget, params_json,
	chosen_json, labeled_json, unlabeled_json, empty_count, scored_count,
	duration_ms, created_at`

// InsertRound persists r. Empty RoundID and zero CreatedAt are filled in.
func (s *Store) InsertRound(r *Round) error {
	if r.RoundID == "" {
		r.RoundID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixNano()
	}

	chosen, err := marshalList(r.Chosen)
	if err != nil {
		return fmt.Errorf("encode chosen: %w", err)
	}
	labeled, err := marshalList(r.Partition.Labeled)
	if err != nil {
		return fmt.Errorf("encode labeled pool: %w", err)
	}
	unlabeled, err := marshalList(r.Partition.Unlabeled)
	if err != nil {
		return fmt.Errorf("encode unlabeled pool: %w", err)
	}
	var parent, params interface{}
	if r.ParentRoundID != "" {
		parent = r.ParentRoundID
	}
	if len(r.ParamsJSON) > 0 {
		params = string(r.ParamsJSON)
	}

	err = retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO al_query_rounds (`+roundColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RoundID, parent, r.Rule, r.Budget, params,
			chosen, labeled, unlabeled, r.EmptyCount, r.ScoredCount,
			r.DurationMs, r.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

// GetRound returns the round with the given ID.
func (s *Store) GetRound(roundID string) (*Round, error) {
	rows, err := s.db.Query(`SELECT `+roundColumns+` FROM al_query_rounds WHERE round_id = ?`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query round: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, roundID)
	}
	return scanRound(rows)
}

// LatestRound returns the most recently created round.
func (s *Store) LatestRound() (*Round, error) {
	rounds, err := s.ListRounds(1)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, ErrNotFound
	}
	return rounds[0], nil
}

// ListRounds returns up to limit rounds, newest first. A limit of 0 or
// less returns every round.
func (s *Store) ListRounds(limit int) ([]*Round, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT `+roundColumns+`
		FROM al_query_rounds
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func scanRound(rows *sql.Rows) (*Round, error) {
	var (
		r                          Round
		parent, params             sql.NullString
		chosen, labeled, unlabeled string
	)
	err := rows.Scan(
		&r.RoundID, &parent, &r.Rule, &r.Budget, &params,
		&chosen, &labeled, &unlabeled, &r.EmptyCount, &r.ScoredCount,
		&r.DurationMs, &r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan round: %w", err)
	}
	if parent.Valid {
		r.ParentRoundID = parent.String
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	if err := json.Unmarshal([]byte(chosen), &r.Chosen); err != nil {
		return nil, fmt.Errorf("decode chosen of round %s: %w", r.RoundID, err)
	}
	if err := json.Unmarshal([]byte(labeled), &r.Partition.Labeled); err != nil {
		return nil, fmt.Errorf("decode labeled pool of round %s: %w", r.RoundID, err)
	}
	if err := json.Unmarshal([]byte(unlabeled), &r.Partition.Unlabeled); err != nil {
		return nil, fmt.Errorf("decode unlabeled pool of round %s: %w", r.RoundID, err)
	}
	return &r, nil
}

// marshalList encodes a slice as a JSON array; nil becomes [].
func marshalList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}
