package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alquery/internal/campaign"
	"github.com/banshee-data/alquery/internal/config"
	"github.com/banshee-data/alquery/internal/httputil"
	"github.com/banshee-data/alquery/internal/inference"
	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/store"
	"github.com/banshee-data/alquery/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	runner := inference.NewStaticRunner(
		testutil.Frame("A", testutil.Obj("Car", 0.5, 0.4)),
		testutil.Frame("B", testutil.Obj("Car", 0.9, 0.9)),
		testutil.Frame("C"),
	)
	metrics := monitoring.NewMetrics()
	c := &campaign.Campaign{Runner: runner, Store: st, Metrics: metrics}
	return NewServer(st, c, config.EmptyQueryConfig().WithBudget(1), metrics), st
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const queryBody = `{"state":{"frame_ids":["A","B","C"],"labeled":[],"unlabeled":[0,1,2]}}`

func TestQueryThenRounds(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	h := LoggingMiddleware(s.ServeMux())

	rec := do(t, h, http.MethodPost, "/api/query", strings.NewReader(queryBody))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res campaign.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, []string{"B"}, res.Chosen)
	assert.Equal(t, []int{1}, res.State.Labeled)
	assert.Equal(t, []int{0, 2}, res.State.Unlabeled)
	require.NotEmpty(t, res.RoundID)

	rec = do(t, h, http.MethodGet, "/api/rounds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rounds []store.Round
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rounds))
	require.Len(t, rounds, 1)
	assert.Equal(t, res.RoundID, rounds[0].RoundID)

	for _, path := range []string{"/api/rounds/" + res.RoundID, "/api/rounds/latest"} {
		rec = do(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var round store.Round
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&round))
		assert.Equal(t, []string{"B"}, round.Chosen, path)
	}

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alquery_rounds_total 1")
}

func TestQuery_Overrides(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	body := `{"state":{"frame_ids":["A","B","C"],"labeled":[],"unlabeled":[0,1,2]},"config":{"budget":5}}`
	rec := do(t, s.ServeMux(), http.MethodPost, "/api/query", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res campaign.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, []string{"B", "A"}, res.Chosen)
	assert.Equal(t, 1, s.base.GetBudget(), "base config untouched")
}

func TestQuery_Errors(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	mux := s.ServeMux()

	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
		wantKind string
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, ""},
		{"bad json", http.MethodPost, `{"state":`, http.StatusBadRequest, ""},
		{"unknown field", http.MethodPost, `{"pool":{}}`, http.StatusBadRequest, ""},
		{"invalid rule", http.MethodPost, `{"state":{"frame_ids":["A"],"unlabeled":[0]},"config":{"rule":3}}`, http.StatusBadRequest, "invalid_rule"},
		{"nothing to score", http.MethodPost, `{"state":{"frame_ids":["C"],"unlabeled":[0]}}`, http.StatusUnprocessableEntity, "empty_pool"},
		{"zero budget", http.MethodPost, `{"state":{"frame_ids":["A"],"unlabeled":[0]},"config":{"budget":0}}`, http.StatusBadRequest, "invalid_parameter"},
		{"threshold out of range", http.MethodPost, `{"state":{"frame_ids":["A"],"unlabeled":[0]},"config":{"confidence_threshold":2}}`, http.StatusBadRequest, "invalid_parameter"},
		{"index outside listing", http.MethodPost, `{"state":{"frame_ids":["A"],"unlabeled":[5]}}`, http.StatusBadRequest, "invalid_parameter"},
		{"index in both sets", http.MethodPost, `{"state":{"frame_ids":["A","B"],"labeled":[0],"unlabeled":[0,1]}}`, http.StatusBadRequest, "invalid_parameter"},
		{"duplicate frame id", http.MethodPost, `{"state":{"frame_ids":["A","A"],"unlabeled":[0]}}`, http.StatusBadRequest, "invalid_parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, tt.method, "/api/query", bytes.NewBufferString(tt.body))
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantKind != "" {
				var body httputil.ErrorBody
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantKind, body.Kind)
			}
		})
	}
}

func TestQuery_MissingBudget(t *testing.T) {
	t.Parallel()
	st, err := store.Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	c := &campaign.Campaign{Runner: inference.NewStaticRunner(testutil.Frame("A", testutil.Obj("Car", 0.9, 0.5)))}
	mux := NewServer(st, c, nil, nil).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/query", strings.NewReader(`{"state":{"frame_ids":["A"],"unlabeled":[0]}}`))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	var body httputil.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "invalid_parameter", body.Kind)
	assert.Contains(t, body.Error, "budget")
}

func TestQuery_PersistFailureWarns(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	require.NoError(t, st.Close())

	rec := do(t, s.ServeMux(), http.MethodPost, "/api/query", strings.NewReader(queryBody))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res campaign.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, []string{"B"}, res.Chosen)
	assert.Empty(t, res.RoundID)
	assert.Contains(t, res.Warning, "persist round")
}

func TestRounds_NotFoundAndLimits(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	mux := s.ServeMux()

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/rounds/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/rounds/latest", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/rounds?limit=x", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodPost, "/api/rounds", nil).Code)

	rec := do(t, mux, http.MethodGet, "/api/rounds?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestWithoutCollaborators(t *testing.T) {
	t.Parallel()
	mux := NewServer(nil, nil, nil, nil).ServeMux()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodGet, "/api/rounds", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodPost, "/api/query", strings.NewReader(queryBody)).Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/metrics", nil).Code)

	rec := do(t, mux, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}
