package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alquery/internal/al/rank"
)

func sampleRanking() []rank.Candidate {
	return []rank.Candidate{
		{FrameID: "000042", Score: 1, Order: 2},
		{FrameID: "000007", Score: 0.75, Order: 0},
		{FrameID: "000013", Score: 0.1, Order: 1},
		{FrameID: "000099", Score: math.NaN(), Order: 3},
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRanking(), []string{"000042", "000007"}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"rank", "frame_id", "score", "order", "chosen"}, rows[0])
	assert.Equal(t, []string{"1", "000042", "1", "2", "true"}, rows[1])
	assert.Equal(t, []string{"2", "000007", "0.75", "0", "true"}, rows[2])
	assert.Equal(t, []string{"3", "000013", "0.1", "1", "false"}, rows[3])
	assert.Equal(t, "NaN", rows[4][2])
}

func TestWriteRankingHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteRankingHTML(&buf, sampleRanking(), []string{"000042"}, 2))
	html := buf.String()
	assert.Contains(t, html, "000042")
	assert.Contains(t, html, "000007")
	assert.NotContains(t, html, "000013", "only the top two are charted")
	assert.Contains(t, html, chosenColor)
	assert.Contains(t, html, otherColor)
}

func TestWriteHistogramPNG(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scores.png")
	require.NoError(t, WriteHistogramPNG(path, sampleRanking(), 4))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	err = WriteHistogramPNG(path, []rank.Candidate{{FrameID: "x", Score: math.NaN()}}, 4)
	assert.ErrorIs(t, err, ErrNoScores)
}

func TestWrite(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "round-1")
	paths, err := Write(dir, sampleRanking(), []string{"000042"})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), p)
	}

	paths, err = Write(dir, nil, nil)
	require.NoError(t, err)
	assert.Len(t, paths, 2, "histogram is skipped without scores")
	for _, p := range paths {
		assert.False(t, strings.HasSuffix(p, HistogramName))
	}
}
