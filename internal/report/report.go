// Package report renders the ranking of a query round for humans: a CSV
// table, a PNG histogram of final scores and an HTML bar chart of the top
// candidates.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/alquery/internal/al/rank"
)

// File names written by Write.
const (
	CSVName       = "ranking.csv"
	HistogramName = "scores.png"
	HTMLName      = "ranking.html"
)

// DefaultHistogramBins is the bin count of the score histogram.
const DefaultHistogramBins = 20

// DefaultTopN caps the bars in the HTML chart.
const DefaultTopN = 50

const (
	chosenColor = "#d62728"
	otherColor  = "#1f77b4"
)

// ErrNoScores is returned when no candidate has a finite score to plot.
var ErrNoScores = errors.New("no finite scores to plot")

// Write renders all three reports into dir, creating it if needed, and
// returns the paths written.
func Write(dir string, ranked []rank.Candidate, chosen []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	var written []string
	csvPath := filepath.Join(dir, CSVName)
	if err := writeFile(csvPath, func(w io.Writer) error { return WriteCSV(w, ranked, chosen) }); err != nil {
		return written, err
	}
	written = append(written, csvPath)

	htmlPath := filepath.Join(dir, HTMLName)
	if err := writeFile(htmlPath, func(w io.Writer) error { return WriteRankingHTML(w, ranked, chosen, DefaultTopN) }); err != nil {
		return written, err
	}
	written = append(written, htmlPath)

	pngPath := filepath.Join(dir, HistogramName)
	if err := WriteHistogramPNG(pngPath, ranked, DefaultHistogramBins); err != nil {
		if errors.Is(err, ErrNoScores) {
			return written, nil
		}
		return written, err
	}
	return append(written, pngPath), nil
}

func writeFile(path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes one row per candidate in ranked order.
func WriteCSV(w io.Writer, ranked []rank.Candidate, chosen []string) error {
	sel := chosenSet(chosen)
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", "frame_id", "score", "order", "chosen"}); err != nil {
		return err
	}
	for i, c := range ranked {
		row := []string{
			strconv.Itoa(i + 1),
			c.FrameID,
			strconv.FormatFloat(c.Score, 'g', -1, 64),
			strconv.Itoa(c.Order),
			strconv.FormatBool(sel[c.FrameID]),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHistogramPNG saves a histogram of the finite final scores to path.
// The image format follows the extension of path.
func WriteHistogramPNG(path string, ranked []rank.Candidate, bins int) error {
	vals := make(plotter.Values, 0, len(ranked))
	for _, c := range ranked {
		if !math.IsNaN(c.Score) && !math.IsInf(c.Score, 0) {
			vals = append(vals, c.Score)
		}
	}
	if len(vals) == 0 {
		return ErrNoScores
	}
	if bins <= 0 {
		bins = DefaultHistogramBins
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Final scores (%d frames)", len(vals))
	p.X.Label.Text = "Score"
	p.Y.Label.Text = "Frames"

	h, err := plotter.NewHist(vals, bins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	p.Add(h)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

// WriteRankingHTML renders the top candidates as a bar chart. Chosen
// frames are drawn in a separate colour.
func WriteRankingHTML(w io.Writer, ranked []rank.Candidate, chosen []string, top int) error {
	if top <= 0 || top > len(ranked) {
		top = len(ranked)
	}
	sel := chosenSet(chosen)

	x := make([]string, top)
	y := make([]opts.BarData, top)
	for i, c := range ranked[:top] {
		x[i] = c.FrameID
		color := otherColor
		if sel[c.FrameID] {
			color = chosenColor
		}
		var v interface{} = c.Score
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			v = nil
		}
		y[i] = opts.BarData{Name: c.FrameID, Value: v, ItemStyle: &opts.ItemStyle{Color: color}}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Query ranking", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Query ranking",
			Subtitle: fmt.Sprintf("top %d of %d candidates, %d chosen", top, len(ranked), len(chosen)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Score"}),
	)
	bar.SetXAxis(x).AddSeries("score", y)

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}

func chosenSet(chosen []string) map[string]bool {
	sel := make(map[string]bool, len(chosen))
	for _, id := range chosen {
		sel[id] = true
	}
	return sel
}
