package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snehaltandel/process-map-agent/dataset"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Chart types understood by ChartRenderer.
const (
	ChartPareto     = "pareto"
	ChartHistogram  = "histogram"
	ChartBoxplot    = "boxplot"
	ChartRun        = "run"
	ChartControl    = "control"
	ChartScatter    = "scatter"
	ChartBarCompare = "bar_compare"
)

const histogramBins = 15

var (
	// ErrUnsupportedChart is returned for chart types outside the known set.
	ErrUnsupportedChart = errors.New("unsupported chart type")
	// ErrDatasetNotFound is returned when the spec names an unknown dataset.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrMissingColumn is returned when a chart type needs a column the spec omits.
	ErrMissingColumn = errors.New("missing column")
)

var (
	barColor  = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	lineColor = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	meanColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	refColor  = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
)

// ChartSpec describes one chart to draw from a named dataset.
type ChartSpec struct {
	DatasetName     string `json:"dataset_name"`
	ChartType       string `json:"chart_type"`
	ValueColumn     string `json:"value_column"`
	CategoryColumn  string `json:"category_column,omitempty"`
	SecondaryColumn string `json:"secondary_column,omitempty"`
	Title           string `json:"title,omitempty"`
}

// ChartRenderer draws charts from datasets into the artifacts directory.
type ChartRenderer struct {
	dir      string
	datasets map[string]*dataset.Table
	width    vg.Length
	height   vg.Length
}

// NewChartRenderer creates a renderer writing PNG files under dir.
func NewChartRenderer(dir string, datasets map[string]*dataset.Table) *ChartRenderer {
	return &ChartRenderer{
		dir:      dir,
		datasets: datasets,
		width:    8 * vg.Inch,
		height:   5 * vg.Inch,
	}
}

// Render draws spec and returns the written file path.
func (r *ChartRenderer) Render(spec ChartSpec) (string, error) {
	table, ok := r.datasets[spec.DatasetName]
	if !ok {
		return "", fmt.Errorf("%w: %q. Available: [%s]", ErrDatasetNotFound, spec.DatasetName, strings.Join(sortedNames(r.datasets), ", "))
	}

	chartType := strings.ToLower(strings.TrimSpace(spec.ChartType))
	p := plot.New()

	var err error
	switch chartType {
	case ChartPareto:
		err = drawPareto(p, table, spec)
	case ChartHistogram:
		err = drawHistogram(p, table, spec)
	case ChartBoxplot:
		err = drawBoxplot(p, table, spec)
	case ChartRun, ChartControl:
		err = drawRunChart(p, table, spec, chartType == ChartControl)
	case ChartScatter:
		err = drawScatter(p, table, spec)
	case ChartBarCompare:
		err = drawBarCompare(p, table, spec)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChart, spec.ChartType)
	}
	if err != nil {
		return "", err
	}

	p.Title.Text = spec.Title
	if p.Title.Text == "" {
		p.Title.Text = titleCase(chartType)
	}
	p.Add(plotter.NewGrid())

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("chart_%s_%s.png", chartType, spec.DatasetName))
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", fmt.Errorf("save chart: %w", err)
	}
	return path, nil
}

// drawPareto groups by category, sums values, sorts descending and overlays
// the cumulative share scaled onto the value axis with an 80% reference.
func drawPareto(p *plot.Plot, t *dataset.Table, spec ChartSpec) error {
	if spec.CategoryColumn == "" {
		return fmt.Errorf("%w: pareto charts require a category_column", ErrMissingColumn)
	}
	cats, err := t.Strings(spec.CategoryColumn)
	if err != nil {
		return err
	}
	vals, err := t.Floats(spec.ValueColumn)
	if err != nil {
		return err
	}

	sums := make(map[string]float64)
	for i, c := range cats {
		if math.IsNaN(vals[i]) {
			continue
		}
		sums[c] += vals[i]
	}
	type group struct {
		name  string
		total float64
	}
	groups := make([]group, 0, len(sums))
	var grand float64
	for name, total := range sums {
		groups = append(groups, group{name, total})
		grand += total
	}
	if len(groups) == 0 || grand == 0 {
		return fmt.Errorf("pareto: no values to aggregate in %q", spec.ValueColumn)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].total != groups[j].total {
			return groups[i].total > groups[j].total
		}
		return groups[i].name < groups[j].name
	})

	bars := make(plotter.Values, len(groups))
	names := make([]string, len(groups))
	cumulative := make(plotter.XYs, len(groups))
	var running float64
	for i, g := range groups {
		bars[i] = g.total
		names[i] = g.name
		running += g.total
		cumulative[i] = plotter.XY{X: float64(i), Y: running / grand * groups[0].total}
	}

	chart, err := plotter.NewBarChart(bars, vg.Points(24))
	if err != nil {
		return err
	}
	chart.Color = barColor

	line, points, err := plotter.NewLinePoints(cumulative)
	if err != nil {
		return err
	}
	line.Color = lineColor
	points.Color = lineColor
	points.Shape = draw.CircleGlyph{}

	ref, err := horizontalLine(-0.5, float64(len(groups))-0.5, 0.8*groups[0].total, refColor, true)
	if err != nil {
		return fmt.Errorf("pareto reference line: %w", err)
	}

	p.Add(chart, line, points, ref)
	p.NominalX(names...)
	p.Y.Label.Text = spec.ValueColumn
	p.Legend.Add("cumulative %", line)
	p.Legend.Add("80%", ref)
	return nil
}

func drawHistogram(p *plot.Plot, t *dataset.Table, spec ChartSpec) error {
	vals, err := numericColumn(t, spec.ValueColumn)
	if err != nil {
		return err
	}
	h, err := plotter.NewHist(plotter.Values(vals), histogramBins)
	if err != nil {
		return err
	}
	h.FillColor = barColor
	p.Add(h)
	p.X.Label.Text = spec.ValueColumn
	p.Y.Label.Text = "Frequency"
	return nil
}

func drawBoxplot(p *plot.Plot, t *dataset.Table, spec ChartSpec) error {
	vals, err := numericColumn(t, spec.ValueColumn)
	if err != nil {
		return err
	}
	box, err := plotter.NewBoxPlot(vg.Points(40), 0, plotter.Values(vals))
	if err != nil {
		return err
	}
	box.FillColor = barColor
	p.Add(box)
	p.NominalX(spec.ValueColumn)
	p.Y.Label.Text = spec.ValueColumn
	return nil
}

// drawRunChart orders rows by the secondary column and draws a mean line;
// control charts add mean ± 3 sample standard deviations.
func drawRunChart(p *plot.Plot, t *dataset.Table, spec ChartSpec, control bool) error {
	if spec.SecondaryColumn == "" {
		return fmt.Errorf("%w: run/control charts require a secondary_column for ordering", ErrMissingColumn)
	}
	vals, err := t.Floats(spec.ValueColumn)
	if err != nil {
		return err
	}
	xs, labels, err := orderingAxis(t, spec.SecondaryColumn)
	if err != nil {
		return err
	}

	pts := make(plotter.XYs, 0, len(vals))
	for i := range vals {
		if math.IsNaN(vals[i]) || math.IsNaN(xs[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: vals[i]})
	}
	if len(pts) == 0 {
		return fmt.Errorf("run chart: no numeric values in %q", spec.ValueColumn)
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].X < pts[j].X })

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Color = barColor
	points.Color = barColor
	points.Shape = draw.CircleGlyph{}
	p.Add(line, points)

	ys := make([]float64, len(pts))
	for i, pt := range pts {
		ys[i] = pt.Y
	}
	mean, std := meanStd(ys)
	minX, maxX := pts[0].X, pts[len(pts)-1].X

	meanLine, err := horizontalLine(minX, maxX, mean, meanColor, true)
	if err != nil {
		return fmt.Errorf("mean line: %w", err)
	}
	p.Add(meanLine)
	p.Legend.Add("Mean", meanLine)

	if control && !math.IsNaN(std) {
		ucl, err := horizontalLine(minX, maxX, mean+3*std, refColor, true)
		if err != nil {
			return fmt.Errorf("control limit: %w", err)
		}
		lcl, err := horizontalLine(minX, maxX, mean-3*std, refColor, true)
		if err != nil {
			return fmt.Errorf("control limit: %w", err)
		}
		p.Add(ucl, lcl)
		p.Legend.Add("±3σ", ucl)
	}

	if labels != nil {
		p.NominalX(labels...)
	}
	p.X.Label.Text = spec.SecondaryColumn
	p.Y.Label.Text = spec.ValueColumn
	return nil
}

func drawScatter(p *plot.Plot, t *dataset.Table, spec ChartSpec) error {
	if spec.SecondaryColumn == "" {
		return fmt.Errorf("%w: scatter charts require a secondary_column", ErrMissingColumn)
	}
	xs, err := t.Floats(spec.SecondaryColumn)
	if err != nil {
		return err
	}
	ys, err := t.Floats(spec.ValueColumn)
	if err != nil {
		return err
	}

	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	if len(pts) == 0 {
		return fmt.Errorf("scatter: no complete rows in %q/%q", spec.SecondaryColumn, spec.ValueColumn)
	}

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.Color = barColor
	s.Shape = draw.CircleGlyph{}
	p.Add(s)
	p.X.Label.Text = spec.SecondaryColumn
	p.Y.Label.Text = spec.ValueColumn
	return nil
}

// drawBarCompare pivots mean(value) by category (x axis) and secondary (series).
func drawBarCompare(p *plot.Plot, t *dataset.Table, spec ChartSpec) error {
	if spec.CategoryColumn == "" || spec.SecondaryColumn == "" {
		return fmt.Errorf("%w: bar_compare charts require category and secondary columns", ErrMissingColumn)
	}
	cats, err := t.Strings(spec.CategoryColumn)
	if err != nil {
		return err
	}
	series, err := t.Strings(spec.SecondaryColumn)
	if err != nil {
		return err
	}
	vals, err := t.Floats(spec.ValueColumn)
	if err != nil {
		return err
	}

	type cell struct {
		sum float64
		n   int
	}
	pivot := make(map[string]map[string]*cell)
	catSet := make(map[string]struct{})
	for i := range vals {
		if math.IsNaN(vals[i]) {
			continue
		}
		catSet[cats[i]] = struct{}{}
		row, ok := pivot[series[i]]
		if !ok {
			row = make(map[string]*cell)
			pivot[series[i]] = row
		}
		c, ok := row[cats[i]]
		if !ok {
			c = &cell{}
			row[cats[i]] = c
		}
		c.sum += vals[i]
		c.n++
	}
	if len(pivot) == 0 {
		return fmt.Errorf("bar_compare: no numeric values in %q", spec.ValueColumn)
	}

	catNames := sortedKeys(catSet)
	seriesNames := make([]string, 0, len(pivot))
	for s := range pivot {
		seriesNames = append(seriesNames, s)
	}
	sort.Strings(seriesNames)

	width := vg.Points(14)
	for i, s := range seriesNames {
		values := make(plotter.Values, len(catNames))
		for j, c := range catNames {
			if v, ok := pivot[s][c]; ok && v.n > 0 {
				values[j] = v.sum / float64(v.n)
			}
		}
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return err
		}
		bars.Color = plotutil.Color(i)
		bars.Offset = vg.Length(float64(i)-float64(len(seriesNames)-1)/2) * width
		p.Add(bars)
		p.Legend.Add(s, bars)
	}
	p.NominalX(catNames...)
	p.Legend.Top = true
	p.Y.Label.Text = spec.ValueColumn
	return nil
}

// orderingAxis returns numeric x positions for the ordering column. Non-numeric
// columns are ranked lexicographically and their labels returned for the axis.
func orderingAxis(t *dataset.Table, column string) ([]float64, []string, error) {
	if xs, err := t.Floats(column); err == nil {
		return xs, nil, nil
	} else if errors.Is(err, dataset.ErrColumnNotFound) {
		return nil, nil, err
	}

	cells, err := t.Strings(column)
	if err != nil {
		return nil, nil, err
	}
	uniq := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		uniq[c] = struct{}{}
	}
	labels := sortedKeys(uniq)
	rank := make(map[string]float64, len(labels))
	for i, l := range labels {
		rank[l] = float64(i)
	}
	xs := make([]float64, len(cells))
	for i, c := range cells {
		xs[i] = rank[c]
	}
	return xs, labels, nil
}

func numericColumn(t *dataset.Table, column string) ([]float64, error) {
	vals, err := t.Floats(column)
	if err != nil {
		return nil, err
	}
	vals = dataset.DropNaN(vals)
	if len(vals) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", column)
	}
	return vals, nil
}

func horizontalLine(x0, x1, y float64, c color.Color, dashed bool) (*plotter.Line, error) {
	l, err := plotter.NewLine(plotter.XYs{{X: x0, Y: y}, {X: x1, Y: y}})
	if err != nil {
		return nil, err
	}
	l.Color = c
	l.Width = vg.Points(1)
	if dashed {
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	}
	return l, nil
}

// meanStd returns the mean and sample standard deviation (n-1).
func meanStd(vs []float64) (float64, float64) {
	if len(vs) == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	mean := sum / float64(len(vs))
	if len(vs) < 2 {
		return mean, math.NaN()
	}
	var sq float64
	for _, v := range vs {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(vs)-1))
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sortedNames(m map[string]*dataset.Table) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
