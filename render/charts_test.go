package render

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/snehaltandel/process-map-agent/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"
)

func sampleDatasets(t *testing.T) map[string]*dataset.Table {
	t.Helper()
	defects, err := dataset.Parse("category,count,shift\nLabel,12,A\nSeal,7,B\nLabel,3,B\nCap,1,A\nSeal,2,A", ',')
	require.NoError(t, err)
	cycle, err := dataset.Parse("day,minutes,units\n3,31,10\n1,30,12\n2,28,11\n4,35,9\n5,29,12", ',')
	require.NoError(t, err)
	return map[string]*dataset.Table{"dataset_1": defects, "dataset_2": cycle}
}

func TestChartRenderer_RenderAllTypes(t *testing.T) {
	dir := t.TempDir()
	r := NewChartRenderer(dir, sampleDatasets(t))

	specs := []ChartSpec{
		{DatasetName: "dataset_1", ChartType: "pareto", ValueColumn: "count", CategoryColumn: "category"},
		{DatasetName: "dataset_2", ChartType: "histogram", ValueColumn: "minutes"},
		{DatasetName: "dataset_2", ChartType: "boxplot", ValueColumn: "minutes"},
		{DatasetName: "dataset_2", ChartType: "run", ValueColumn: "minutes", SecondaryColumn: "day"},
		{DatasetName: "dataset_2", ChartType: "Control", ValueColumn: "minutes", SecondaryColumn: "day", Title: "Cycle time"},
		{DatasetName: "dataset_2", ChartType: "scatter", ValueColumn: "minutes", SecondaryColumn: "units"},
		{DatasetName: "dataset_1", ChartType: "bar_compare", ValueColumn: "count", CategoryColumn: "category", SecondaryColumn: "shift"},
		{DatasetName: "dataset_1", ChartType: "run", ValueColumn: "count", SecondaryColumn: "shift"},
	}

	for _, spec := range specs {
		t.Run(spec.ChartType, func(t *testing.T) {
			path, err := r.Render(spec)
			require.NoError(t, err)
			assert.Equal(t, dir, filepath.Dir(path))
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))
		})
	}

	_, err := os.Stat(filepath.Join(dir, "chart_control_dataset_2.png"))
	assert.NoError(t, err)
}

func TestChartRenderer_Errors(t *testing.T) {
	r := NewChartRenderer(t.TempDir(), sampleDatasets(t))

	_, err := r.Render(ChartSpec{DatasetName: "dataset_9", ChartType: "histogram", ValueColumn: "x"})
	require.ErrorIs(t, err, ErrDatasetNotFound)
	assert.Contains(t, err.Error(), "dataset_1, dataset_2")

	_, err = r.Render(ChartSpec{DatasetName: "dataset_1", ChartType: "pie", ValueColumn: "count"})
	assert.ErrorIs(t, err, ErrUnsupportedChart)

	_, err = r.Render(ChartSpec{DatasetName: "dataset_1", ChartType: "pareto", ValueColumn: "count"})
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = r.Render(ChartSpec{DatasetName: "dataset_2", ChartType: "control", ValueColumn: "minutes"})
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = r.Render(ChartSpec{DatasetName: "dataset_2", ChartType: "scatter", ValueColumn: "minutes"})
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = r.Render(ChartSpec{DatasetName: "dataset_1", ChartType: "bar_compare", ValueColumn: "count", CategoryColumn: "category"})
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = r.Render(ChartSpec{DatasetName: "dataset_2", ChartType: "histogram", ValueColumn: "nope"})
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
}

func TestHorizontalLine_RejectsInfinity(t *testing.T) {
	_, err := horizontalLine(0, 1, math.Inf(1), color.Black, true)
	assert.ErrorIs(t, err, plotter.ErrInfinity)

	l, err := horizontalLine(0, 1, 2, color.Black, true)
	require.NoError(t, err)
	assert.Len(t, l.Dashes, 2)
}

func TestChartRenderer_OverflowingMeanFails(t *testing.T) {
	huge, err := dataset.Parse("day,minutes\n1,1e308\n2,1e308", ',')
	require.NoError(t, err)
	r := NewChartRenderer(t.TempDir(), map[string]*dataset.Table{"dataset_1": huge})

	_, err = r.Render(ChartSpec{DatasetName: "dataset_1", ChartType: "run", ValueColumn: "minutes", SecondaryColumn: "day"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mean line")
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.138, std, 1e-3)

	_, std = meanStd([]float64{1})
	assert.True(t, math.IsNaN(std))
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Bar Compare", titleCase("bar_compare"))
	assert.Equal(t, "Histogram", titleCase("histogram"))
}
