// Package report renders run history as charts.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/talgya/gentrify/internal/engine"
)

// ErrTooFewPoints means the history is too short to plot.
var ErrTooFewPoints = errors.New("need at least two stats samples to chart")

// Size is the chart size in pixels.
type Size struct {
	Width, Height int
}

// DefaultSize is used when a zero Size is passed.
var DefaultSize = Size{Width: 900, Height: 420}

// HistoryChart plots average income (left axis) against slum and unhappy
// household counts (right axis) over the sampled ticks, as PNG.
func HistoryChart(w io.Writer, history []engine.Stats, size Size) error {
	if len(history) < 2 {
		return ErrTooFewPoints
	}
	if size.Width <= 0 || size.Height <= 0 {
		size = DefaultSize
	}

	n := len(history)
	ticks := make([]float64, n)
	income := make([]float64, n)
	resIncome := make([]float64, n)
	slums := make([]float64, n)
	unhappy := make([]float64, n)
	maxIncome, maxCount := 0.0, 0.0
	for i, st := range history {
		ticks[i] = float64(st.Tick)
		income[i] = st.AvgIncome
		resIncome[i] = st.AvgResidentIncome
		slums[i] = float64(st.Slums)
		unhappy[i] = float64(st.Unhappy)
		maxIncome = max(maxIncome, st.AvgIncome, st.AvgResidentIncome)
		maxCount = max(maxCount, slums[i], unhappy[i])
	}
	if ticks[0] == ticks[n-1] {
		return ErrTooFewPoints
	}

	graph := chart.Chart{
		Title:  "Average income and urban slums",
		Width:  size.Width,
		Height: size.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "tick",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: ticks[0], Max: ticks[n-1]},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "income",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: axisMax(maxIncome)},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%.0f", v.(float64))
			},
		},
		YAxisSecondary: chart.YAxis{
			Name:  "households",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: axisMax(maxCount)},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Average income",
				XValues: ticks,
				YValues: income,
				Style:   chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 2.5},
			},
			chart.ContinuousSeries{
				Name:    "Average resident income",
				XValues: ticks,
				YValues: resIncome,
				Style:   chart.Style{StrokeColor: chart.ColorGreen, StrokeWidth: 1.5},
			},
			chart.ContinuousSeries{
				Name:    "Urban slums",
				YAxis:   chart.YAxisSecondary,
				XValues: ticks,
				YValues: slums,
				Style:   chart.Style{StrokeColor: chart.ColorRed, StrokeWidth: 2.5},
			},
			chart.ContinuousSeries{
				Name:    "Unhappy",
				YAxis:   chart.YAxisSecondary,
				XValues: ticks,
				YValues: unhappy,
				Style:   chart.Style{StrokeColor: drawing.Color{R: 255, G: 165, B: 0, A: 255}, StrokeWidth: 1.5},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// axisMax pads the top of an axis and keeps it non-degenerate.
func axisMax(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v * 1.1
}
