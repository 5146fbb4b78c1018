package api

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"ForeCrypt/internal/usecase"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var errNothingToPlot = errors.New("not enough points to plot")

// renderForecastChart draws the actuals before the issue hour and the forecast
// after it as a PNG. The forecast line starts at the last actual so the two join.
func renderForecastChart(res *usecase.GetForecastResult) ([]byte, error) {
	var hx []time.Time
	var hy []float64
	for _, p := range res.History {
		hx = append(hx, p.Timestamp)
		hy = append(hy, p.Price)
	}

	var fx []time.Time
	var fy []float64
	if n := len(hx); n > 0 && len(res.Records) > 0 {
		fx = append(fx, hx[n-1])
		fy = append(fy, hy[n-1])
	}
	for _, r := range res.Records {
		fx = append(fx, r.PredictedTimestamp)
		fy = append(fy, r.Value)
	}

	if len(hx)+len(fx) < 2 {
		return nil, errNothingToPlot
	}

	var series []chart.Series
	if len(hx) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Actual",
			XValues: hx,
			YValues: hy,
			Style: chart.Style{
				StrokeColor: chart.ColorBlue,
				StrokeWidth: 2,
			},
		})
	}
	if len(fx) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Forecast",
			XValues: fx,
			YValues: fy,
			Style: chart.Style{
				StrokeColor:     drawing.ColorFromHex("e4572e"),
				StrokeWidth:     2,
				StrokeDashArray: []float64{5.0, 5.0},
			},
		})
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s", res.Series, res.ModelExt),
		Width:  1024,
		Height: 480,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:           "Time (UTC)",
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price",
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}
