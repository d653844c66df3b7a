package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tube.report/internal/sample"
)

// ChartOptions controls the time series page.
type ChartOptions struct {
	Title    string
	Subtitle string
	Unit     string
	// AssetsHost serves the echarts scripts; empty uses the go-echarts
	// default CDN.
	AssetsHost string
}

// TimeSeriesHTML writes an HTML page plotting pressure and diameter
// against elapsed time on two y axes. Absent values are gaps.
func TimeSeriesHTML(w io.Writer, rows []sample.AlignedRow, o ChartOptions) error {
	pressure := make([]opts.LineData, 0, len(rows))
	diameter := make([]opts.LineData, 0, len(rows))
	for _, r := range rows {
		if r.Pressure.Valid {
			pressure = append(pressure, opts.LineData{Value: []interface{}{r.Elapsed, r.Pressure.Value}})
		}
		if r.Diameter.Valid {
			diameter = append(diameter, opts.LineData{Value: []interface{}{r.Elapsed, r.Diameter.Value}})
		}
	}

	title := o.Title
	if title == "" {
		title = "Burst test"
	}
	init := opts.Initialization{PageTitle: title, Width: "100%", Height: "640px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Elapsed Time [s]", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: fmt.Sprintf("Pressure [%s]", o.Unit)}),
	)
	line.ExtendYAxis(opts.YAxis{Type: "value", Name: "Diameter [px]"})

	line.AddSeries("Pressure", pressure,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("Diameter", diameter,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), YAxisIndex: 1}))

	return line.Render(w)
}
