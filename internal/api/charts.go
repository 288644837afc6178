package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/httputil"
	"github.com/commons-data/shelter.report/internal/monitoring"
)

// showCharts renders the analytics page with go-echarts: counts by object
// type, the context breakdown, and daily activity from the rollup table.
// This is the no-build-step analytics view; map rendering stays external.
func (s *Server) showCharts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ctx := r.Context()

	byType, err := s.db.CountByObjectType(ctx)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count by object type: %v", err))
		return
	}
	byContext, err := s.db.CountByContext(ctx)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count by context: %v", err))
		return
	}
	days, err := s.db.RollupDays(ctx, defaultDailyDays)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query rollup days: %v", err))
		return
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "shelter.report analytics", Width: "600px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Observations by object type"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	typeLabels := make([]string, 0, len(db.ObjectTypes))
	typeData := make([]opts.BarData, 0, len(db.ObjectTypes))
	for _, t := range db.ObjectTypes {
		typeLabels = append(typeLabels, string(t))
		typeData = append(typeData, opts.BarData{Value: byType[t]})
	}
	bar.SetXAxis(typeLabels).AddSeries("observations", typeData)

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "600px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Observations by context"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pieData := make([]opts.PieData, 0, len(db.Settings))
	for _, setting := range db.Settings {
		if byContext[setting] == 0 {
			continue
		}
		pieData = append(pieData, opts.PieData{Name: string(setting), Value: byContext[setting]})
	}
	pie.AddSeries("contexts", pieData)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Daily activity", Subtitle: "observation counts from the rollup table"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	if len(days) > 0 {
		// RollupDays is newest first; the x axis wants oldest first.
		ordered := make([]string, len(days))
		for i, day := range days {
			ordered[len(days)-1-i] = day
		}
		rollups, err := s.db.RollupsBetween(ctx, ordered[0], ordered[len(ordered)-1])
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to query rollups: %v", err))
			return
		}
		perDay := make(map[string]map[string]int64)
		for _, roll := range rollups {
			if perDay[roll.Day] == nil {
				perDay[roll.Day] = make(map[string]int64)
			}
			perDay[roll.Day][roll.ObjectType] += roll.ObservationCount
		}
		line.SetXAxis(ordered)
		for _, t := range db.ObjectTypes {
			series := make([]opts.LineData, 0, len(ordered))
			for _, day := range ordered {
				series = append(series, opts.LineData{Value: perDay[day][string(t)]})
			}
			line.AddSeries(string(t), series)
		}
	}

	page := components.NewPage()
	page.PageTitle = "shelter.report analytics"
	page.AddCharts(bar, pie, line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render charts: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// densityPlot renders a PNG scatter of observation coordinates, fallback
// locations in a second color so approximate points stand apart. A quick
// no-JS density check, not a map.
func (s *Server) densityPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	observations, err := s.db.QueryObservations(r.Context(), db.ObservationFilter{Limit: db.MaxQueryLimit})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query observations: %v", err))
		return
	}

	var device, fallback plotter.XYs
	for _, obs := range observations {
		pt := plotter.XY{X: obs.Longitude, Y: obs.Latitude}
		if obs.LocationSource == db.LocationFallback {
			fallback = append(fallback, pt)
		} else {
			device = append(device, pt)
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Observation density (%d points)", len(observations))
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Add(plotter.NewGrid())

	if len(device) > 0 {
		sc, err := plotter.NewScatter(device)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to build scatter: %v", err))
			return
		}
		sc.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("device", sc)
	}
	if len(fallback) > 0 {
		sc, err := plotter.NewScatter(fallback)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to build scatter: %v", err))
			return
		}
		sc.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("fallback", sc)
	}

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		monitoring.Logf("charts: failed to write density plot: %v", err)
	}
}
