package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/httputil"
	storage "github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality/storage/sqlite"
)

// echartsAssetsPrefix is where the page loads the echarts JS bundle from.
const echartsAssetsPrefix = "https://assets.pyecharts.org/assets/v5/"

// handleMetricsChart renders WDD/WPO/SAI bars for recent stored runs.
// Query params:
//
//	limit (optional, default 30, max 200)
func (ws *WebServer) handleMetricsChart(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		httputil.NotFound(w, "no store configured")
		return
	}

	limit := 30
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	runs, err := ws.store.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list runs: %v", err))
		return
	}
	if len(runs) == 0 {
		httputil.NotFound(w, "no stored runs available")
		return
	}

	// Oldest first so the x axis reads left to right in time.
	labels := make([]string, 0, len(runs))
	wdd := make([]opts.BarData, 0, len(runs))
	wpo := make([]opts.BarData, 0, len(runs))
	sai := make([]opts.BarData, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		label := run.SceneID
		if label == "" {
			label = shortID(run.RunID)
		}
		labels = append(labels, label)
		wdd = append(wdd, opts.BarData{Value: run.WDD})
		wpo = append(wpo, opts.BarData{Value: run.WPO})
		sai = append(sai, opts.BarData{Value: run.SAI})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Quality Metrics", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Quality Metrics by Run", Subtitle: fmt.Sprintf("last %d stored runs", len(runs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "score"}),
	)
	bar.SetXAxis(labels).
		AddSeries("WDD", wdd).
		AddSeries("WPO", wpo).
		AddSeries("SAI", sai)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDecisionsChart renders stacked daily decision counts from the
// rollup table.
func (ws *WebServer) handleDecisionsChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}

	rollups, err := storage.Rollups(ws.db.DB)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get rollups: %v", err))
		return
	}
	if len(rollups) == 0 {
		httputil.NotFound(w, "no rollups available")
		return
	}

	// Pivot day/decision rows into one series per decision.
	daySet := map[string]bool{}
	byDecision := map[string]map[string]int{}
	for _, ru := range rollups {
		daySet[ru.Day] = true
		if byDecision[ru.Decision] == nil {
			byDecision[ru.Decision] = map[string]int{}
		}
		byDecision[ru.Decision][ru.Day] = ru.RunCount
	}
	days := make([]string, 0, len(daySet))
	for day := range daySet {
		days = append(days, day)
	}
	sort.Strings(days)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Decisions by Day", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Decisions by Day"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(days)
	for _, decision := range []string{"PASS", "NEED_REVIEW", "REJECT", "ERROR"} {
		counts, ok := byDecision[decision]
		if !ok {
			continue
		}
		data := make([]opts.BarData, len(days))
		for i, day := range days {
			data[i] = opts.BarData{Value: counts[day]}
		}
		bar.AddSeries(decision, data, charts.WithBarChartOpts(opts.BarChart{Stack: "decisions"}))
	}

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
