// Command assessplot renders PNG charts from stored assessment runs:
// per-run metric history and per-frame score traces for a single run.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/db"
	storage "github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality/storage/sqlite"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/security"
)

var (
	dbFile    = flag.String("db", "assessments.db", "Path to the SQLite database file")
	runID     = flag.String("run", "", "Plot per-frame scores for this run ID (default: plot run history)")
	limit     = flag.Int("limit", 50, "Number of recent runs in the history plot")
	outputDir = flag.String("out", "plots", "Output directory for PNG files")
)

var metricColors = map[string]color.RGBA{
	"WDD": {R: 0xd6, G: 0x2f, B: 0x2f, A: 0xff},
	"WPO": {R: 0x2f, G: 0x6f, B: 0xd6, A: 0xff},
	"SAI": {R: 0x2f, G: 0xa8, B: 0x4f, A: 0xff},
}

func main() {
	flag.Parse()

	database, err := db.OpenDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	store := storage.NewAssessmentStore(database.DB)

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output dir: %v", err)
	}

	if *runID != "" {
		if err := plotRunFrames(store, *runID); err != nil {
			log.Fatalf("Failed to plot run frames: %v", err)
		}
		return
	}
	if err := plotRunHistory(store, *limit); err != nil {
		log.Fatalf("Failed to plot run history: %v", err)
	}
}

// plotRunHistory draws WDD/WPO/SAI for the most recent runs, oldest to
// newest on the x axis.
func plotRunHistory(store *storage.AssessmentStore, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return fmt.Errorf("no stored runs in database")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Quality metrics, last %d runs", len(runs))
	p.X.Label.Text = "run (oldest to newest)"
	p.Y.Label.Text = "score"

	series := map[string]plotter.XYs{"WDD": {}, "WPO": {}, "SAI": {}}
	for i := len(runs) - 1; i >= 0; i-- {
		x := float64(len(runs) - 1 - i)
		series["WDD"] = append(series["WDD"], plotter.XY{X: x, Y: runs[i].WDD})
		series["WPO"] = append(series["WPO"], plotter.XY{X: x, Y: runs[i].WPO})
		series["SAI"] = append(series["SAI"], plotter.XY{X: x, Y: runs[i].SAI})
	}

	for _, name := range []string{"WDD", "WPO", "SAI"} {
		line, err := plotter.NewLine(series[name])
		if err != nil {
			return fmt.Errorf("build %s line: %w", name, err)
		}
		line.Width = vg.Points(1)
		line.Color = metricColors[name]
		p.Add(line)
		p.Legend.Add(name, line)
	}

	outFile := filepath.Join(*outputDir, "run_history.png")
	if err := p.Save(14*vg.Inch, 6*vg.Inch, outFile); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	fmt.Printf("wrote %s (%d runs)\n", outFile, len(runs))
	return nil
}

// plotRunFrames draws one run's per-frame WDD and WPO scores against
// frame index, with self-appearance frames marked.
func plotRunFrames(store *storage.AssessmentStore, runID string) error {
	frames, err := store.FrameMetricsForRun(runID)
	if err != nil {
		return fmt.Errorf("load frame metrics: %w", err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frame metrics stored for run %s", runID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Per-frame scores, run %s", runID)
	p.X.Label.Text = "frame index"
	p.Y.Label.Text = "score"

	wddPts := make(plotter.XYs, 0, len(frames))
	wpoPts := make(plotter.XYs, 0, len(frames))
	selfPts := make(plotter.XYs, 0)
	for _, f := range frames {
		wddPts = append(wddPts, plotter.XY{X: float64(f.FrameIndex), Y: f.WDDScore})
		wpoPts = append(wpoPts, plotter.XY{X: float64(f.FrameIndex), Y: f.WPOScore})
		if f.HasSelfAppearance {
			selfPts = append(selfPts, plotter.XY{X: float64(f.FrameIndex), Y: f.WDDScore})
		}
	}

	wddLine, err := plotter.NewLine(wddPts)
	if err != nil {
		return fmt.Errorf("build WDD line: %w", err)
	}
	wddLine.Width = vg.Points(1)
	wddLine.Color = metricColors["WDD"]
	p.Add(wddLine)
	p.Legend.Add("WDD", wddLine)

	wpoLine, err := plotter.NewLine(wpoPts)
	if err != nil {
		return fmt.Errorf("build WPO line: %w", err)
	}
	wpoLine.Width = vg.Points(1)
	wpoLine.Color = metricColors["WPO"]
	p.Add(wpoLine)
	p.Legend.Add("WPO", wpoLine)

	if len(selfPts) > 0 {
		scatter, err := plotter.NewScatter(selfPts)
		if err != nil {
			return fmt.Errorf("build self-appearance markers: %w", err)
		}
		scatter.GlyphStyle.Color = metricColors["SAI"]
		scatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(scatter)
		p.Legend.Add("self-appearance", scatter)
	}

	outFile := filepath.Join(*outputDir, fmt.Sprintf("run_%s_frames.png", security.SanitizeFilename(runID)))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, outFile); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	fmt.Printf("wrote %s (%d frames)\n", outFile, len(frames))
	return nil
}
