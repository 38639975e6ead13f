// Package sweep runs Cartesian parameter sweeps: every selected content
// image crossed with every background (and optional foreground) style,
// executed sequentially with one fresh parameter record per combination.
package sweep

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"stylesweep/database"
	"stylesweep/dataset"
	"stylesweep/engine"
	"stylesweep/imaging"
	"stylesweep/logging"
	"stylesweep/metrics"
	"stylesweep/params"
	"stylesweep/signalhandler"
	"stylesweep/styles"
	"stylesweep/types"
)

// Options defines one sweep. All numeric fields are final values; the
// caller resolves defaults before constructing the runner.
type Options struct {
	SourcePrefix  string
	ContentIDs    []int // nil selects every eligible content
	BGStyles      []string
	FGStyles      []string // empty runs background-only combinations
	StyleScale    float64
	Size          int
	Iterations    int
	ContentWeight float64
	TVWeight      float64
	MaskStyles    bool
	PreserveColor bool
	MinCoverage   float64
	SaveDir       string
	Resume        bool
	ForceBackend  string
	DebugMode     bool
}

// Combo is one planned engine invocation
type Combo struct {
	ContentIdx int
	Entry      types.ContentEntry
	BGStyle    string
	FGStyle    string
	OutputName string
}

// Runner executes a sweep against the catalog, style library and engine
type Runner struct {
	db      *sql.DB
	lib     *styles.Library
	reg     *engine.Registry
	scorer  *metrics.Scorer
	opts    Options
	sweepID string
}

// New validates the options and prepares a runner. Every named style must
// exist in the library; foreground styles require style masking.
func New(db *sql.DB, lib *styles.Library, reg *engine.Registry, scorer *metrics.Scorer, opts Options) (*Runner, error) {
	if len(opts.BGStyles) == 0 {
		return nil, errors.New("at least one background style is required")
	}
	if opts.StyleScale <= 0 {
		return nil, errors.Errorf("style scale must be positive, got %v", opts.StyleScale)
	}
	if opts.Size < 32 {
		return nil, errors.Errorf("working size must be at least 32, got %d", opts.Size)
	}
	if len(opts.FGStyles) > 0 && !opts.MaskStyles {
		return nil, errors.New("foreground styles require style masking")
	}

	opts.BGStyles = dedupe(opts.BGStyles)
	opts.FGStyles = dedupe(opts.FGStyles)

	for _, name := range append(append([]string{}, opts.BGStyles...), opts.FGStyles...) {
		if _, err := lib.Get(name); err != nil {
			return nil, err
		}
	}

	sweepID := fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), uuid.New().String()[:8])

	return &Runner{
		db:      db,
		lib:     lib,
		reg:     reg,
		scorer:  scorer,
		opts:    opts,
		sweepID: sweepID,
	}, nil
}

// SweepID returns the identifier used in the manifest and the run ledger
func (r *Runner) SweepID() string {
	return r.sweepID
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// buildParams makes the parameter record for one combination. Each call
// returns fresh slices, so no combination can leak weights into the next.
func (r *Runner) buildParams() params.Transfer {
	p := params.Defaults()
	p.StyleWeights = params.ScaleStyleWeights(params.BaseStyleWeights[:], r.opts.StyleScale)
	p.ContentWeight = r.opts.ContentWeight
	p.TVWeight = r.opts.TVWeight
	p.Iterations = r.opts.Iterations
	p.MaskStyles = r.opts.MaskStyles
	p.PreserveColor = r.opts.PreserveColor
	return p
}

// Plan resolves the content selection and expands the Cartesian grid.
// Content indices are positions in the path-ordered catalog listing;
// combination order is contents outer, then background, then foreground.
func (r *Runner) Plan() ([]Combo, error) {
	entries, err := database.ListContents(r.db, r.opts.SourcePrefix)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("no contents in the catalog; run 'index' first")
	}

	needsMask := len(r.opts.FGStyles) > 0

	var selected []int
	if r.opts.ContentIDs == nil {
		for idx, entry := range entries {
			if needsMask && entry.MaskPath == "" {
				logging.DebugLog("Skipping content %d (%s): no mask", idx, entry.Path)
				continue
			}
			if r.opts.MinCoverage > 0 && entry.Coverage < r.opts.MinCoverage {
				logging.DebugLog("Skipping content %d (%s): coverage %.3f below %.3f",
					idx, entry.Path, entry.Coverage, r.opts.MinCoverage)
				continue
			}
			selected = append(selected, idx)
		}
		if len(selected) == 0 {
			return nil, errors.New("no eligible contents after mask and coverage filters")
		}
	} else {
		for _, idx := range r.opts.ContentIDs {
			if idx < 0 || idx >= len(entries) {
				return nil, errors.Errorf("content index %d out of range (catalog has %d entries)", idx, len(entries))
			}
			if needsMask && entries[idx].MaskPath == "" {
				return nil, errors.Errorf("content %d (%s) has no mask but foreground styles were requested", idx, entries[idx].Path)
			}
			selected = append(selected, idx)
		}
	}

	fgList := r.opts.FGStyles
	if len(fgList) == 0 {
		fgList = []string{""}
	}

	var combos []Combo
	for _, idx := range selected {
		for _, bg := range r.opts.BGStyles {
			for _, fg := range fgList {
				combos = append(combos, Combo{
					ContentIdx: idx,
					Entry:      entries[idx],
					BGStyle:    bg,
					FGStyle:    fg,
					OutputName: params.OutputName(idx, bg, fg),
				})
			}
		}
	}
	return combos, nil
}

// manifest mirrors the options of one sweep for reproducibility
type manifest struct {
	SweepID       string   `json:"sweep_id"`
	StartedAt     string   `json:"started_at"`
	SourcePrefix  string   `json:"source_prefix,omitempty"`
	ContentIDs    []int    `json:"content_ids,omitempty"`
	BGStyles      []string `json:"bg_styles"`
	FGStyles      []string `json:"fg_styles,omitempty"`
	StyleScale    float64  `json:"style_scale"`
	Size          int      `json:"size"`
	Iterations    int      `json:"iterations"`
	ContentWeight float64  `json:"content_weight"`
	TVWeight      float64  `json:"tv_weight"`
	MaskStyles    bool     `json:"mask_styles"`
	PreserveColor bool     `json:"preserve_color"`
	MinCoverage   float64  `json:"min_coverage,omitempty"`
	ForceBackend  string   `json:"force_backend,omitempty"`
	Planned       int      `json:"planned"`
}

func (r *Runner) writeManifest(planned int, startedAt time.Time) error {
	m := manifest{
		SweepID:       r.sweepID,
		StartedAt:     startedAt.Format(time.RFC3339),
		SourcePrefix:  r.opts.SourcePrefix,
		ContentIDs:    r.opts.ContentIDs,
		BGStyles:      r.opts.BGStyles,
		FGStyles:      r.opts.FGStyles,
		StyleScale:    r.opts.StyleScale,
		Size:          r.opts.Size,
		Iterations:    r.opts.Iterations,
		ContentWeight: r.opts.ContentWeight,
		TVWeight:      r.opts.TVWeight,
		MaskStyles:    r.opts.MaskStyles,
		PreserveColor: r.opts.PreserveColor,
		MinCoverage:   r.opts.MinCoverage,
		ForceBackend:  r.opts.ForceBackend,
		Planned:       planned,
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode sweep manifest")
	}

	path := filepath.Join(r.opts.SaveDir, "sweep.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errors.Wrapf(err, "cannot write %s", path)
	}
	return nil
}

// Run executes the sweep sequentially. Existing outputs are skipped in
// resume mode; a stop request finishes the combination in flight and then
// ends the sweep with the stats marked interrupted.
func (r *Runner) Run() (*types.SweepStats, error) {
	combos, err := r.Plan()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.opts.SaveDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create save folder %s", r.opts.SaveDir)
	}

	startedAt := time.Now()
	if err := r.writeManifest(len(combos), startedAt); err != nil {
		return nil, err
	}

	stats := &types.SweepStats{SweepID: r.sweepID, Planned: len(combos)}

	fmt.Printf("Starting sweep %s: %d combinations (%d contents x %d bg x %d fg), scale %v\n",
		r.sweepID, len(combos), countContents(combos), len(r.opts.BGStyles), maxInt(len(r.opts.FGStyles), 1), r.opts.StyleScale)

	// Contents and style images are reused read-only across combinations
	contentCache := make(map[int]*dataset.Content)
	styleCache := make(map[string]*image.RGBA)

	for i, combo := range combos {
		if signalhandler.StopRequested() {
			stats.Interrupted = true
			break
		}

		outPath := filepath.Join(r.opts.SaveDir, combo.OutputName)

		if r.opts.Resume {
			if _, err := os.Stat(outPath); err == nil {
				stats.Skipped++
				fmt.Printf("[%d/%d] %s exists, skipped\n", i+1, len(combos), combo.OutputName)
				continue
			}
		}

		start := time.Now()
		rec, report, err := r.runOne(combo, outPath, contentCache, styleCache)
		if err != nil {
			stats.Errors++
			logging.LogRunResult(outPath, false, err.Error())
			fmt.Printf("[%d/%d] %s FAILED: %v\n", i+1, len(combos), combo.OutputName, err)
			continue
		}

		rec.DurationMS = time.Since(start).Milliseconds()
		if err := database.InsertRun(r.db, *rec); err != nil {
			stats.Errors++
			logging.LogError("run for %s finished but could not be recorded: %v", outPath, err)
			fmt.Printf("[%d/%d] %s done but not recorded: %v\n", i+1, len(combos), combo.OutputName, err)
			continue
		}

		stats.Completed++
		logging.LogRunResult(outPath, true, "")
		fmt.Printf("[%d/%d] %s done (%s, loss %.4g, structure %.3f, %.1fs)\n",
			i+1, len(combos), combo.OutputName, rec.Backend, report.TotalLoss, report.Structure,
			time.Since(start).Seconds())
	}

	stats.ElapsedSecs = time.Since(startedAt).Seconds()
	printSweepSummary(stats, r.opts.SaveDir)

	return stats, nil
}

// runOne loads inputs, applies the engine, saves the PNG and scores it
func (r *Runner) runOne(combo Combo, outPath string, contentCache map[int]*dataset.Content, styleCache map[string]*image.RGBA) (*types.RunRecord, *metrics.Report, error) {
	content, ok := contentCache[combo.ContentIdx]
	if !ok {
		var err error
		content, err = dataset.Load(combo.Entry, r.opts.Size)
		if err != nil {
			return nil, nil, err
		}
		contentCache[combo.ContentIdx] = content
	}

	bgStyle, err := r.lib.Get(combo.BGStyle)
	if err != nil {
		return nil, nil, err
	}

	var fg *styles.Style
	if combo.FGStyle != "" {
		s, err := r.lib.Get(combo.FGStyle)
		if err != nil {
			return nil, nil, err
		}
		fg = &s
	}

	p := r.buildParams()

	res, err := engine.Apply(r.reg, engine.Request{
		Content:      content.Image,
		Mask:         content.Mask,
		BG:           bgStyle,
		FG:           fg,
		Params:       p,
		ForceBackend: r.opts.ForceBackend,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := imaging.SavePNG(outPath, res.Image); err != nil {
		return nil, nil, err
	}

	styleImg, ok := styleCache[combo.BGStyle]
	if !ok {
		styleImg, err = r.lib.LoadImage(combo.BGStyle, r.opts.Size)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot load style reference for %s", combo.BGStyle)
		}
		styleCache[combo.BGStyle] = styleImg
	}

	report, err := r.scorer.Score(res.Image, content.Image, styleImg, p)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "scoring %s", combo.OutputName)
	}

	paramsJSON, err := json.Marshal(p)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot encode parameters")
	}

	backend := res.BGBackend
	if res.FGBackend != "" && res.FGBackend != res.BGBackend {
		backend = res.BGBackend + "+" + res.FGBackend
	}

	rec := &types.RunRecord{
		RunID:       uuid.New().String(),
		SweepID:     r.sweepID,
		ContentIdx:  combo.ContentIdx,
		ContentPath: combo.Entry.Path,
		BGStyle:     combo.BGStyle,
		FGStyle:     combo.FGStyle,
		Backend:     backend,
		OutputPath:  outPath,
		ParamsJSON:  string(paramsJSON),
		ContentLoss: report.ContentLoss,
		StyleLoss:   report.StyleLoss,
		TVLoss:      report.TVLoss,
		TotalLoss:   report.TotalLoss,
		Structure:   report.Structure,
		CreatedAt:   time.Now().Format(time.RFC3339),
	}
	return rec, report, nil
}

func printSweepSummary(stats *types.SweepStats, saveDir string) {
	fmt.Println("\nSweep complete.")
	fmt.Printf("Completed %d/%d combinations (%d skipped, %d errors) in %.1fs.\n",
		stats.Completed, stats.Planned, stats.Skipped, stats.Errors, stats.ElapsedSecs)
	fmt.Printf("Outputs in %s\n", saveDir)

	if stats.Interrupted {
		fmt.Println("Sweep was interrupted; rerun with --resume to finish the remaining combinations.")
	}
	if stats.Errors > 0 {
		fmt.Println("Check the log file for details.")
	}
}

func countContents(combos []Combo) int {
	seen := make(map[int]bool)
	for _, c := range combos {
		seen[c.ContentIdx] = true
	}
	return len(seen)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
