package sweep

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stylesweep/database"
	"stylesweep/engine"
	"stylesweep/metrics"
	"stylesweep/params"
	"stylesweep/styles"
	"stylesweep/types"
)

type fakeStylizer struct {
	name  string
	fills map[string]color.RGBA
	fail  bool
	calls int
	seen  []params.Transfer
}

func (f *fakeStylizer) Name() string { return f.name }

func (f *fakeStylizer) CanStyle(styles.Style) bool { return true }

func (f *fakeStylizer) Stylize(content *image.RGBA, style styles.Style, p params.Transfer) (*image.RGBA, error) {
	f.calls++
	f.seen = append(f.seen, p)
	if f.fail {
		return nil, fmt.Errorf("synthetic backend failure")
	}

	fill, ok := f.fills[style.Name]
	if !ok {
		fill = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}

	out := image.NewRGBA(content.Bounds())
	for y := out.Bounds().Min.Y; y < out.Bounds().Max.Y; y++ {
		for x := out.Bounds().Min.X; x < out.Bounds().Max.X; x++ {
			out.SetRGBA(x, y, fill)
		}
	}
	return out, nil
}

func writeSolidPNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeHalfMaskPNG(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// sweepEnv is a catalog with three contents (a: masked, b: maskless,
// c: masked but low coverage) and a two-style library without models
type sweepEnv struct {
	db      *sql.DB
	lib     *styles.Library
	saveDir string
}

func newSweepEnv(t *testing.T) *sweepEnv {
	t.Helper()

	tmp := t.TempDir()

	contentsDir := filepath.Join(tmp, "contents")
	masksDir := filepath.Join(tmp, "masks")
	stylesDir := filepath.Join(tmp, "styles")
	modelsDir := filepath.Join(tmp, "models")
	saveDir := filepath.Join(tmp, "save")
	for _, dir := range []string{contentsDir, masksDir, stylesDir, modelsDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	writeSolidPNG(t, filepath.Join(contentsDir, "a.png"), 80, 60, color.RGBA{R: 200, G: 60, B: 60, A: 255})
	writeSolidPNG(t, filepath.Join(contentsDir, "b.png"), 80, 60, color.RGBA{R: 60, G: 200, B: 60, A: 255})
	writeSolidPNG(t, filepath.Join(contentsDir, "c.png"), 80, 60, color.RGBA{R: 60, G: 60, B: 200, A: 255})
	writeHalfMaskPNG(t, filepath.Join(masksDir, "a.png"), 80, 60)
	writeHalfMaskPNG(t, filepath.Join(masksDir, "c.png"), 80, 60)

	writeSolidPNG(t, filepath.Join(stylesDir, "mosaic.png"), 50, 50, color.RGBA{R: 250, G: 220, B: 40, A: 255})
	writeSolidPNG(t, filepath.Join(stylesDir, "wave.png"), 50, 50, color.RGBA{R: 40, G: 120, B: 250, A: 255})

	db, err := database.InitDatabase(filepath.Join(tmp, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now().Format(time.RFC3339)
	entries := []types.ContentEntry{
		{Path: filepath.Join(contentsDir, "a.png"), MaskPath: filepath.Join(masksDir, "a.png"),
			Format: "png", Width: 80, Height: 60, Coverage: 0.5, ModifiedAt: now, Size: 1},
		{Path: filepath.Join(contentsDir, "b.png"),
			Format: "png", Width: 80, Height: 60, Coverage: 0, ModifiedAt: now, Size: 1},
		{Path: filepath.Join(contentsDir, "c.png"), MaskPath: filepath.Join(masksDir, "c.png"),
			Format: "png", Width: 80, Height: 60, Coverage: 0.2, ModifiedAt: now, Size: 1},
	}
	for _, e := range entries {
		require.NoError(t, database.StoreContent(db, e, false))
	}

	lib, err := styles.OpenLibrary(stylesDir, modelsDir)
	require.NoError(t, err)

	return &sweepEnv{db: db, lib: lib, saveDir: saveDir}
}

func baseOptions(env *sweepEnv) Options {
	return Options{
		BGStyles:      []string{"mosaic"},
		StyleScale:    1,
		Size:          64,
		Iterations:    params.DefaultIterations,
		ContentWeight: params.DefaultContentWeight,
		TVWeight:      params.DefaultTVWeight,
		MaskStyles:    true,
		SaveDir:       env.saveDir,
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	env := newSweepEnv(t)
	scorer := metrics.NewScorer(nil)
	reg := engine.NewRegistry(&fakeStylizer{name: "fake"})

	opts := baseOptions(env)
	opts.BGStyles = nil
	_, err := New(env.db, env.lib, reg, scorer, opts)
	require.ErrorContains(t, err, "background style")

	opts = baseOptions(env)
	opts.StyleScale = 0
	_, err = New(env.db, env.lib, reg, scorer, opts)
	require.ErrorContains(t, err, "scale")

	opts = baseOptions(env)
	opts.Size = 8
	_, err = New(env.db, env.lib, reg, scorer, opts)
	require.ErrorContains(t, err, "size")

	opts = baseOptions(env)
	opts.FGStyles = []string{"wave"}
	opts.MaskStyles = false
	_, err = New(env.db, env.lib, reg, scorer, opts)
	require.ErrorContains(t, err, "masking")

	opts = baseOptions(env)
	opts.BGStyles = []string{"unknown"}
	_, err = New(env.db, env.lib, reg, scorer, opts)
	require.ErrorContains(t, err, "unknown style")
}

func TestPlanGridOrder(t *testing.T) {
	env := newSweepEnv(t)
	opts := baseOptions(env)
	opts.BGStyles = []string{"mosaic", "wave"}
	opts.ContentIDs = []int{0, 1}

	runner, err := New(env.db, env.lib, engine.NewRegistry(&fakeStylizer{name: "fake"}), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	combos, err := runner.Plan()
	require.NoError(t, err)
	require.Len(t, combos, 4)

	// Contents outer, backgrounds inner, in the given order
	require.Equal(t, "0_mosaic.png", combos[0].OutputName)
	require.Equal(t, "0_wave.png", combos[1].OutputName)
	require.Equal(t, "1_mosaic.png", combos[2].OutputName)
	require.Equal(t, "1_wave.png", combos[3].OutputName)
	require.Equal(t, 0, combos[0].ContentIdx)
	require.Equal(t, 1, combos[3].ContentIdx)
}

func TestPlanDedupesStyles(t *testing.T) {
	env := newSweepEnv(t)
	opts := baseOptions(env)
	opts.BGStyles = []string{"mosaic", "mosaic"}
	opts.ContentIDs = []int{0}

	runner, err := New(env.db, env.lib, engine.NewRegistry(&fakeStylizer{name: "fake"}), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	combos, err := runner.Plan()
	require.NoError(t, err)
	require.Len(t, combos, 1)
}

func TestPlanForegroundNeedsMask(t *testing.T) {
	env := newSweepEnv(t)

	// Automatic selection keeps only masked contents
	opts := baseOptions(env)
	opts.FGStyles = []string{"wave"}
	runner, err := New(env.db, env.lib, engine.NewRegistry(&fakeStylizer{name: "fake"}), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	combos, err := runner.Plan()
	require.NoError(t, err)
	require.Len(t, combos, 2)
	require.Equal(t, "0_mosaic_wave.png", combos[0].OutputName)
	require.Equal(t, "2_mosaic_wave.png", combos[1].OutputName)

	// An explicitly chosen maskless content is an error
	opts = baseOptions(env)
	opts.FGStyles = []string{"wave"}
	opts.ContentIDs = []int{1}
	runner, err = New(env.db, env.lib, engine.NewRegistry(&fakeStylizer{name: "fake"}), metrics.NewScorer(nil), opts)
	require.NoError(t, err)
	_, err = runner.Plan()
	require.ErrorContains(t, err, "no mask")
}

func TestPlanMinCoverageFilter(t *testing.T) {
	env := newSweepEnv(t)
	opts := baseOptions(env)
	opts.FGStyles = []string{"wave"}
	opts.MinCoverage = 0.3

	runner, err := New(env.db, env.lib, engine.NewRegistry(&fakeStylizer{name: "fake"}), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	combos, err := runner.Plan()
	require.NoError(t, err)
	require.Len(t, combos, 1)
	require.Equal(t, 0, combos[0].ContentIdx)
}

func TestPlanIndexOutOfRange(t *testing.T) {
	env := newSweepEnv(t)
	opts := baseOptions(env)
	opts.ContentIDs = []int{5}

	runner, err := New(env.db, env.lib, engine.NewRegistry(&fakeStylizer{name: "fake"}), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	_, err = runner.Plan()
	require.ErrorContains(t, err, "out of range")
}

func TestRunWritesOutputsManifestAndLedger(t *testing.T) {
	env := newSweepEnv(t)
	fake := &fakeStylizer{name: "fake"}

	opts := baseOptions(env)
	opts.ContentIDs = []int{0, 1}
	opts.StyleScale = 2

	runner, err := New(env.db, env.lib, engine.NewRegistry(fake), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	stats, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, 2, stats.Planned)
	require.Equal(t, 2, stats.Completed)
	require.Zero(t, stats.Skipped)
	require.Zero(t, stats.Errors)
	require.False(t, stats.Interrupted)

	for _, name := range []string{"0_mosaic.png", "1_mosaic.png"} {
		_, err := os.Stat(filepath.Join(env.saveDir, name))
		require.NoError(t, err, "missing output %s", name)
	}

	raw, err := os.ReadFile(filepath.Join(env.saveDir, "sweep.json"))
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, runner.SweepID(), m.SweepID)
	require.Equal(t, 2, m.Planned)
	require.Equal(t, 2.0, m.StyleScale)

	records, err := database.RunsForSweep(env.db, runner.SweepID())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "fake", records[0].Backend)
	require.Equal(t, "mosaic", records[0].BGStyle)
	require.Empty(t, records[0].FGStyle)

	var p params.Transfer
	require.NoError(t, json.Unmarshal([]byte(records[0].ParamsJSON), &p))
	require.Equal(t, 600000.0, p.StyleWeights[0])
	require.Equal(t, params.DefaultContentWeight, p.ContentWeight)
}

func TestRunFreshParamsPerCombination(t *testing.T) {
	env := newSweepEnv(t)
	fake := &fakeStylizer{name: "fake"}

	opts := baseOptions(env)
	opts.ContentIDs = []int{0, 1}
	opts.StyleScale = 3

	runner, err := New(env.db, env.lib, engine.NewRegistry(fake), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	_, err = runner.Run()
	require.NoError(t, err)
	require.Len(t, fake.seen, 2)

	for _, p := range fake.seen {
		require.Equal(t, 900000.0, p.StyleWeights[0])
		require.Equal(t, 3.0, p.StyleWeights[4])
	}

	// Mutating one record must not touch the other
	fake.seen[0].StyleWeights[0] = -1
	require.Equal(t, 900000.0, fake.seen[1].StyleWeights[0])
}

func TestRunResumeSkipsExisting(t *testing.T) {
	env := newSweepEnv(t)
	fake := &fakeStylizer{name: "fake"}

	opts := baseOptions(env)
	opts.ContentIDs = []int{0, 1}
	opts.Resume = true

	require.NoError(t, os.MkdirAll(env.saveDir, 0755))
	writeSolidPNG(t, filepath.Join(env.saveDir, "0_mosaic.png"), 10, 10, color.RGBA{A: 255})

	runner, err := New(env.db, env.lib, engine.NewRegistry(fake), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	stats, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, 2, stats.Planned)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 1, stats.Completed)
	require.Equal(t, 1, fake.calls)
}

func TestRunMaskedCombination(t *testing.T) {
	env := newSweepEnv(t)
	fake := &fakeStylizer{name: "fake", fills: map[string]color.RGBA{
		"mosaic": {R: 255, A: 255},
		"wave":   {B: 255, A: 255},
	}}

	opts := baseOptions(env)
	opts.ContentIDs = []int{0}
	opts.FGStyles = []string{"wave"}

	runner, err := New(env.db, env.lib, engine.NewRegistry(fake), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	stats, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Completed)
	require.Equal(t, 2, fake.calls, "masked combination stylizes background and foreground")

	outPath := filepath.Join(env.saveDir, "0_mosaic_wave.png")
	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())

	// Left half keeps the background fill, right half the foreground fill
	r, _, b, _ := img.At(4, 32).RGBA()
	require.Greater(t, r, b)
	r, _, b, _ = img.At(60, 32).RGBA()
	require.Greater(t, b, r)

	records, err := database.RunsForSweep(env.db, runner.SweepID())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "wave", records[0].FGStyle)
}

func TestRunRecordsBackendFailure(t *testing.T) {
	env := newSweepEnv(t)
	fake := &fakeStylizer{name: "fake", fail: true}

	opts := baseOptions(env)
	opts.ContentIDs = []int{0}

	runner, err := New(env.db, env.lib, engine.NewRegistry(fake), metrics.NewScorer(nil), opts)
	require.NoError(t, err)

	stats, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Errors)
	require.Zero(t, stats.Completed)

	_, statErr := os.Stat(filepath.Join(env.saveDir, "0_mosaic.png"))
	require.True(t, os.IsNotExist(statErr))

	records, err := database.RunsForSweep(env.db, runner.SweepID())
	require.NoError(t, err)
	require.Empty(t, records)
}
