// Package report renders a PDF contact sheet for a finished sweep: a cover
// page with the sweep options, a thumbnail grid of all outputs and a metric
// table built from the run ledger.
package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"

	"stylesweep/database"
	"stylesweep/imaging"
	"stylesweep/logging"
	"stylesweep/types"
)

// Layout constants for A4 portrait in millimetres
const (
	pageMargin  = 15.0
	gridColumns = 3
	cellWidth   = 60.0
	imageWidth  = 54.0
	rowHeight   = 68.0

	// Outputs larger than this are downscaled before embedding
	thumbSide = 320
)

// Generate renders the contact sheet for sweepID into outPath. Outputs that
// disappeared from saveDir since the sweep ran are drawn as placeholders.
func Generate(db *sql.DB, sweepID, saveDir, outPath string) error {
	records, err := database.RunsForSweep(db, sweepID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no recorded runs for sweep %s", sweepID)
	}

	summary, err := database.GetSweepSummary(db, sweepID)
	if err != nil {
		return err
	}

	thumbDir, err := os.MkdirTemp("", "stylesweep-report-")
	if err != nil {
		return fmt.Errorf("cannot create thumbnail folder: %v", err)
	}
	defer os.RemoveAll(thumbDir)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("StyleSweep "+sweepID, false)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("%s - page %d", sweepID, pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	writeCoverPage(pdf, sweepID, saveDir, summary)
	writeGrid(pdf, records, thumbDir)
	writeTable(pdf, records)

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("cannot write report %s: %v", outPath, err)
	}
	return nil
}

func writeCoverPage(pdf *gofpdf.Fpdf, sweepID, saveDir string, summary *database.SweepSummary) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 12, "Style sweep report", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Sweep "+sweepID, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated "+time.Now().Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d runs, mean loss %.4g, mean structure %.3f, total time %.1fs",
		summary.Runs, summary.MeanTotalLoss, summary.MeanStructure, float64(summary.TotalMillis)/1000),
		"", 1, "L", false, 0, "")
	pdf.Ln(4)

	// The manifest is reproduced verbatim so a reader can rerun the sweep
	raw, err := os.ReadFile(filepath.Join(saveDir, "sweep.json"))
	if err != nil {
		logging.LogWarning("sweep manifest not found in %s: %v", saveDir, err)
		return
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, "Options", "", 1, "L", false, 0, "")
	pdf.SetFont("Courier", "", 8)
	pdf.MultiCell(0, 4, string(raw), "", "L", false)
}

func writeGrid(pdf *gofpdf.Fpdf, records []types.RunRecord, thumbDir string) {
	pdf.AddPage()

	// Rows are placed manually so a caption never separates from its image
	pdf.SetAutoPageBreak(false, pageMargin)
	defer pdf.SetAutoPageBreak(true, pageMargin)

	_, pageH := pdf.GetPageSize()
	y := pageMargin
	col := 0

	for i, rec := range records {
		if col == gridColumns {
			col = 0
			y += rowHeight
		}
		if y+rowHeight > pageH-pageMargin {
			pdf.AddPage()
			y = pageMargin
		}
		x := pageMargin + float64(col)*cellWidth

		thumb, err := thumbnailFor(rec.OutputPath, thumbDir, i)
		if err != nil {
			logging.LogWarning("output %s not embeddable: %v", rec.OutputPath, err)
			pdf.SetDrawColor(200, 200, 200)
			pdf.Rect(x, y, imageWidth, imageWidth, "D")
			pdf.SetFont("Helvetica", "I", 8)
			pdf.SetTextColor(150, 150, 150)
			pdf.SetXY(x, y+imageWidth/2-3)
			pdf.CellFormat(imageWidth, 6, "missing", "", 0, "C", false, 0, "")
		} else {
			pdf.ImageOptions(thumb, x, y, imageWidth, 0, false,
				gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		}

		pdf.SetXY(x, y+imageWidth+1)
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(imageWidth, 4, filepath.Base(rec.OutputPath), "", 2, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 7)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(imageWidth, 4, fmt.Sprintf("%s  loss %.3g  struct %.2f",
			rec.Backend, rec.TotalLoss, rec.Structure), "", 0, "L", false, 0, "")

		col++
	}
}

// thumbnailFor returns a path suitable for embedding: the original file when
// it is already small enough, otherwise a downscaled copy in thumbDir
func thumbnailFor(outputPath, thumbDir string, idx int) (string, error) {
	img, _, err := imaging.Load(outputPath)
	if err != nil {
		return "", err
	}

	b := img.Bounds()
	if b.Dx() <= thumbSide && b.Dy() <= thumbSide {
		return outputPath, nil
	}

	thumbPath := filepath.Join(thumbDir, fmt.Sprintf("thumb_%03d.png", idx))
	if err := imaging.SavePNG(thumbPath, imaging.Thumbnail(img, thumbSide)); err != nil {
		return "", err
	}
	return thumbPath, nil
}

func writeTable(pdf *gofpdf.Fpdf, records []types.RunRecord) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, "Run metrics", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	widths := []float64{10, 60, 25, 25, 25, 20}
	headers := []string{"#", "Output", "Backend", "Total loss", "Structure", "Time"}

	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for i, rec := range records {
		cells := []string{
			fmt.Sprintf("%d", i+1),
			filepath.Base(rec.OutputPath),
			rec.Backend,
			fmt.Sprintf("%.4g", rec.TotalLoss),
			fmt.Sprintf("%.3f", rec.Structure),
			fmt.Sprintf("%.1fs", float64(rec.DurationMS)/1000),
		}
		for j, cell := range cells {
			pdf.CellFormat(widths[j], 5, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
}
