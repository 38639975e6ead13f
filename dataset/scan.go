package dataset

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stylesweep/database"
	"stylesweep/imaging"
	"stylesweep/logging"
	"stylesweep/types"
)

// ScanOptions defines the options for indexing a dataset
type ScanOptions struct {
	DataDir      string
	SourcePrefix string
	ForceRewrite bool
	DebugMode    bool
	MaxWorkers   int
}

// indexResult holds the result of indexing one content image
type indexResult struct {
	Path        string
	Success     bool
	Skipped     bool
	MissingMask bool
	Error       error
}

// Scan walks DataDir/images, pairs every image with its mask from
// DataDir/masks and stores the catalog rows in the database
func Scan(db *sql.DB, options ScanOptions) (*types.ScanStats, error) {
	imagesDir := filepath.Join(options.DataDir, "images")
	masksDir := filepath.Join(options.DataDir, "masks")

	if _, err := os.Stat(imagesDir); err != nil {
		return nil, fmt.Errorf("dataset images folder not found: %s", imagesDir)
	}

	// Initialize components for parallel processing
	var wg sync.WaitGroup
	resultsChan := make(chan indexResult, 100)

	workers := options.MaxWorkers
	if workers < 1 {
		workers = 8
	}
	semaphore := make(chan struct{}, workers)

	// Count files before processing
	totalFiles := countImagesToIndex(imagesDir, options)

	// Display initial information
	printStartupInfo(totalFiles, options)

	// Set up progress tracking
	tracker := setupTracker(totalFiles, resultsChan)

	// Process files
	startTime := time.Now()
	walkErr := filepath.Walk(imagesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			if err != nil && options.DebugMode {
				logging.LogError("Error accessing path %s: %v", path, err)
			}
			return nil
		}

		if !imaging.IsSupportedImage(path) {
			return nil
		}

		wg.Add(1)
		// Acquire semaphore
		semaphore <- struct{}{}

		go func(p string, fi os.FileInfo) {
			defer wg.Done()
			defer func() { <-semaphore }() // Release semaphore when done

			resultsChan <- indexOne(db, p, fi, masksDir, options)
		}(path, info)

		return nil
	})

	// Wait for all processing to complete
	wg.Wait()
	close(resultsChan)

	stats := tracker.stop()
	stats.ElapsedSecs = time.Since(startTime).Seconds()

	printCompletionStats(stats, options)

	return stats, walkErr
}

// countImagesToIndex counts the files the walk will hand to the workers
func countImagesToIndex(imagesDir string, options ScanOptions) int {
	if options.DebugMode {
		logging.DebugLog("Starting dataset indexing on folder: %s", imagesDir)
		logging.DebugLog("Force rewrite: %v, Source prefix: %s", options.ForceRewrite, options.SourcePrefix)
	}

	total := 0
	filepath.Walk(imagesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if imaging.IsSupportedImage(path) {
			total++
		}
		return nil
	})
	return total
}

// printStartupInfo displays information about the scan before starting
func printStartupInfo(totalFiles int, options ScanOptions) {
	fmt.Printf("Starting dataset indexing...\nTotal content images to process: %d\n", totalFiles)
	fmt.Printf("Force rewrite mode: %v\n", options.ForceRewrite)

	if options.SourcePrefix != "" {
		fmt.Printf("Source prefix: %s\n", options.SourcePrefix)
	}

	if options.DebugMode {
		fmt.Printf("Debug mode: enabled\n")
		logging.DebugLog("Found %d content images to process", totalFiles)
	}
}

// progressTracker tracks progress of the indexing operation
type progressTracker struct {
	processed    int
	indexed      int
	skipped      int
	missingMasks int
	errors       int
	ticker       *time.Ticker
	done         chan bool
	drained      chan bool
	mu           sync.Mutex
	totalFiles   int
}

// setupTracker initializes the progress tracker and its goroutines
func setupTracker(totalFiles int, resultsChan chan indexResult) *progressTracker {
	tracker := &progressTracker{
		ticker:     time.NewTicker(500 * time.Millisecond),
		done:       make(chan bool),
		drained:    make(chan bool),
		totalFiles: totalFiles,
	}

	// Start progress display goroutine
	go tracker.displayProgress()

	// Start result processor goroutine
	go tracker.processResults(resultsChan)

	return tracker
}

// displayProgress shows the progress periodically
func (p *progressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			if p.errors > 0 {
				fmt.Printf("\rProgress: %d/%d (Skipped: %d, Missing masks: %d, Errors: %d)",
					p.processed, p.totalFiles, p.skipped, p.missingMasks, p.errors)
			} else {
				fmt.Printf("\rProgress: %d/%d (Skipped: %d, Missing masks: %d)",
					p.processed, p.totalFiles, p.skipped, p.missingMasks)
			}
			p.mu.Unlock()
		}
	}
}

// processResults updates the tracker state based on indexing results
func (p *progressTracker) processResults(resultsChan chan indexResult) {
	for result := range resultsChan {
		p.mu.Lock()
		p.processed++

		switch {
		case result.Error != nil:
			p.errors++
			logging.LogImageProcessed(result.Path, false, result.Error.Error())
		case result.Skipped:
			p.skipped++
		default:
			p.indexed++
			logging.LogImageProcessed(result.Path, true, "")
		}

		if result.MissingMask {
			p.missingMasks++
			logging.LogWarning("No mask found for %s", result.Path)
		}

		p.mu.Unlock()
	}
	close(p.drained)
}

// stop ends the progress tracking and returns the tallies. It must be called
// after the results channel is closed so every result has been counted.
func (p *progressTracker) stop() *types.ScanStats {
	<-p.drained
	p.ticker.Stop()
	p.done <- true

	p.mu.Lock()
	defer p.mu.Unlock()
	return &types.ScanStats{
		TotalFound:   p.totalFiles,
		Indexed:      p.indexed,
		Skipped:      p.skipped,
		MissingMasks: p.missingMasks,
		Errors:       p.errors,
	}
}

// printCompletionStats displays statistics after indexing completion
func printCompletionStats(stats *types.ScanStats, options ScanOptions) {
	if options.DebugMode {
		logging.DebugLog("Indexing completed in %.1fs. Indexed: %d, Skipped: %d, Missing masks: %d, Errors: %d",
			stats.ElapsedSecs, stats.Indexed, stats.Skipped, stats.MissingMasks, stats.Errors)
	}

	fmt.Println("\nIndexing complete.")
	fmt.Printf("Indexed %d images (%d skipped) in %.1fs.\n", stats.Indexed, stats.Skipped, stats.ElapsedSecs)

	if stats.MissingMasks > 0 {
		fmt.Printf("%d images have no segmentation mask and can only take a background style.\n", stats.MissingMasks)
	}

	if stats.Errors > 0 {
		fmt.Printf("Encountered %d errors during indexing.\n", stats.Errors)
		fmt.Println("Check the log file for details.")
	}
}

// indexOne processes a single content image and stores it in the database
func indexOne(db *sql.DB, path string, fileInfo os.FileInfo, masksDir string, options ScanOptions) indexResult {
	result := indexResult{Path: path}

	// Skip processing if the image already exists and hasn't been modified
	if !options.ForceRewrite {
		skip, err := checkAndSkipIfUnchanged(db, path, fileInfo, options)
		if err != nil {
			result.Error = err
			return result
		}
		if skip {
			result.Success = true
			result.Skipped = true
			return result
		}
	}

	// Pair the image with its segmentation mask
	maskPath := FindMask(masksDir, path)
	if maskPath == "" {
		result.MissingMask = true
	}

	// Decode the image for dimensions and hashes
	img, format, err := imaging.Load(path)
	if err != nil {
		result.Error = fmt.Errorf("failed to load image %s: %v", path, err)
		return result
	}

	coverage := 0.0
	if maskPath != "" {
		maskImg, _, err := imaging.Load(maskPath)
		if err != nil {
			result.Error = fmt.Errorf("failed to load mask %s: %v", maskPath, err)
			return result
		}
		coverage = FromImage(maskImg).Coverage()
	}

	entry := types.ContentEntry{
		Path:         path,
		MaskPath:     maskPath,
		SourcePrefix: options.SourcePrefix,
		Format:       format,
		Width:        img.Bounds().Dx(),
		Height:       img.Bounds().Dy(),
		Coverage:     coverage,
		AverageHash:  imaging.AverageHash(img),
		DiffHash:     imaging.DiffHash(img),
		ModifiedAt:   fileInfo.ModTime().Format(time.RFC3339),
		Size:         fileInfo.Size(),
	}

	if err := database.StoreContent(db, entry, options.ForceRewrite); err != nil {
		result.Error = fmt.Errorf("cannot store data for %s: %v", path, err)
		return result
	}

	if options.DebugMode {
		logging.DebugLog("Indexed %s (mask: %v, coverage: %.3f)", path, maskPath != "", coverage)
	}

	result.Success = true
	return result
}

// checkAndSkipIfUnchanged reports whether an image can be skipped because
// its catalog row is still current
func checkAndSkipIfUnchanged(db *sql.DB, path string, fileInfo os.FileInfo, options ScanOptions) (bool, error) {
	exists, storedModTime, err := database.CheckContentExists(db, path, options.SourcePrefix)
	if err != nil {
		return false, fmt.Errorf("database error for %s: %v", path, err)
	}
	if !exists {
		return false, nil
	}

	// Parse stored time and compare with file modified time
	storedTime, err := time.Parse(time.RFC3339, storedModTime)
	if err != nil {
		return false, fmt.Errorf("cannot parse stored time for %s: %v", path, err)
	}

	if !fileInfo.ModTime().After(storedTime) {
		if options.DebugMode {
			logging.DebugLog("Skipping unchanged image: %s", path)
		}
		return true, nil
	}

	return false, nil
}

// FindMask returns the mask file paired with an image, or "" when none
// exists. Masks share the image's base name under the masks folder.
func FindMask(masksDir, imagePath string) string {
	base := filepath.Base(imagePath)
	stem := base[:len(base)-len(filepath.Ext(base))]

	for _, ext := range []string{".png", ".tif", ".tiff"} {
		candidate := filepath.Join(masksDir, stem+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
