package types

// ContentEntry holds one cataloged content image together with its
// segmentation mask
type ContentEntry struct {
	ID           int64   `json:"id"`
	Path         string  `json:"path"`
	MaskPath     string  `json:"mask_path"`
	SourcePrefix string  `json:"source_prefix"`
	Format       string  `json:"format"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Coverage     float64 `json:"coverage"`
	AverageHash  string  `json:"average_hash"`
	DiffHash     string  `json:"diff_hash"`
	CreatedAt    string  `json:"created_at"`
	ModifiedAt   string  `json:"modified_at"`
	Size         int64   `json:"size"`
}

// RunRecord is one ledger row for a single stylization inside a sweep
type RunRecord struct {
	RunID       string
	SweepID     string
	ContentIdx  int
	ContentPath string
	BGStyle     string
	FGStyle     string
	Backend     string
	OutputPath  string
	ParamsJSON  string
	ContentLoss float64
	StyleLoss   float64
	TVLoss      float64
	TotalLoss   float64
	Structure   float64
	DurationMS  int64
	CreatedAt   string
}

// ScanStats summarizes a dataset indexing pass
type ScanStats struct {
	TotalFound   int
	Indexed      int
	Skipped      int
	MissingMasks int
	Errors       int
	ElapsedSecs  float64
}

// SweepStats summarizes a finished (or interrupted) sweep
type SweepStats struct {
	SweepID     string
	Planned     int
	Completed   int
	Skipped     int
	Errors      int
	Interrupted bool
	ElapsedSecs float64
}
