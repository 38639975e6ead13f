package database

import (
	"database/sql"
	"fmt"
	"time"

	"stylesweep/logging"
	"stylesweep/types"

	_ "github.com/mattn/go-sqlite3"
)

// InitDatabase initializes and returns a database connection
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS contents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		mask_path TEXT,
		source_prefix TEXT,
		format TEXT,
		width INTEGER,
		height INTEGER,
		coverage REAL,
		average_hash TEXT,
		diff_hash TEXT,
		created_at TEXT,
		modified_at TEXT,
		size INTEGER,
		UNIQUE(path, source_prefix)
	);
	CREATE INDEX IF NOT EXISTS idx_contents_path ON contents(path);
	CREATE INDEX IF NOT EXISTS idx_contents_average_hash ON contents(average_hash);
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		sweep_id TEXT NOT NULL,
		content_idx INTEGER,
		content_path TEXT,
		bg_style TEXT,
		fg_style TEXT,
		backend TEXT,
		output_path TEXT,
		params_json TEXT,
		content_loss REAL,
		style_loss REAL,
		tv_loss REAL,
		total_loss REAL,
		structure REAL,
		duration_ms INTEGER,
		created_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_sweep ON runs(sweep_id);
	CREATE INDEX IF NOT EXISTS idx_runs_output ON runs(output_path);`

	_, err = db.Exec(createTableSQL)
	if err != nil {
		return nil, err
	}

	// Check if coverage column exists, add it if it doesn't
	var hasCoverageColumn bool
	err = db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('contents') WHERE name='coverage'").Scan(&hasCoverageColumn)
	if err != nil {
		return nil, fmt.Errorf("error checking for coverage column: %v", err)
	}

	if !hasCoverageColumn {
		// Add coverage column to existing table
		_, err = db.Exec("ALTER TABLE contents ADD COLUMN coverage REAL;")
		if err != nil {
			return nil, fmt.Errorf("error adding coverage column: %v", err)
		}
		logging.DebugLog("Added 'coverage' column to existing database schema")
	}

	// Check if structure column exists on runs, add it if it doesn't
	var hasStructureColumn bool
	err = db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name='structure'").Scan(&hasStructureColumn)
	if err != nil {
		return nil, fmt.Errorf("error checking for structure column: %v", err)
	}

	if !hasStructureColumn {
		_, err = db.Exec("ALTER TABLE runs ADD COLUMN structure REAL;")
		if err != nil {
			return nil, fmt.Errorf("error adding structure column: %v", err)
		}
		logging.DebugLog("Added 'structure' column to existing database schema")
	}

	return db, nil
}

// OpenDatabase opens an existing database connection
func OpenDatabase(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath)
}

// CheckContentExists checks if a content image already exists in the database
func CheckContentExists(db *sql.DB, path string, sourcePrefix string) (bool, string, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM contents WHERE path = ? AND source_prefix = ?", path, sourcePrefix).Scan(&count)
	if err != nil {
		return false, "", fmt.Errorf("database error for %s: %v", path, err)
	}

	if count == 0 {
		return false, "", nil
	}

	// Get the stored modification time
	var storedModTime string
	err = db.QueryRow("SELECT modified_at FROM contents WHERE path = ? AND source_prefix = ?", path, sourcePrefix).Scan(&storedModTime)
	if err != nil {
		return true, "", fmt.Errorf("cannot get modified time for %s: %v", path, err)
	}

	return true, storedModTime, nil
}

// StoreContent stores a content entry in the database
func StoreContent(db *sql.DB, entry types.ContentEntry, forceRewrite bool) error {
	now := time.Now().Format(time.RFC3339)

	// Prepare statement to avoid SQL injection
	var stmt *sql.Stmt
	var insertErr error

	if forceRewrite {
		// Always use INSERT OR REPLACE when force rewrite is enabled
		stmt, insertErr = db.Prepare(`
			INSERT OR REPLACE INTO contents (
				path, mask_path, source_prefix, format, width, height, coverage, average_hash, diff_hash, created_at, modified_at, size
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
	} else {
		stmt, insertErr = db.Prepare(`
			INSERT OR IGNORE INTO contents (
				path, mask_path, source_prefix, format, width, height, coverage, average_hash, diff_hash, created_at, modified_at, size
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
	}

	if insertErr != nil {
		return fmt.Errorf("cannot prepare statement for %s: %v", entry.Path, insertErr)
	}
	defer stmt.Close()

	_, err := stmt.Exec(
		entry.Path,
		entry.MaskPath,
		entry.SourcePrefix,
		entry.Format,
		entry.Width,
		entry.Height,
		entry.Coverage,
		entry.AverageHash,
		entry.DiffHash,
		now,
		entry.ModifiedAt,
		entry.Size,
	)

	if err != nil {
		return fmt.Errorf("cannot insert data for %s: %v", entry.Path, err)
	}

	return nil
}

// ListContents returns cataloged contents ordered by path. The position in
// this ordering is the content index used in output file names, so the
// ordering must stay stable between calls.
func ListContents(db *sql.DB, sourcePrefix string) ([]types.ContentEntry, error) {
	var query string
	var args []interface{}

	if sourcePrefix != "" {
		query = `SELECT id, path, mask_path, source_prefix, format, width, height, coverage, average_hash, diff_hash, created_at, modified_at, size
			FROM contents WHERE source_prefix = ? ORDER BY path`
		args = []interface{}{sourcePrefix}
	} else {
		query = `SELECT id, path, mask_path, source_prefix, format, width, height, coverage, average_hash, diff_hash, created_at, modified_at, size
			FROM contents ORDER BY path`
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %v", err)
	}
	defer rows.Close()

	var entries []types.ContentEntry
	for rows.Next() {
		var e types.ContentEntry
		err := rows.Scan(&e.ID, &e.Path, &e.MaskPath, &e.SourcePrefix, &e.Format, &e.Width, &e.Height,
			&e.Coverage, &e.AverageHash, &e.DiffHash, &e.CreatedAt, &e.ModifiedAt, &e.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content row: %v", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// InsertRun stores one stylization run in the ledger
func InsertRun(db *sql.DB, r types.RunRecord) error {
	stmt, err := db.Prepare(`
		INSERT INTO runs (
			run_id, sweep_id, content_idx, content_path, bg_style, fg_style, backend, output_path,
			params_json, content_loss, style_loss, tv_loss, total_loss, structure, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("cannot prepare run insert for %s: %v", r.OutputPath, err)
	}
	defer stmt.Close()

	createdAt := r.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().Format(time.RFC3339)
	}

	_, err = stmt.Exec(
		r.RunID, r.SweepID, r.ContentIdx, r.ContentPath, r.BGStyle, r.FGStyle, r.Backend, r.OutputPath,
		r.ParamsJSON, r.ContentLoss, r.StyleLoss, r.TVLoss, r.TotalLoss, r.Structure, r.DurationMS, createdAt,
	)
	if err != nil {
		return fmt.Errorf("cannot insert run for %s: %v", r.OutputPath, err)
	}

	return nil
}

// RunsForSweep returns the ledger rows of one sweep in insertion order
func RunsForSweep(db *sql.DB, sweepID string) ([]types.RunRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, sweep_id, content_idx, content_path, bg_style, fg_style, backend, output_path,
			params_json, content_loss, style_loss, tv_loss, total_loss, structure, duration_ms, created_at
		FROM runs WHERE sweep_id = ? ORDER BY created_at, run_id
	`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for sweep %s: %v", sweepID, err)
	}
	defer rows.Close()

	var records []types.RunRecord
	for rows.Next() {
		var r types.RunRecord
		err := rows.Scan(&r.RunID, &r.SweepID, &r.ContentIdx, &r.ContentPath, &r.BGStyle, &r.FGStyle,
			&r.Backend, &r.OutputPath, &r.ParamsJSON, &r.ContentLoss, &r.StyleLoss, &r.TVLoss,
			&r.TotalLoss, &r.Structure, &r.DurationMS, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %v", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// RunsForOutput returns the ledger rows recorded for one output path,
// newest first
func RunsForOutput(db *sql.DB, outputPath string) ([]types.RunRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, sweep_id, content_idx, content_path, bg_style, fg_style, backend, output_path,
			params_json, content_loss, style_loss, tv_loss, total_loss, structure, duration_ms, created_at
		FROM runs WHERE output_path = ? ORDER BY created_at DESC, run_id
	`, outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for %s: %v", outputPath, err)
	}
	defer rows.Close()

	var records []types.RunRecord
	for rows.Next() {
		var r types.RunRecord
		err := rows.Scan(&r.RunID, &r.SweepID, &r.ContentIdx, &r.ContentPath, &r.BGStyle, &r.FGStyle,
			&r.Backend, &r.OutputPath, &r.ParamsJSON, &r.ContentLoss, &r.StyleLoss, &r.TVLoss,
			&r.TotalLoss, &r.Structure, &r.DurationMS, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %v", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// IndexStats contains statistics about the content catalog
type IndexStats struct {
	TotalContents int
	UniqueHashes  int
	WithMasks     int
	MeanCoverage  float64
}

// GetIndexStats retrieves statistics about cataloged contents
func GetIndexStats(db *sql.DB, sourcePrefix string) (*IndexStats, error) {
	var stats IndexStats

	where := ""
	var args []interface{}
	if sourcePrefix != "" {
		where = " WHERE source_prefix = ?"
		args = append(args, sourcePrefix)
	}

	err := db.QueryRow("SELECT COUNT(*) FROM contents"+where, args...).Scan(&stats.TotalContents)
	if err != nil {
		return nil, fmt.Errorf("failed to get total contents: %v", err)
	}

	err = db.QueryRow("SELECT COUNT(DISTINCT average_hash) FROM contents"+where, args...).Scan(&stats.UniqueHashes)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique hashes: %v", err)
	}

	maskWhere := " WHERE mask_path != ''"
	if sourcePrefix != "" {
		maskWhere += " AND source_prefix = ?"
	}
	err = db.QueryRow("SELECT COUNT(*) FROM contents"+maskWhere, args...).Scan(&stats.WithMasks)
	if err != nil {
		return nil, fmt.Errorf("failed to count masked contents: %v", err)
	}

	err = db.QueryRow("SELECT COALESCE(AVG(coverage), 0) FROM contents"+where, args...).Scan(&stats.MeanCoverage)
	if err != nil {
		return nil, fmt.Errorf("failed to get mean coverage: %v", err)
	}

	return &stats, nil
}

// SweepSummary aggregates the ledger rows of one sweep
type SweepSummary struct {
	Runs          int
	MeanTotalLoss float64
	MeanStructure float64
	TotalMillis   int64
}

// GetSweepSummary aggregates run metrics for a sweep
func GetSweepSummary(db *sql.DB, sweepID string) (*SweepSummary, error) {
	var s SweepSummary
	err := db.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(total_loss), 0), COALESCE(AVG(structure), 0), COALESCE(SUM(duration_ms), 0)
		FROM runs WHERE sweep_id = ?
	`, sweepID).Scan(&s.Runs, &s.MeanTotalLoss, &s.MeanStructure, &s.TotalMillis)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize sweep %s: %v", sweepID, err)
	}
	return &s, nil
}
