package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"stylesweep/config"
	"stylesweep/database"
	"stylesweep/dataset"
	"stylesweep/engine"
	"stylesweep/extractor"
	"stylesweep/imaging"
	"stylesweep/logging"
	"stylesweep/metrics"
	"stylesweep/notify"
	"stylesweep/params"
	"stylesweep/report"
	"stylesweep/signalhandler"
	"stylesweep/styles"
	"stylesweep/sweep"
	"stylesweep/utils"
)

func main() {
	// Set up proper signal handling
	signalhandler.SetupHandler()

	// Set the optimal number of CPUs to use
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	// Parse command line arguments into a map
	args := utils.ParseArguments()

	// Get the command (index, sweep or score)
	command, hasCommand := args["command"]

	// Environment defaults, overridden by flags below
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// Set default database path
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = utils.GetDefaultDatabasePath()
	}
	if customDB, ok := args["database"]; ok && customDB != "" {
		dbPath = customDB
	} else if customDB, ok := args["db"]; ok && customDB != "" {
		// Allow --db as an alias for --database
		dbPath = customDB
	}

	// Setup debug logging if enabled
	debugMode := false
	if _, ok := args["debug"]; ok {
		debugMode = true
		logPath := "stylesweep.log"
		if customLogPath, ok := args["logfile"]; ok && customLogPath != "" {
			logPath = customLogPath
		}
		if err := logging.SetupLogger(logPath); err != nil {
			fmt.Printf("Warning: Failed to setup logging: %v\n", err)
		} else {
			fmt.Printf("Debug mode enabled. Logging to: %s\n", logPath)
		}
		defer logging.CloseLogger()
	}

	if !hasCommand {
		utils.PrintUsage()
		os.Exit(1)
	}

	switch command {
	case "index":
		handleIndexCommand(args, cfg, dbPath, debugMode)
	case "sweep":
		handleSweepCommand(args, cfg, dbPath, debugMode)
	case "score":
		handleScoreCommand(args, cfg, dbPath)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		utils.PrintUsage()
		os.Exit(1)
	}
}

// mustInitDatabase opens the catalog, retrying transient failures
func mustInitDatabase(dbPath string) *sql.DB {
	var db *sql.DB
	var err error

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		db, err = database.InitDatabase(dbPath)
		if err == nil {
			return db
		}
		if i < maxRetries-1 {
			log.Printf("Error initializing database (attempt %d/%d): %v - retrying...",
				i+1, maxRetries, err)
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	log.Fatalf("Error initializing database after %d attempts: %v", maxRetries, err)
	return nil
}

// openExtractor loads the optional feature extractor. A missing or broken
// model only disables the feature losses.
func openExtractor(modelsDir string) *extractor.Extractor {
	modelPath, metadataPath, ok := extractor.Locate(modelsDir)
	if !ok {
		fmt.Println("No feature extractor in the models folder; content/style losses disabled")
		return nil
	}

	ex, err := extractor.Open(modelPath, metadataPath)
	if err != nil {
		fmt.Printf("Warning: feature extractor unavailable: %v\n", err)
		return nil
	}

	fmt.Printf("Feature extractor loaded (%d layers)\n", ex.NumLayers())
	return ex
}

func handleIndexCommand(args map[string]string, cfg *config.Config, dbPath string, debugMode bool) {
	dataDir := cfg.DataDir
	if v, ok := args["data"]; ok && v != "" {
		dataDir = v
	}

	// Verify the dataset root exists and is accessible
	info, err := os.Stat(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Fatalf("Dataset folder does not exist: %s", dataDir)
		}
		log.Fatalf("Cannot access dataset folder: %s (%v)", dataDir, err)
	}
	if !info.IsDir() {
		log.Fatalf("Path is not a directory: %s", dataDir)
	}

	sourcePrefix := args["prefix"]
	_, forceRewrite := args["force"]

	startTime := time.Now()

	db := mustInitDatabase(dbPath)
	defer db.Close()

	options := dataset.ScanOptions{
		DataDir:      dataDir,
		SourcePrefix: sourcePrefix,
		ForceRewrite: forceRewrite,
		DebugMode:    debugMode,
		MaxWorkers:   signalhandler.GetOptimalProcs(),
	}

	if _, err := dataset.Scan(db, options); err != nil {
		log.Fatalf("Error indexing dataset: %v", err)
	}

	fmt.Printf("\nTotal execution time: %v\n", time.Since(startTime))
	fmt.Printf("Database: %s\n", dbPath)

	if stats, err := database.GetIndexStats(db, sourcePrefix); err == nil {
		fmt.Printf("\nCatalog:\n")
		fmt.Printf("- Contents: %d (%d with masks)\n", stats.TotalContents, stats.WithMasks)
		fmt.Printf("- Unique hashes: %d\n", stats.UniqueHashes)
		fmt.Printf("- Mean mask coverage: %.3f\n", stats.MeanCoverage)
	}
}

func handleSweepCommand(args map[string]string, cfg *config.Config, dbPath string, debugMode bool) {
	bgArg, hasBG := args["bg"]
	if !hasBG || bgArg == "" {
		fmt.Println("Error: Missing background styles (use --bg=NAME[,NAME...])")
		utils.PrintUsage()
		os.Exit(1)
	}

	stylesDir := cfg.StylesDir
	if v, ok := args["styles"]; ok && v != "" {
		stylesDir = v
	}
	modelsDir := cfg.ModelsDir
	if v, ok := args["models"]; ok && v != "" {
		modelsDir = v
	}
	saveDir := cfg.SaveDir
	if v, ok := args["save"]; ok && v != "" {
		saveDir = v
	}

	opts := sweep.Options{
		SourcePrefix:  args["prefix"],
		BGStyles:      utils.ParseNameList(bgArg),
		FGStyles:      utils.ParseNameList(args["fg"]),
		StyleScale:    1,
		Size:          224,
		Iterations:    params.DefaultIterations,
		ContentWeight: params.DefaultContentWeight,
		TVWeight:      params.DefaultTVWeight,
		MaskStyles:    true,
		SaveDir:       saveDir,
		ForceBackend:  args["engine"],
		DebugMode:     debugMode,
	}

	var err error
	if v, ok := args["contents"]; ok {
		if opts.ContentIDs, err = utils.ParseIndexList(v); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	if v, ok := args["scale"]; ok {
		if opts.StyleScale, err = utils.ParseScale(v); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	if v, ok := args["size"]; ok {
		if opts.Size, err = strconv.Atoi(v); err != nil {
			log.Fatalf("Invalid size: %s", v)
		}
	}
	if v, ok := args["iterations"]; ok {
		if opts.Iterations, err = strconv.Atoi(v); err != nil {
			log.Fatalf("Invalid iterations: %s", v)
		}
	}
	if v, ok := args["content-weight"]; ok {
		if opts.ContentWeight, err = strconv.ParseFloat(v, 64); err != nil {
			log.Fatalf("Invalid content weight: %s", v)
		}
	}
	if v, ok := args["tv-weight"]; ok {
		if opts.TVWeight, err = strconv.ParseFloat(v, 64); err != nil {
			log.Fatalf("Invalid tv weight: %s", v)
		}
	}
	if v, ok := args["min-coverage"]; ok {
		if opts.MinCoverage, err = utils.ParseFraction(v); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	if _, ok := args["no-mask"]; ok {
		opts.MaskStyles = false
	}
	if _, ok := args["preserve-color"]; ok {
		opts.PreserveColor = true
	}
	if _, ok := args["resume"]; ok {
		opts.Resume = true
	}

	db := mustInitDatabase(dbPath)
	defer db.Close()

	lib, err := styles.OpenLibrary(stylesDir, modelsDir)
	if err != nil {
		log.Fatalf("Error opening style library: %v", err)
	}
	lib.AnnotateFromMetadata()

	if pairs, err := lib.FindDuplicates(5); err == nil {
		for _, p := range pairs {
			fmt.Printf("Warning: styles '%s' and '%s' look near identical (distance %d)\n",
				p.A, p.B, p.Distance)
		}
	}

	neural := engine.NewNeural()
	defer neural.Close()
	reg := engine.NewRegistry(neural, engine.NewColorStat())

	ex := openExtractor(modelsDir)
	if ex != nil {
		defer ex.Close()
	}
	defer extractor.ShutdownRuntime()

	runner, err := sweep.New(db, lib, reg, metrics.NewScorer(ex), opts)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	stats, err := runner.Run()
	if err != nil {
		log.Fatalf("Error running sweep: %v", err)
	}

	reportPath := ""
	if _, ok := args["report"]; ok {
		reportPath = filepath.Join(saveDir, fmt.Sprintf("report_%s.pdf", runner.SweepID()))
		if err := report.Generate(db, runner.SweepID(), saveDir, reportPath); err != nil {
			fmt.Printf("Warning: could not write report: %v\n", err)
			reportPath = ""
		} else {
			fmt.Printf("Report: %s\n", reportPath)
		}
	}

	if _, ok := args["notify"]; ok {
		notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChat)
		switch {
		case err != nil:
			fmt.Printf("Warning: notifications unavailable: %v\n", err)
		case notifier == nil:
			fmt.Println("Warning: TELEGRAM_TOKEN and TELEGRAM_CHAT are not set, skipping notification")
		default:
			if err := notifier.SweepFinished(stats); err != nil {
				fmt.Printf("Warning: %v\n", err)
			}
			if reportPath != "" {
				if err := notifier.SendReport(reportPath); err != nil {
					fmt.Printf("Warning: %v\n", err)
				}
			}
		}
	}

	if stats.Interrupted {
		os.Exit(1)
	}
}

func handleScoreCommand(args map[string]string, cfg *config.Config, dbPath string) {
	outputPath, hasOutput := args["output"]
	contentArg, hasContent := args["content"]
	styleName, hasStyle := args["style"]
	if !hasOutput || !hasContent || !hasStyle {
		fmt.Println("Error: score needs --output=PATH --content=IDX --style=NAME")
		utils.PrintUsage()
		os.Exit(1)
	}

	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		log.Fatalf("Output does not exist: %s", outputPath)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database does not exist: %s. Run the index command first.", dbPath)
	}

	contentIdx, err := strconv.Atoi(contentArg)
	if err != nil || contentIdx < 0 {
		log.Fatalf("Invalid content index: %s", contentArg)
	}

	size := 224
	if v, ok := args["size"]; ok {
		if size, err = strconv.Atoi(v); err != nil || size < 32 {
			log.Fatalf("Invalid size: %s", v)
		}
	}

	scale := 1.0
	if v, ok := args["scale"]; ok {
		if scale, err = utils.ParseScale(v); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}

	stylesDir := cfg.StylesDir
	if v, ok := args["styles"]; ok && v != "" {
		stylesDir = v
	}
	modelsDir := cfg.ModelsDir
	if v, ok := args["models"]; ok && v != "" {
		modelsDir = v
	}

	db, err := database.OpenDatabase(dbPath)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer db.Close()

	entries, err := database.ListContents(db, args["prefix"])
	if err != nil {
		log.Fatalf("Error listing contents: %v", err)
	}
	if contentIdx >= len(entries) {
		log.Fatalf("Content index %d out of range (catalog has %d entries)", contentIdx, len(entries))
	}

	content, err := dataset.Load(entries[contentIdx], size)
	if err != nil {
		log.Fatalf("Error loading content: %v", err)
	}

	lib, err := styles.OpenLibrary(stylesDir, modelsDir)
	if err != nil {
		log.Fatalf("Error opening style library: %v", err)
	}
	styleImg, err := lib.LoadImage(styleName, size)
	if err != nil {
		log.Fatalf("Error loading style: %v", err)
	}

	outImg, _, err := imaging.Load(outputPath)
	if err != nil {
		log.Fatalf("Error loading output: %v", err)
	}
	out := imaging.ResizeSquare(outImg, size)

	ex := openExtractor(modelsDir)
	if ex != nil {
		defer ex.Close()
	}
	defer extractor.ShutdownRuntime()

	p := params.Defaults()
	p.StyleWeights = params.ScaleStyleWeights(params.BaseStyleWeights[:], scale)

	result, err := metrics.NewScorer(ex).Score(out, content.Image, styleImg, p)
	if err != nil {
		log.Fatalf("Error scoring output: %v", err)
	}

	fmt.Printf("Scores for %s (content %d, style %s):\n", outputPath, contentIdx, styleName)
	fmt.Printf("- Content loss: %.6g\n", result.ContentLoss)
	fmt.Printf("- Style loss:   %.6g\n", result.StyleLoss)
	fmt.Printf("- TV loss:      %.6g\n", result.TVLoss)
	fmt.Printf("- Total loss:   %.6g\n", result.TotalLoss)
	fmt.Printf("- Structure:    %.4f\n", result.Structure)
	if ex == nil {
		fmt.Println("(content and style losses need the feature extractor model)")
	}

	if prior, err := database.RunsForOutput(db, outputPath); err == nil && len(prior) > 0 {
		last := prior[0]
		fmt.Printf("\nLedger has %d run(s) for this output; latest from sweep %s (%s): total loss %.6g, structure %.4f\n",
			len(prior), last.SweepID, last.Backend, last.TotalLoss, last.Structure)
	}
}
