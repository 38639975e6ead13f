package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ParseArguments converts command-line arguments into a map of flags and values
func ParseArguments() map[string]string {
	args := make(map[string]string)

	// First, identify the command (index/sweep/score)
	command := ""
	commandIndex := -1
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "index" || os.Args[i] == "sweep" || os.Args[i] == "score" {
			command = os.Args[i]
			commandIndex = i
			break
		}
	}

	if command != "" {
		args["command"] = command
	}

	// Process all arguments, skipping the command
	for i := 1; i < len(os.Args); i++ {
		if i == commandIndex {
			continue
		}

		arg := os.Args[i]

		// Handle flags with equals sign (--key=value)
		if strings.HasPrefix(arg, "--") && strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			flagName := strings.TrimPrefix(parts[0], "--")
			args[flagName] = parts[1]
			continue
		}

		// Handle flags without equals sign (--key value)
		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			// Check if this is a boolean flag (no value)
			if i+1 >= len(os.Args) || strings.HasPrefix(os.Args[i+1], "--") {
				args[flagName] = "true"
			} else {
				// The next argument is the value
				args[flagName] = os.Args[i+1]
				i++ // Skip the value in the next iteration
			}
		}
	}

	return args
}

// GetDefaultDatabasePath returns the default path for the database file
func GetDefaultDatabasePath() string {
	// Get the executable path
	exePath, err := os.Executable()
	if err != nil {
		// Fallback to current directory if executable path can't be determined
		return "stylesweep.db"
	}

	// Get the directory containing the executable
	exeDir := filepath.Dir(exePath)

	// Return the default database path in the same directory
	return filepath.Join(exeDir, "stylesweep.db")
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage() {
	fmt.Printf("Usage:\n")
	fmt.Printf("  %s index --data=PATH [--database=PATH] [--prefix=NAME] [--force] [--debug] [--logfile=PATH]\n", os.Args[0])
	fmt.Printf("  %s sweep --bg=STYLES [--fg=STYLES] [--contents=LIST] [--scale=VALUE] [--size=N] [--iterations=N] [--content-weight=VALUE] [--tv-weight=VALUE] [--save=PATH] [--engine=NAME] [--no-mask] [--preserve-color] [--min-coverage=VALUE] [--resume] [--report] [--notify] [--debug]\n", os.Args[0])
	fmt.Printf("  %s score --output=PATH --content=IDX --style=NAME [--scale=VALUE] [--debug]\n", os.Args[0])
	fmt.Printf("\nParameters:\n")
	fmt.Printf("  --data         : Path to dataset root holding images/ and masks/ subfolders\n")
	fmt.Printf("  --styles       : Path to folder containing style images\n")
	fmt.Printf("  --models       : Path to folder containing stylization models\n")
	fmt.Printf("  --database     : Path to database file (default: %s)\n", GetDefaultDatabasePath())
	fmt.Printf("  --prefix       : Source prefix for indexing/filtering contents\n")
	fmt.Printf("  --force        : Force rewrite existing entries during indexing\n")
	fmt.Printf("  --contents     : Content indices, comma separated with ranges (e.g. 0,2,5-8; default: all)\n")
	fmt.Printf("  --bg           : Background style names, comma separated\n")
	fmt.Printf("  --fg           : Foreground style names, comma separated (requires masks)\n")
	fmt.Printf("  --scale        : Style weight scale factor (default: 1.0)\n")
	fmt.Printf("  --size         : Working image size in pixels (default: 224)\n")
	fmt.Printf("  --iterations   : Advisory iteration count recorded with each run (default: 200)\n")
	fmt.Printf("  --content-weight : Content loss weight (default: 0.06)\n")
	fmt.Printf("  --tv-weight    : Total variation weight (default: 0.02)\n")
	fmt.Printf("  --save         : Output folder for stylized images (default: save/)\n")
	fmt.Printf("  --engine       : Force a stylization backend (neural, colorstat)\n")
	fmt.Printf("  --no-mask      : Apply the background style to the whole frame\n")
	fmt.Printf("  --preserve-color : Keep the content image colors in the result\n")
	fmt.Printf("  --min-coverage : Skip contents whose mask coverage is below this fraction\n")
	fmt.Printf("  --resume       : Skip combinations whose output file already exists\n")
	fmt.Printf("  --report       : Write a PDF contact sheet next to the outputs\n")
	fmt.Printf("  --notify       : Send a Telegram message when the sweep finishes\n")
	fmt.Printf("  --debug        : Enable debug mode (logs detailed information)\n")
	fmt.Printf("  --logfile      : Specify custom log file path (default: stylesweep.log)\n")
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  %s index --data=/data/cocostuff --prefix=coco --debug\n", os.Args[0])
	fmt.Printf("  %s sweep --bg=starry_night,the_scream --fg=wave --contents=0-3 --scale=0.5 --report\n", os.Args[0])
	fmt.Printf("  %s score --output=save/2_wave.png --content=2 --style=wave\n", os.Args[0])
}

// ParseFraction parses a value expected to lie in [0, 1]
func ParseFraction(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("invalid fraction '%s', expected a value in [0, 1]", s)
	}
	return v, nil
}

// ParseScale parses a positive scale factor
func ParseScale(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid scale '%s', expected a positive number", s)
	}
	return v, nil
}

// ParseIndexList parses comma separated indices with optional ranges, e.g.
// "0,2,5-8". The result is sorted and deduplicated.
func ParseIndexList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid index range '%s'", part)
			}
			hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid index range '%s'", part)
			}
			if lo < 0 || hi < lo {
				return nil, fmt.Errorf("invalid index range '%s'", part)
			}
			for i := lo; i <= hi; i++ {
				seen[i] = true
			}
			continue
		}

		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid index '%s'", part)
		}
		seen[idx] = true
	}

	result := make([]int, 0, len(seen))
	for idx := range seen {
		result = append(result, idx)
	}
	sort.Ints(result)
	return result, nil
}

// ParseNameList splits a comma separated list of names, dropping empties
func ParseNameList(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}
