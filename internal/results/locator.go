// Package results finds the analyzer's CSV output and turns it into
// detection records.
package results

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hearbird/hearbird/internal/errors"
)

const (
	// OutputExtension is the extension of analyzer result tables
	OutputExtension = ".csv"
	// paramsMarker identifies the run-parameter table the analyzer writes
	// next to its results
	paramsMarker = "analysis_params"
	// preferredPrefix is the name prefix of the primary result file
	preferredPrefix = "test"
)

const (
	msgNoCSV       = "BirdNET analysis produced no CSV output"
	msgNoUsableCSV = "BirdNET analysis produced no usable CSV output"
)

type candidate struct {
	path    string
	name    string
	modTime time.Time
}

// Locate picks the detection table the analyzer wrote into outputDir.
//
// Parameter tables are skipped. Files named with the "test" prefix are
// preferred when present; among the chosen set the most recently modified
// file wins, with equal timestamps broken by name. Selection relies on the
// analyzer's write order and is a heuristic, not a guarantee.
func Locate(outputDir string) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", errors.New(err).
			Component("results").
			Category(errors.CategoryFileIO).
			Context("operation", "list_output_dir").
			Build()
	}

	var all, usable []candidate
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(name), OutputExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		c := candidate{path: filepath.Join(outputDir, name), name: name, modTime: info.ModTime()}
		all = append(all, c)
		if !strings.Contains(name, paramsMarker) {
			usable = append(usable, c)
		}
	}

	if len(all) == 0 {
		return "", errors.NewAnalysis(errors.KindNoOutput, msgNoCSV, nil)
	}
	if len(usable) == 0 {
		return "", errors.NewAnalysis(errors.KindNoOutput, msgNoUsableCSV, nil)
	}

	selected := preferred(usable)
	slices.SortFunc(selected, func(a, b candidate) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	return selected[0].path, nil
}

func preferred(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		if strings.HasPrefix(c.name, preferredPrefix) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return cands
	}
	return out
}
