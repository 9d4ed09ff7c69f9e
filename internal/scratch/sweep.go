package scratch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/logger"
)

// maxSweepDeletions caps the directories removed in one sweep
const maxSweepDeletions = 1000

// SweepStale removes directories under the root that carry this space's
// prefix and were last modified more than maxAge ago. These are left behind
// when the process is killed mid-request. maxAge must exceed the analyzer
// timeout so live requests are never touched.
func (s *Space) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	root := s.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.New(err).
			Component("scratch").
			Category(errors.CategoryFileIO).
			Context("operation", "sweep_scratch").
			Build()
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), s.prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn("Failed to remove stale scratch directory",
				logger.String("path", path),
				logger.Error(err))
			continue
		}
		removed++
		if removed >= maxSweepDeletions {
			break
		}
	}

	if removed > 0 {
		s.log.Info("Removed stale scratch directories",
			logger.Int("count", removed),
			logger.Duration("max_age", maxAge))
	}
	return removed, nil
}

// RunSweeper sweeps once immediately and then every interval until ctx is
// done. Sweep failures are logged and do not stop the loop.
func (s *Space) RunSweeper(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepStale(ctx, maxAge); err != nil && ctx.Err() == nil {
			s.log.Warn("Scratch sweep failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
