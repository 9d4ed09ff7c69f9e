// Package scratch manages the per-request working directories that hold an
// upload and the analyzer output produced from it.
package scratch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/labstack/gommon/bytes"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/logger"
)

// DefaultPrefix is the directory name prefix used when none is configured
const DefaultPrefix = "birdnet_"

// Config controls where scratch directories are created
type Config struct {
	Root         string // parent directory, os.TempDir() when empty
	Prefix       string
	MinFreeBytes int64 // refuse to allocate below this much free space, 0 disables
}

// Space hands out isolated scratch directories
type Space struct {
	root         string
	prefix       string
	minFreeBytes int64
	log          logger.Logger

	// freeSpace is replaceable in tests
	freeSpace func(path string) (uint64, error)
}

// New creates a Space. A nil logger discards output.
func New(cfg Config, log logger.Logger) *Space {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Space{
		root:         cfg.Root,
		prefix:       cfg.Prefix,
		minFreeBytes: cfg.MinFreeBytes,
		log:          log,
		freeSpace:    diskFree,
	}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Root returns the parent directory new scratch directories are created in
func (s *Space) Root() string {
	if s.root == "" {
		return os.TempDir()
	}
	return s.root
}

// Acquire creates a fresh, uniquely named directory readable only by the
// current user. The caller must Release it.
func (s *Space) Acquire(ctx context.Context) (*Dir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := s.Root()
	if s.root != "" {
		if err := os.MkdirAll(root, 0o700); err != nil {
			return nil, errors.New(err).
				Component("scratch").
				Category(errors.CategoryFileIO).
				Context("operation", "create_scratch_root").
				Build()
		}
	}

	if err := s.checkFreeSpace(root); err != nil {
		return nil, err
	}

	path, err := os.MkdirTemp(root, s.prefix+"*")
	if err != nil {
		return nil, errors.New(err).
			Component("scratch").
			Category(errors.CategoryFileIO).
			Context("operation", "create_scratch_dir").
			Build()
	}

	s.log.Debug("Scratch directory created", logger.String("path", path))
	return &Dir{path: path, log: s.log}, nil
}

func (s *Space) checkFreeSpace(root string) error {
	if s.minFreeBytes <= 0 {
		return nil
	}

	free, err := s.freeSpace(root)
	if err != nil {
		// Not every filesystem reports usage; allocation will fail on its own
		s.log.Warn("Unable to determine free space for scratch root",
			logger.String("root", root),
			logger.Error(err))
		return nil
	}

	// #nosec G115 -- minFreeBytes is positive here
	if free < uint64(s.minFreeBytes) {
		return errors.Newf("insufficient disk space for scratch directory: %s free, %s required",
			bytes.Format(int64(free)), bytes.Format(s.minFreeBytes)). // #nosec G115 -- free < minFreeBytes
			Component("scratch").
			Category(errors.CategorySystem).
			Context("operation", "check_free_space").
			Build()
	}
	return nil
}

// Dir is one request's scratch directory
type Dir struct {
	path string
	log  logger.Logger

	once sync.Once
}

// Path returns the absolute directory path
func (d *Dir) Path() string {
	return d.path
}

// Join returns name resolved inside the directory
func (d *Dir) Join(name string) string {
	return filepath.Join(d.path, name)
}

// WriteFile streams r into a new file called name inside the directory and
// returns its full path and the number of bytes written. The name must be a
// plain file name.
func (d *Dir) WriteFile(name string, r io.Reader) (string, int64, error) {
	root, err := os.OpenRoot(d.path)
	if err != nil {
		return "", 0, errors.New(fmt.Errorf("failed to open scratch directory: %w", err)).
			Component("scratch").
			Category(errors.CategoryFileIO).
			Context("operation", "open_scratch_root").
			Build()
	}
	defer func() { _ = root.Close() }()

	f, err := root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, errors.New(fmt.Errorf("failed to create upload file: %w", err)).
			Component("scratch").
			Category(errors.CategoryFileIO).
			Context("operation", "create_upload_file").
			Build()
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return "", n, errors.New(fmt.Errorf("failed to write upload file: %w", copyErr)).
			Component("scratch").
			Category(errors.CategoryFileIO).
			Context("operation", "write_upload_file").
			FileContext(name, n).
			Build()
	}

	return d.Join(name), n, nil
}

// Release removes the directory and everything in it. It is safe to call
// more than once and on a nil Dir. Removal failures are logged, never
// returned, so cleanup can not mask the request outcome.
func (d *Dir) Release() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		if err := os.RemoveAll(d.path); err != nil {
			d.log.Warn("Failed to remove scratch directory",
				logger.String("path", d.path),
				logger.Error(err))
			return
		}
		d.log.Debug("Scratch directory removed", logger.String("path", d.path))
	})
}
