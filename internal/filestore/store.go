// Package filestore manages the two on-disk directories a job touches:
// inbound uploads and processed outputs.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	uploadsDirName = "uploads"
	outputsDirName = "outputs"
	lockFileName   = ".stripaudio.lock"

	// OutputSuffix is appended to the base name of processed files.
	OutputSuffix = "_no_audio"
)

var (
	// ErrLocked is returned when another process already owns the data directory.
	ErrLocked = errors.New("data directory is locked by another process")
	// ErrInvalidID is returned for identifiers unusable as a file name.
	ErrInvalidID = errors.New("invalid file identifier")
)

// Store owns <dataDir>/uploads and <dataDir>/outputs. Sweeps delete files, so
// only one process may hold a data directory at a time.
type Store struct {
	uploadDir string
	outputDir string
	lock      *flock.Flock
	logger    *zap.Logger
	now       func() time.Time
}

// Open creates the managed directories under dataDir and takes the data
// directory lock.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data directory is required")
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}

	s := &Store{
		uploadDir: filepath.Join(abs, uploadsDirName),
		outputDir: filepath.Join(abs, outputsDirName),
		logger:    logger,
		now:       time.Now,
	}
	for _, dir := range []string{s.uploadDir, s.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	s.lock = flock.New(filepath.Join(abs, lockFileName))
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data directory: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return s, nil
}

// Close releases the data directory lock.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// UploadDir returns the inbound directory.
func (s *Store) UploadDir() string { return s.uploadDir }

// OutputDir returns the processed-output directory.
func (s *Store) OutputDir() string { return s.outputDir }

// Put writes r to the upload directory as <id><ext> and returns the path.
// The file is created exclusively; a partial file is removed on failure.
func (s *Store) Put(id, ext string, r io.Reader) (string, error) {
	name, err := fileName(id, ext)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.uploadDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}

	return path, nil
}

// PathFor returns the stored upload for id, if any.
func (s *Store) PathFor(id string) (string, bool) {
	if _, err := fileName(id, ""); err != nil {
		return "", false
	}
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == id {
			return filepath.Join(s.uploadDir, name), true
		}
	}
	return "", false
}

// OutputPathFor derives the output path from the job identifier and the
// input extension. Two jobs never share an identifier, so never a path.
func (s *Store) OutputPathFor(id, ext string) (string, error) {
	name, err := fileName(id+OutputSuffix, ext)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.outputDir, name), nil
}

// Remove deletes a file inside one of the managed directories. Missing
// files are not an error.
func (s *Store) Remove(path string) error {
	if !s.manages(path) {
		return fmt.Errorf("refusing to remove unmanaged path %q", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep deletes entries in both managed directories last modified before
// now-maxAge and returns how many were removed. Individual failures are
// logged and skipped; a file vanishing mid-sweep is not a failure.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0
	var errs []error

	for _, dir := range []string{s.uploadDir, s.outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", dir, err))
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())

			info, err := entry.Info()
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					s.logger.Warn("sweep stat failed", zap.String("path", path), zap.Error(err))
				}
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}

			if err := os.Remove(path); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					s.logger.Warn("sweep remove failed; file remains", zap.String("path", path), zap.Error(err))
				}
				continue
			}
			removed++
			s.logger.Debug("swept file", zap.String("path", path), zap.Time("modified", info.ModTime()))
		}
	}

	return removed, errors.Join(errs...)
}

func (s *Store) manages(path string) bool {
	dir := filepath.Dir(filepath.Clean(path))
	return dir == s.uploadDir || dir == s.outputDir
}

func fileName(id, ext string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`+"\x00") {
		return "", ErrInvalidID
	}
	if ext != "" && (!strings.HasPrefix(ext, ".") || strings.ContainsAny(ext[1:], `./\`+"\x00")) {
		return "", fmt.Errorf("invalid extension %q", ext)
	}
	return id + ext, nil
}
