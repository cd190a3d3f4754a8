// Package archive unpacks repository snapshots into a working tree.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const defaultMaxUncompressed = 2 << 30

// Result describes an extraction. Degraded results point at a placeholder
// project instead of the archive contents.
type Result struct {
	Root     string
	Files    int
	Degraded bool
	Reason   string
}

// Extractor unpacks zip archives held in memory.
type Extractor struct {
	logger          *slog.Logger
	maxUncompressed int64
}

// NewExtractor constructs an Extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger, maxUncompressed: defaultMaxUncompressed}
}

// Extract writes data under dest and returns the project root. Bad
// archives never fail the call; they degrade to a placeholder project.
func (e *Extractor) Extract(data []byte, dest string) (Result, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return Result{}, fmt.Errorf("create extraction dir: %w", err)
	}
	extractDir := filepath.Join(dest, "extracted")
	files, err := e.unzip(data, extractDir)
	if err == nil && files == 0 {
		err = errors.New("archive contains no files")
	}
	if err != nil {
		e.logger.Warn("archive extraction failed, using placeholder project", "error", err)
		root := filepath.Join(dest, "placeholder")
		if werr := writePlaceholder(root); werr != nil {
			return Result{}, fmt.Errorf("write placeholder project: %w", werr)
		}
		return Result{Root: root, Degraded: true, Reason: err.Error()}, nil
	}
	root, err := projectRoot(extractDir)
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("archive extracted", "files", files, "root", root)
	return Result{Root: root, Files: files}, nil
}

func (e *Extractor) unzip(data []byte, dir string) (int, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// Insecure names are filtered per entry below.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	var total int64
	files := 0
	for _, entry := range reader.File {
		target, ok := safeJoin(dir, entry.Name)
		if !ok {
			e.logger.Warn("skipping archive entry outside root", "entry", entry.Name)
			continue
		}
		mode := entry.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		case mode&os.ModeSymlink != 0:
			e.logger.Warn("skipping symlink in archive", "entry", entry.Name)
			continue
		case !mode.IsRegular():
			continue
		}
		total += int64(entry.UncompressedSize64)
		if total > e.maxUncompressed {
			return files, fmt.Errorf("archive expands beyond %d bytes", e.maxUncompressed)
		}
		if err := writeEntry(entry, target); err != nil {
			return files, fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		files++
	}
	return files, nil
}

func writeEntry(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	// Executable bits are dropped; nothing from the archive runs here.
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, io.LimitReader(src, int64(entry.UncompressedSize64)+1)); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// safeJoin rejects absolute names and any path escaping dir.
func safeJoin(dir, name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", false
	}
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

// projectRoot unwraps the single top-level directory source hosts add
// (e.g. acme-widget-1a2b3c/).
func projectRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read extraction dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
