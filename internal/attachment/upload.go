package attachment

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxFileSize is the largest file accepted by UploadFile (10 MiB).
const MaxFileSize = 10 * 1024 * 1024

// ErrTooLarge is returned for files above MaxFileSize.
var ErrTooLarge = errors.New("file is too large (max 10MB)")

// UploadFile reads the file at path into the store under its base name.
// The MIME type comes from the extension, falling back to content sniffing.
func (s *Store) UploadFile(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Entry{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return Entry{}, fmt.Errorf("file %s: %w", info.Name(), ErrTooLarge)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	e := s.Add(filepath.Base(path), DetectType(path, content), content)
	slog.Debug("attachment uploaded",
		"filename", e.Filename,
		"type", e.MimeType,
		"size", e.Size,
	)
	return e, nil
}

// UploadFiles uploads every path, continuing past failures. It returns the
// entries that were stored and the joined errors of those that were not.
func (s *Store) UploadFiles(paths []string) ([]Entry, error) {
	var (
		uploaded []Entry
		errs     []error
	)
	for _, p := range paths {
		e, err := s.UploadFile(p)
		if err != nil {
			slog.Error("failed to upload attachment", "path", p, "error", err)
			errs = append(errs, err)
			continue
		}
		uploaded = append(uploaded, e)
	}
	return uploaded, errors.Join(errs...)
}

// DetectType returns the MIME type of a file, preferring its extension over
// content sniffing.
func DetectType(path string, content []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return mimetype.Detect(content).String()
}
