// ABOUTME: Uploader that writes images to a local directory
// ABOUTME: Files are named by UUID and served back under a configurable URL prefix

package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DiskUploader writes decoded images under dir and returns baseURL/<name>.
type DiskUploader struct {
	dir      string
	baseURL  string
	maxBytes int64
	logger   *slog.Logger
}

var _ Uploader = (*DiskUploader)(nil)

// NewDiskUploader creates dir if needed. maxBytes <= 0 uses DefaultMaxBytes.
func NewDiskUploader(dir, baseURL string, maxBytes int64, logger *slog.Logger) (*DiskUploader, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskUploader{
		dir:      dir,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger.With("component", "uploads"),
	}, nil
}

// Dir returns the directory files are written to.
func (d *DiskUploader) Dir() string {
	return d.dir
}

// Upload decodes dataURI and writes it to disk. The file appears atomically.
func (d *DiskUploader) Upload(ctx context.Context, dataURI string) (string, error) {
	img, err := DecodeDataURI(dataURI, d.maxBytes)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + img.Ext()

	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(img.Data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod upload: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(d.dir, name)); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	d.logger.Debug("stored upload", "name", name, "bytes", len(img.Data), "type", img.ContentType)
	return d.baseURL + "/" + name, nil
}
