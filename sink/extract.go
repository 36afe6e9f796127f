package sink

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dhcgn/mail-normalize/model"
)

// Extractor stores attachment payloads as <dir>/<sha1><ext>. The extension
// is sniffed from the content and falls back to the attachment name.
// Identical payloads are stored once.
type Extractor struct {
	dir    string
	logger *slog.Logger
}

func NewExtractor(dir string, logger *slog.Logger) (*Extractor, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("extract directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create extract directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{dir: dir, logger: logger}, nil
}

func (x *Extractor) Name() string {
	return "extract"
}

func (x *Extractor) Write(ctx context.Context, rec model.Record) error {
	for _, a := range rec.Email.Attachments {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(x.dir, FileName(a))
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if err := os.WriteFile(path, a.Content, 0o644); err != nil {
			return fmt.Errorf("write attachment %s of %s: %w", a.Name, rec.Path, err)
		}
		x.logger.Debug("attachment extracted", "file", rec.Path, "attachment", a.Name, "path", path)
	}
	return nil
}

func (x *Extractor) Close() error {
	return nil
}

// FileName is the content-addressed name an attachment is stored under.
func FileName(a model.Attachment) string {
	sum := sha1.Sum(a.Content)
	return hex.EncodeToString(sum[:]) + realExtension(a)
}

func realExtension(a model.Attachment) string {
	if ext := mimetype.Detect(a.Content).Extension(); ext != "" {
		return ext
	}
	return strings.ToLower(filepath.Ext(a.Name))
}
