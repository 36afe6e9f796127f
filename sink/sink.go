// Package sink holds the outputs a decoded record can be written to.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dhcgn/mail-normalize/model"
)

// Sink consumes decoded records. Write is called from a single goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec model.Record) error
	Close() error
}

type recordView struct {
	Path            string           `json:"path"`
	Hash            string           `json:"hash"`
	Format          string           `json:"format"`
	Subject         string           `json:"subject"`
	Body            string           `json:"body"`
	ReceivedOn      *time.Time       `json:"received_on,omitempty"`
	Sender          model.Identity   `json:"sender"`
	Author          model.Identity   `json:"author"`
	To              []model.Identity `json:"to"`
	Cc              []model.Identity `json:"cc"`
	AttachmentNames []string         `json:"attachment_names"`
	AttachmentTypes []string         `json:"attachment_types"`
}

func newRecordView(rec model.Record) recordView {
	e := rec.Email
	v := recordView{
		Path:            rec.Path,
		Hash:            rec.Hash,
		Format:          rec.Format,
		Subject:         e.Subject,
		Body:            e.Body,
		Sender:          e.Sender,
		Author:          e.Author,
		To:              nonNil(e.To),
		Cc:              nonNil(e.Cc),
		AttachmentNames: e.AttachmentNames(),
		AttachmentTypes: e.AttachmentTypes(),
	}
	if !e.ReceivedOn.IsZero() {
		t := e.ReceivedOn
		v.ReceivedOn = &t
	}
	return v
}

func nonNil(ids []model.Identity) []model.Identity {
	if ids == nil {
		return []model.Identity{}
	}
	return ids
}

// JSONWriter writes one JSON object per record and line.
type JSONWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

func NewJSONWriter(w io.Writer) *JSONWriter {
	bw := bufio.NewWriterSize(w, 64*1024)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &JSONWriter{w: bw, enc: enc}
}

// OpenJSON opens path for writing, or stdout when path is "-".
func OpenJSON(path string) (*JSONWriter, error) {
	if path == "" || path == "-" {
		return NewJSONWriter(os.Stdout), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	jw := NewJSONWriter(file)
	jw.closer = file
	return jw, nil
}

func (j *JSONWriter) Name() string {
	return "json"
}

func (j *JSONWriter) Write(_ context.Context, rec model.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(newRecordView(rec)); err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Path, err)
	}
	return nil
}

func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if j.closer != nil {
		err := j.closer.Close()
		j.closer = nil
		return err
	}
	return nil
}
