// Package mbox flattens decoded records into an mbox archive so a mixed
// .eml/.msg collection can be imported by any mail client.
package mbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-normalize/model"
)

// SourceHeader names the header carrying the path of the decoded file.
const SourceHeader = "X-Normalized-From"

const unknownSender = "MAILER-DAEMON"

type Options struct {
	Path string
}

// Writer appends one mbox message per record.
type Writer struct {
	path   string
	logger *slog.Logger
	file   *os.File
	buf    *bufio.Writer
	mbox   *mboxlib.Writer
}

func NewWriter(opts Options, logger *slog.Logger) (*Writer, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create mbox directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create mbox: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	buf := bufio.NewWriterSize(file, 64*1024)
	return &Writer{
		path:   path,
		logger: logger,
		file:   file,
		buf:    buf,
		mbox:   mboxlib.NewWriter(buf),
	}, nil
}

func (w *Writer) Name() string {
	return "mbox"
}

func (w *Writer) Write(_ context.Context, rec model.Record) error {
	from := rec.Email.Sender.Address
	if from == "" {
		from = unknownSender
	}
	date := rec.Email.ReceivedOn
	if date.IsZero() {
		date = time.Unix(0, 0).UTC()
	}

	msg, err := w.mbox.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("create mbox message for %s: %w", rec.Path, err)
	}
	if err := Flatten(msg, rec); err != nil {
		return fmt.Errorf("flatten %s: %w", rec.Path, err)
	}
	w.logger.Debug("mbox message written", "file", rec.Path, "mbox", w.path)
	return nil
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	var firstErr error
	if err := w.mbox.Close(); err != nil {
		firstErr = fmt.Errorf("close mbox writer: %w", err)
	}
	if err := w.buf.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush mbox: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox: %w", err)
	}
	w.file = nil
	return firstErr
}

// Flatten renders a record as an RFC 5322 message: a text/plain body and
// one base64 part per attachment.
func Flatten(out io.Writer, rec model.Record) error {
	e := rec.Email

	var h mail.Header
	if !e.ReceivedOn.IsZero() {
		h.SetDate(e.ReceivedOn)
	}
	h.SetSubject(e.Subject)
	if e.Author.Address != "" {
		h.SetAddressList("From", addresses([]model.Identity{e.Author}))
	}
	if e.Sender.Address != "" && e.Sender != e.Author {
		h.SetAddressList("Sender", addresses([]model.Identity{e.Sender}))
	}
	if len(e.To) > 0 {
		h.SetAddressList("To", addresses(e.To))
	}
	if len(e.Cc) > 0 {
		h.SetAddressList("Cc", addresses(e.Cc))
	}
	if rec.Path != "" {
		h.Set(SourceHeader, rec.Path)
	}

	if len(e.Attachments) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		body, err := mail.CreateSingleInlineWriter(out, h)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(body, e.Body); err != nil {
			return err
		}
		return body.Close()
	}

	mw, err := mail.CreateWriter(out, h)
	if err != nil {
		return err
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	body, err := mw.CreateSingleInline(ih)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(body, e.Body); err != nil {
		return err
	}
	if err := body.Close(); err != nil {
		return err
	}

	for _, a := range e.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(contentType(a.ContentType), nil)
		ah.SetFilename(a.Name)
		part, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := part.Write(a.Content); err != nil {
			return err
		}
		if err := part.Close(); err != nil {
			return err
		}
	}
	return mw.Close()
}

func addresses(ids []model.Identity) []*mail.Address {
	out := make([]*mail.Address, 0, len(ids))
	for _, id := range ids {
		if id.Address == "" {
			continue
		}
		out = append(out, &mail.Address{Name: id.Name, Address: id.Address})
	}
	return out
}

// contentType maps types the header writer cannot carry, such as the
// "unknown" placeholder, to application/octet-stream.
func contentType(ct string) string {
	if !strings.Contains(ct, "/") || strings.ContainsAny(ct, " ;") {
		return "application/octet-stream"
	}
	return ct
}
