package mbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-normalize/model"
)

func record(path, subject, body string) model.Record {
	e := model.NewEmail()
	e.Subject = subject
	e.Body = body
	e.ReceivedOn = time.Date(2023, 10, 10, 8, 0, 0, 0, time.UTC)
	e.Author = model.Identity{Name: "A", Address: "a@x.com"}
	e.Sender = e.Author
	e.To = []model.Identity{{Address: "b@y.com"}, {Name: "C", Address: "c@z.com"}}
	return model.Record{Path: path, Format: filepath.Ext(path), Email: e}
}

func readArchive(t *testing.T, path string) []*mail.Reader {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { file.Close() })

	var out []*mail.Reader
	r := mboxlib.NewReader(file)
	for {
		msg, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("NextMessage() error = %v", err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			t.Fatalf("read message: %v", err)
		}
		mr, err := mail.CreateReader(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("CreateReader() error = %v", err)
		}
		out = append(out, mr)
	}
}

func partText(t *testing.T, mr *mail.Reader) (string, []string) {
	t.Helper()
	var body string
	var names []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return body, names
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		data, err := io.ReadAll(p.Body)
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			body = string(data)
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			names = append(names, name)
		}
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "all.mbox")
	w, err := NewWriter(Options{Path: path}, nil)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	plain := record("in/one.eml", "Hi", "hello\nworld")
	withAttachment := record("in/two.msg", "Report", "see attached")
	withAttachment.Email.AddAttachment("f.pdf", []byte("%PDF-1.4\n"), "application/pdf")
	withAttachment.Email.AddAttachment("data.xyz", []byte{1, 2, 3}, "unknown")
	undated := record("in/three.eml", "No date", "x")
	undated.Email.ReceivedOn = time.Time{}
	undated.Email.Sender = model.Identity{}

	for _, rec := range []model.Record{plain, withAttachment, undated} {
		if err := w.Write(context.Background(), rec); err != nil {
			t.Fatalf("Write(%s) error = %v", rec.Path, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	msgs := readArchive(t, path)
	if len(msgs) != 3 {
		t.Fatalf("archive has %d messages, want 3", len(msgs))
	}

	subject, _ := msgs[0].Header.Subject()
	if subject != "Hi" {
		t.Errorf("Subject = %q", subject)
	}
	to, err := msgs[0].Header.AddressList("To")
	if err != nil || len(to) != 2 || to[1].Name != "C" {
		t.Errorf("To = %v, %v", to, err)
	}
	if got := msgs[0].Header.Get(SourceHeader); got != "in/one.eml" {
		t.Errorf("%s = %q", SourceHeader, got)
	}
	body, _ := partText(t, msgs[0])
	if strings.TrimRight(strings.ReplaceAll(body, "\r\n", "\n"), "\n") != "hello\nworld" {
		t.Errorf("body = %q", body)
	}

	body, names := partText(t, msgs[1])
	if strings.TrimSpace(body) != "see attached" {
		t.Errorf("body = %q", body)
	}
	if len(names) != 2 || names[0] != "f.pdf" || names[1] != "data.xyz" {
		t.Errorf("attachment names = %v", names)
	}

	if date, err := msgs[2].Header.Date(); err == nil && !date.IsZero() {
		t.Errorf("undated record got Date %v", date)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"application/pdf": "application/pdf",
		"unknown":         "application/octet-stream",
		"":                "application/octet-stream",
		"audio/midi x":    "application/octet-stream",
	}
	for in, want := range tests {
		if got := contentType(in); got != want {
			t.Errorf("contentType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewWriterEmptyPath(t *testing.T) {
	if _, err := NewWriter(Options{}, nil); err == nil {
		t.Error("NewWriter() error = nil for empty path")
	}
}
