// Package msg decodes Outlook compound-binary message containers.
package msg

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dhcgn/mail-normalize/adapter"
	"github.com/dhcgn/mail-normalize/charset"
	"github.com/dhcgn/mail-normalize/headers"
	"github.com/dhcgn/mail-normalize/mimetypes"
	"github.com/dhcgn/mail-normalize/model"
	"github.com/dhcgn/mail-normalize/msgfile"
)

// Extension is the file extension the decoder is registered for.
const Extension = ".msg"

func init() {
	adapter.Register(Extension, New)
}

// Decoder reads one .msg file. Unlike eml, failures are logged before
// Decode reports them as a false result.
type Decoder struct {
	file   adapter.File
	logger *slog.Logger
	parse  func([]byte) (*msgfile.Message, error)
}

// New is the adapter.Factory for .msg files.
func New(file adapter.File, logger *slog.Logger) adapter.Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{file: file, logger: logger, parse: msgfile.Parse}
}

func (d *Decoder) Decode(readAttachments bool) (model.Email, bool) {
	email, err := d.decode(readAttachments)
	if err != nil {
		d.logger.Error("decode msg failed", "file", d.file.Name(), "err", err)
		return model.Email{}, false
	}
	return email, true
}

func (d *Decoder) decode(readAttachments bool) (email model.Email, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("msg: panic: %v", r)
		}
	}()

	raw, err := io.ReadAll(d.file)
	if err != nil {
		return model.Email{}, fmt.Errorf("read file: %w", err)
	}
	m, err := d.parse(raw)
	if err != nil {
		return model.Email{}, fmt.Errorf("parse container: %w", err)
	}

	email = model.NewEmail()
	headers.Populate(m.Header(), &email)

	if m.Body != nil {
		email.Body = strings.Trim(bodyText(m.Body), "\x00")
	}

	if readAttachments {
		for _, a := range m.Attachments {
			if a.ShortFilename == "" {
				continue
			}
			email.AddAttachment(a.ShortFilename, a.Data, mimetypes.ByFilename(a.ShortFilename))
		}
	}
	return email, nil
}

func bodyText(b *msgfile.Body) string {
	if b.Unicode {
		return b.Text
	}
	return charset.DecodeCandidates(b.Raw)
}
