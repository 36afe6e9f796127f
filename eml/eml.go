// Package eml decodes RFC 5322 text message containers.
//
// Charsets are resolved by this package from the raw Content-Type value, so
// go-message's charset conversion must stay disabled: do not import
// github.com/emersion/go-message/charset into a binary that uses eml.
package eml

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-normalize/adapter"
	"github.com/dhcgn/mail-normalize/charset"
	"github.com/dhcgn/mail-normalize/headers"
	"github.com/dhcgn/mail-normalize/model"
)

// Extension is the file extension the decoder is registered for.
const Extension = ".eml"

func init() {
	adapter.Register(Extension, New)
}

// Decoder reads one .eml file. Failures are not reported; Decode returns
// false and the caller moves on.
type Decoder struct {
	file adapter.File
}

// New is the adapter.Factory for .eml files. The logger is unused.
func New(file adapter.File, _ *slog.Logger) adapter.Decoder {
	return &Decoder{file: file}
}

func (d *Decoder) Decode(readAttachments bool) (model.Email, bool) {
	email, err := d.decode(readAttachments)
	if err != nil {
		return model.Email{}, false
	}
	return email, true
}

func (d *Decoder) decode(readAttachments bool) (email model.Email, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eml: panic: %v", r)
		}
	}()

	entity, err := message.Read(d.file)
	if err != nil && !tolerable(err) {
		return model.Email{}, fmt.Errorf("read message: %w", err)
	}

	email = model.NewEmail()
	headers.Populate(headers.FromMIME(entity.Header.Header), &email)

	if entity.MultipartReader() == nil {
		if err := readSinglePart(entity, &email, readAttachments); err != nil {
			return model.Email{}, err
		}
		return email, nil
	}

	err = entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil && !tolerable(err) {
			return fmt.Errorf("part %v: %w", path, err)
		}
		if part.MultipartReader() != nil {
			return nil
		}
		return readPart(part, &email, readAttachments)
	})
	if err != nil {
		return model.Email{}, fmt.Errorf("walk message: %w", err)
	}
	return email, nil
}

// readSinglePart decodes the payload of a non-multipart message as its body
// whatever its media type.
func readSinglePart(entity *message.Entity, email *model.Email, readAttachments bool) error {
	payload, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	body, err := decodeText(entity.Header, payload)
	if err != nil {
		return err
	}
	email.Body = body

	if readAttachments && disposition(entity.Header) == "attachment" {
		email.AddAttachment(filename(entity.Header), payload, contentType(entity.Header))
	}
	return nil
}

// readPart handles one leaf of a multipart message. Every inline text part
// replaces the body set by the previous one. Payloads of other parts are
// never read. An attachment whose transfer encoding is broken keeps the
// bytes decoded before the error.
func readPart(part *message.Entity, email *model.Email, readAttachments bool) error {
	ct := contentType(part.Header)
	disp := disposition(part.Header)

	switch {
	case mainType(ct) == "text" && disp != "attachment":
		payload, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("read part: %w", err)
		}
		body, err := decodeText(part.Header, payload)
		if err != nil {
			return err
		}
		email.Body = body
	case readAttachments && disp == "attachment":
		name := filename(part.Header)
		if name == "" {
			return nil
		}
		payload, _ := io.ReadAll(part.Body)
		email.AddAttachment(name, payload, ct)
	}
	return nil
}

func decodeText(h message.Header, payload []byte) (string, error) {
	name := charset.Resolve(h.Get("Content-Type"))
	text, err := charset.Decode(name, bytes.Trim(payload, " \t\r\n\v\f"))
	if err != nil {
		return "", fmt.Errorf("decode %s text: %w", name, err)
	}
	return text, nil
}

// contentType returns the lower-case media type, text/plain when the header
// is missing or invalid.
func contentType(h message.Header) string {
	mediaType, _, err := h.ContentType()
	if err != nil || !strings.Contains(mediaType, "/") {
		return "text/plain"
	}
	return strings.ToLower(mediaType)
}

func mainType(ct string) string {
	main, _, _ := strings.Cut(ct, "/")
	return main
}

func disposition(h message.Header) string {
	value, _, _ := strings.Cut(h.Get("Content-Disposition"), ";")
	return strings.ToLower(strings.TrimSpace(value))
}

// filename prefers the Content-Disposition filename over the Content-Type
// name parameter. Unparseable parameters give an empty name.
func filename(h message.Header) string {
	ah := mail.AttachmentHeader{Header: h}
	name, _ := ah.Filename()
	return name
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
