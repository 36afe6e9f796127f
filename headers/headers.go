// Package headers maps message header fields onto a normalized record.
// Both container decoders go through Populate so their output has the
// same shape.
package headers

import (
	"bufio"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/mail-normalize/address"
	"github.com/dhcgn/mail-normalize/model"
)

// Fields is the header lookup both containers expose. Field names are
// case-insensitive.
type Fields interface {
	Get(key string) string
	Values(key string) []string
}

// FromMIME adapts a go-message header.
func FromMIME(h textproto.Header) Fields {
	return mimeFields{h: h}
}

type mimeFields struct {
	h textproto.Header
}

func (m mimeFields) Get(key string) string {
	return m.h.Get(key)
}

func (m mimeFields) Values(key string) []string {
	var values []string
	fields := m.h.FieldsByKey(key)
	for fields.Next() {
		values = append(values, fields.Value())
	}
	return values
}

// Parse reads a header block such as the transport headers stored in a
// compound container. A missing terminating blank line is tolerated.
func Parse(text string) (Fields, error) {
	text = strings.TrimRight(text, "\r\n\x00\t ")
	if text == "" {
		return FromMIME(textproto.Header{}), nil
	}
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(text + "\r\n\r\n")))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return FromMIME(h), nil
}

// Populate fills subject, timestamp and identities of e from h.
// Sender and Author both come from the From field.
func Populate(h Fields, e *model.Email) {
	e.ReceivedOn = ParseDate(h.Get("Date"))
	e.Subject = h.Get("Subject")

	author := address.Parse(h.Get("From"))
	e.Author = author
	e.Sender = author

	e.To = address.ParseList(h.Values("To"))
	e.Cc = address.ParseList(h.Values("Cc"))
}

// ParseDate parses an RFC 5322 date. Missing or unparseable values give
// the zero time.
func ParseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := netmail.ParseDate(value)
	if err != nil {
		return time.Time{}
	}
	return t
}
