package model

import (
	"strings"
	"time"
)

// Identity is a display-name/address pair taken from an address header.
type Identity struct {
	Name    string `json:"name"`
	Address string `json:"smtp_address"`
}

// String renders the identity as "Name <address>", or the bare address
// when there is no display name.
func (i Identity) String() string {
	switch {
	case i.Name == "":
		return i.Address
	case i.Address == "":
		return i.Name
	}
	return i.Name + " <" + i.Address + ">"
}

// JoinIdentities renders a list of identities separated by ", ".
func JoinIdentities(ids []Identity) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if s := id.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Attachment is a named binary part of a message.
type Attachment struct {
	Name        string
	Content     []byte
	ContentType string
}

// Email is the format-independent record produced by every decoder.
// A zero ReceivedOn means the Date header was absent or unparseable.
type Email struct {
	Subject     string
	Body        string
	ReceivedOn  time.Time
	Sender      Identity
	Author      Identity
	To          []Identity
	Cc          []Identity
	Attachments []Attachment
}

// NewEmail returns a record with every sequence initialized.
func NewEmail() Email {
	return Email{
		To:          []Identity{},
		Cc:          []Identity{},
		Attachments: []Attachment{},
	}
}

// AddAttachment records an attachment. Attachments without a name are dropped.
func (e *Email) AddAttachment(name string, content []byte, contentType string) bool {
	if name == "" {
		return false
	}
	if content == nil {
		content = []byte{}
	}
	e.Attachments = append(e.Attachments, Attachment{
		Name:        name,
		Content:     content,
		ContentType: contentType,
	})
	return true
}

// AttachmentNames returns the attachment file names in message order.
func (e Email) AttachmentNames() []string {
	out := make([]string, len(e.Attachments))
	for i, a := range e.Attachments {
		out[i] = a.Name
	}
	return out
}

// AttachmentBinaries returns the attachment payloads, aligned with AttachmentNames.
func (e Email) AttachmentBinaries() [][]byte {
	out := make([][]byte, len(e.Attachments))
	for i, a := range e.Attachments {
		out[i] = a.Content
	}
	return out
}

// AttachmentTypes returns the attachment content types, aligned with AttachmentNames.
func (e Email) AttachmentTypes() []string {
	out := make([]string, len(e.Attachments))
	for i, a := range e.Attachments {
		out[i] = a.ContentType
	}
	return out
}

// Record is a decoded file travelling through the pipeline.
type Record struct {
	Path   string
	Hash   string
	Format string
	Email  Email
}
