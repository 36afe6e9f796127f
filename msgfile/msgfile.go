// Package msgfile exposes the message stored in an Outlook compound-binary
// (.msg) container. The compound file itself is read by mscfb; this package
// maps its property streams onto a small message object model.
package msgfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"sort"
	"strings"
	"time"

	"github.com/richardlehane/mscfb"

	"github.com/dhcgn/mail-normalize/headers"
)

var ErrNotMessage = errors.New("compound file holds no message properties")

// RecipientType is the MAPI recipient kind.
type RecipientType int32

const (
	RecipientTo  RecipientType = 1
	RecipientCc  RecipientType = 2
	RecipientBcc RecipientType = 3
)

// Body holds the message body as stored: decoded text for Unicode
// properties, raw bytes for 8-bit ones.
type Body struct {
	Text    string
	Raw     []byte
	Unicode bool
}

type Recipient struct {
	Type    RecipientType
	Name    string
	Address string
}

type Attachment struct {
	ShortFilename string
	LongFilename  string
	Data          []byte
}

// Message is the subset of a .msg container used for normalization.
type Message struct {
	Subject          string
	TransportHeaders string
	SenderName       string
	SenderAddress    string
	Sent             time.Time
	Body             *Body
	Recipients       []Recipient
	Attachments      []Attachment
}

// Parse reads a whole .msg file. Storages nested below recipients and
// attachments (embedded messages) are not descended into.
func Parse(raw []byte) (*Message, error) {
	doc, err := mscfb.New(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open compound file: %w", err)
	}

	root := newObject("")
	attachments := map[string]*object{}
	recipients := map[string]*object{}

	for {
		entry, err := doc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read compound entry: %w", err)
		}

		path := trimRoot(entry.Path)
		var target *object
		switch {
		case len(path) == 0 && strings.HasPrefix(entry.Name, attachPrefix):
			objectFor(attachments, entry.Name)
			continue
		case len(path) == 0 && strings.HasPrefix(entry.Name, recipPrefix):
			objectFor(recipients, entry.Name)
			continue
		case len(path) == 0:
			target = root
		case len(path) == 1 && strings.HasPrefix(path[0], attachPrefix):
			target = objectFor(attachments, path[0])
		case len(path) == 1 && strings.HasPrefix(path[0], recipPrefix):
			target = objectFor(recipients, path[0])
		default:
			continue
		}

		if err := target.load(entry.Name, entry.Size, entry); err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name, err)
		}
	}

	if len(root.streams) == 0 && len(root.properties) == 0 {
		return nil, ErrNotMessage
	}
	return buildMessage(root, sorted(recipients), sorted(attachments)), nil
}

func buildMessage(root *object, recipients, attachments []*object) *Message {
	m := &Message{}
	m.Subject, _ = root.text(PropSubject)
	m.TransportHeaders, _ = root.text(PropTransportHeaders)
	m.SenderName, _ = root.text(PropSenderName)
	if addr, ok := root.text(PropSenderSMTPAddress); ok && addr != "" {
		m.SenderAddress = addr
	} else {
		m.SenderAddress, _ = root.text(PropSenderEmail)
	}
	if t, ok := root.timestamp(PropClientSubmitTime, rootPropertiesHeader); ok {
		m.Sent = t
	} else if t, ok := root.timestamp(PropDeliveryTime, rootPropertiesHeader); ok {
		m.Sent = t
	}

	if b, ok := root.streams[tag(PropBody, TypeUnicode)]; ok {
		m.Body = &Body{Text: decodeUnicode(b), Unicode: true}
	} else if b, ok := root.streams[tag(PropBody, TypeString8)]; ok {
		m.Body = &Body{Raw: b}
	}

	for _, r := range recipients {
		rt, _ := r.long(PropRecipientType, childPropertiesHeader)
		name, _ := r.text(PropDisplayName)
		addr, _ := r.text(PropSMTPAddress)
		if addr == "" {
			addr, _ = r.text(PropEmailAddress)
		}
		m.Recipients = append(m.Recipients, Recipient{Type: RecipientType(rt), Name: name, Address: addr})
	}

	for _, a := range attachments {
		short, _ := a.text(PropAttachFilename)
		long, _ := a.text(PropAttachLongFilename)
		data, _ := a.blob(PropAttachData)
		m.Attachments = append(m.Attachments, Attachment{ShortFilename: short, LongFilename: long, Data: data})
	}
	return m
}

// Header returns the transport headers when present and well formed,
// otherwise a header assembled from the message properties.
func (m *Message) Header() headers.Fields {
	if strings.TrimSpace(m.TransportHeaders) != "" {
		if h, err := headers.Parse(m.TransportHeaders); err == nil {
			return h
		}
	}
	h, err := headers.Parse(m.synthesizeHeader())
	if err != nil {
		h, _ = headers.Parse("")
	}
	return h
}

func (m *Message) synthesizeHeader() string {
	var sb strings.Builder
	field := func(key, value string) {
		value = strings.Join(strings.Fields(value), " ")
		if value == "" {
			return
		}
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\r\n")
	}

	if !m.Sent.IsZero() {
		field("Date", m.Sent.Format(time.RFC1123Z))
	}
	field("Subject", m.Subject)
	if m.SenderAddress != "" {
		field("From", formatAddress(m.SenderName, m.SenderAddress))
	}

	var to, cc []string
	for _, r := range m.Recipients {
		if r.Address == "" {
			continue
		}
		switch r.Type {
		case RecipientTo:
			to = append(to, formatAddress(r.Name, r.Address))
		case RecipientCc:
			cc = append(cc, formatAddress(r.Name, r.Address))
		}
	}
	field("To", strings.Join(to, ", "))
	field("Cc", strings.Join(cc, ", "))
	return sb.String()
}

func formatAddress(name, addr string) string {
	if name == addr {
		name = ""
	}
	return (&netmail.Address{Name: name, Address: addr}).String()
}

func (o *object) load(name string, size int64, r io.Reader) error {
	switch {
	case name == propertiesStream:
		data, err := readStream(r, size)
		if err != nil {
			return err
		}
		o.properties = data
	case strings.HasPrefix(name, substgPrefix):
		t, ok := parseStreamTag(name)
		if !ok {
			return nil
		}
		data, err := readStream(r, size)
		if err != nil {
			return err
		}
		o.streams[t] = data
	}
	return nil
}

func readStream(r io.Reader, size int64) ([]byte, error) {
	if size <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func objectFor(objects map[string]*object, name string) *object {
	if o, ok := objects[name]; ok {
		return o
	}
	o := newObject(name)
	objects[name] = o
	return o
}

// sorted orders storages by name; the "#XXXXXXXX" suffix is fixed-width hex.
func sorted(objects map[string]*object) []*object {
	out := make([]*object, 0, len(objects))
	for _, o := range objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func trimRoot(path []string) []string {
	if len(path) > 0 && path[0] == "Root Entry" {
		return path[1:]
	}
	return path
}
