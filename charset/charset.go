// Package charset picks and applies text encodings for message payloads.
package charset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// Default is assumed when a part declares no usable charset.
const Default = "utf-8"

var (
	ErrUnknownCharset = errors.New("unknown charset")
	ErrInvalidText    = errors.New("invalid byte sequence")
)

// Resolve returns the value of the second parameter of a raw Content-Type
// header value ("text/plain; charset=latin1; format=flowed" -> "latin1").
// The lookup is positional: whatever parameter comes right after the media
// type wins, whatever its name.
func Resolve(contentType string) string {
	segments := strings.Split(contentType, ";")
	if len(segments) < 2 {
		return Default
	}
	_, value, ok := strings.Cut(segments[1], "=")
	if !ok {
		return Default
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return Default
	}
	return value
}

// Decode converts b from the named charset to a string. Other charsets are
// looked up in the MIME and IANA indexes. Every charset is strict: a byte
// sequence the charset leaves undefined fails with ErrInvalidText.
func Decode(name string, b []byte) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8":
		if !utf8.Valid(b) {
			return "", fmt.Errorf("utf-8: %w", ErrInvalidText)
		}
		return string(b), nil
	case "us-ascii", "ascii":
		if !isASCII(b) {
			return "", fmt.Errorf("ascii: %w", ErrInvalidText)
		}
		return string(b), nil
	}

	enc, err := lookup(name)
	if err != nil {
		return "", err
	}
	if cm, ok := enc.(*charmap.Charmap); ok {
		s, ok := charmapDecoder(cm)(b)
		if !ok {
			return "", fmt.Errorf("%s: %w", name, ErrInvalidText)
		}
		return s, nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	// Multi-byte decoders substitute U+FFFD for sequences they cannot map.
	if bytes.ContainsRune(out, utf8.RuneError) && !bytes.Contains(b, replacement) {
		return "", fmt.Errorf("%s: %w", name, ErrInvalidText)
	}
	return string(out), nil
}

var replacement = []byte("\xef\xbf\xbd")

func lookup(name string) (encoding.Encoding, error) {
	enc, _ := ianaindex.MIME.Encoding(name)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(name)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownCharset, name)
	}
	return enc, nil
}

type candidate struct {
	name   string
	decode func([]byte) (string, bool)
}

// candidates is the order compound-container bodies are tried in.
var candidates = []candidate{
	{"ascii", decodeASCII},
	{"utf-8", decodeUTF8},
	{"utf-8-sig", decodeUTF8Sig},
	{"latin-1", charmapDecoder(charmap.ISO8859_1)},
	{"cp1252", charmapDecoder(charmap.Windows1252)},
}

// Candidates lists the names DecodeCandidates tries, in order.
func Candidates() []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

// DecodeCandidates decodes b with the first candidate encoding that accepts
// every byte. When none does, non-ASCII bytes are dropped.
func DecodeCandidates(b []byte) string {
	s, _ := DecodeCandidatesNamed(b)
	return s
}

// DecodeCandidatesNamed is DecodeCandidates that also reports which
// candidate matched ("ascii-ignore" for the lossy fallback).
func DecodeCandidatesNamed(b []byte) (string, string) {
	return decodeWith(candidates, b)
}

func decodeWith(list []candidate, b []byte) (string, string) {
	for _, c := range list {
		if s, ok := c.decode(b); ok {
			return s, c.name
		}
	}
	return dropNonASCII(b), "ascii-ignore"
}

func decodeASCII(b []byte) (string, bool) {
	if !isASCII(b) {
		return "", false
	}
	return string(b), true
}

func decodeUTF8(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

var bom = []byte{0xEF, 0xBB, 0xBF}

func decodeUTF8Sig(b []byte) (string, bool) {
	return decodeUTF8(bytes.TrimPrefix(b, bom))
}

// charmapDecoder rejects bytes the code page leaves undefined.
func charmapDecoder(cm *charmap.Charmap) func([]byte) (string, bool) {
	return func(b []byte) (string, bool) {
		var sb strings.Builder
		sb.Grow(len(b))
		for _, c := range b {
			r := cm.DecodeByte(c)
			if r == utf8.RuneError {
				return "", false
			}
			sb.WriteRune(r)
		}
		return sb.String(), true
	}
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func dropNonASCII(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c < utf8.RuneSelf {
			out = append(out, c)
		}
	}
	return string(out)
}
