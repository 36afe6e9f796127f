// Package adapter selects a container decoder from a file name. Decoder
// packages register themselves from init, so importing them for side
// effects is enough to make a format available:
//
//	import _ "github.com/dhcgn/mail-normalize/eml"
package adapter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dhcgn/mail-normalize/model"
)

// ErrUnsupportedFormat is wrapped by every dispatch failure; match it with
// errors.Is.
var ErrUnsupportedFormat = errors.New("unsupported mail format")

// UnsupportedFormatError reports a file extension no decoder is registered for.
type UnsupportedFormatError struct {
	Name      string
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported mail extension %q given (%s)", e.Extension, e.Name)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// File is a readable stream that knows its own name. *os.File satisfies it.
type File interface {
	io.Reader
	Name() string
}

// Decoder turns one container file into a normalized record. Decode is
// called once; false means the content could not be decoded and the file
// should be skipped.
type Decoder interface {
	Decode(readAttachments bool) (model.Email, bool)
}

// Factory builds a decoder bound to file.
type Factory func(file File, logger *slog.Logger) Decoder

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a decoder available for ext. The leading dot is optional
// and the extension is matched case-sensitively, so ".eml" does not serve
// "MAIL.EML". It panics on duplicate or empty registrations.
func Register(ext string, factory Factory) {
	ext = normalize(ext)
	if ext == "" || ext == "." {
		panic("adapter: Register extension is empty")
	}
	if factory == nil {
		panic("adapter: Register factory is nil for " + ext)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[ext]; dup {
		panic("adapter: Register called twice for " + ext)
	}
	registry[ext] = factory
}

// Extensions lists registered extensions in sorted order.
func Extensions() []string {
	mu.RLock()
	defer mu.RUnlock()
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supported reports whether a decoder is registered for name's extension.
func Supported(name string) bool {
	_, ok := lookup(name)
	return ok
}

// New returns the decoder registered for file's extension. Nothing is read
// from file here.
func New(file File, logger *slog.Logger) (Decoder, error) {
	name := file.Name()
	factory, ok := lookup(name)
	if !ok {
		return nil, &UnsupportedFormatError{Name: name, Extension: filepath.Ext(name)}
	}
	return factory(file, logger), nil
}

func lookup(name string) (Factory, bool) {
	ext := normalize(filepath.Ext(name))
	mu.RLock()
	factory, ok := registry[ext]
	mu.RUnlock()
	return factory, ok && ext != ""
}

func normalize(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NamedReader attaches a name to r, for sources that are not files.
func NamedReader(name string, r io.Reader) File {
	return namedReader{Reader: r, name: name}
}

type namedReader struct {
	io.Reader
	name string
}

func (n namedReader) Name() string {
	return n.name
}
