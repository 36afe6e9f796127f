package adapter

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/dhcgn/mail-normalize/model"
)

type stubDecoder struct {
	file File
}

func (s stubDecoder) Decode(bool) (model.Email, bool) {
	e := model.NewEmail()
	e.Subject = s.file.Name()
	return e, true
}

func TestNewSelectsRegisteredFactory(t *testing.T) {
	calls := 0
	Register(".stub", func(file File, _ *slog.Logger) Decoder {
		calls++
		return stubDecoder{file: file}
	})

	for _, name := range []string{"a.stub", "dir/B.stub"} {
		dec, err := New(NamedReader(name, strings.NewReader("")), nil)
		if err != nil {
			t.Fatalf("New(%q) error = %v", name, err)
		}
		email, ok := dec.Decode(true)
		if !ok || email.Subject != name {
			t.Errorf("Decode() = %+v, %v", email, ok)
		}
	}
	if calls != 2 {
		t.Errorf("factory calls = %d, want 2", calls)
	}
}

func TestNewUnsupportedFormat(t *testing.T) {
	calls := 0
	Register(".counted", func(file File, _ *slog.Logger) Decoder {
		calls++
		return stubDecoder{file: file}
	})

	reader := &countingReader{}
	for _, name := range []string{"mail.txt", "mail", "mail.counted.bak", "mail.", "MAIL.COUNTED", "mail.Counted"} {
		dec, err := New(NamedReader(name, reader), nil)
		if dec != nil {
			t.Errorf("New(%q) returned decoder for unsupported file", name)
		}
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("New(%q) error = %v, want ErrUnsupportedFormat", name, err)
		}
		var formatErr *UnsupportedFormatError
		if !errors.As(err, &formatErr) || formatErr.Name != name {
			t.Errorf("New(%q) error = %#v, want *UnsupportedFormatError", name, err)
		}
	}
	if calls != 0 {
		t.Errorf("factory invoked %d times for unsupported files", calls)
	}
	if reader.reads != 0 {
		t.Errorf("file read %d times before dispatch failed", reader.reads)
	}
}

func TestRegisterPanics(t *testing.T) {
	factory := func(file File, _ *slog.Logger) Decoder { return stubDecoder{file: file} }
	Register("dup", factory)

	tests := []struct {
		name string
		fn   func()
	}{
		{name: "duplicate", fn: func() { Register(".dup", factory) }},
		{name: "empty", fn: func() { Register("", factory) }},
		{name: "nil factory", fn: func() { Register(".nil", nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Register did not panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestExtensionsAndSupported(t *testing.T) {
	Register(".listed", func(file File, _ *slog.Logger) Decoder { return stubDecoder{file: file} })

	found := false
	for _, ext := range Extensions() {
		if ext == ".listed" {
			found = true
		}
	}
	if !found {
		t.Errorf("Extensions() = %v, missing .listed", Extensions())
	}
	if !Supported("x.listed") {
		t.Error("Supported(x.listed) = false")
	}
	if Supported("x.Listed") {
		t.Error("Supported(x.Listed) = true, extensions match case-sensitively")
	}
	if Supported("x.unlisted") {
		t.Error("Supported(x.unlisted) = true")
	}
}

type countingReader struct {
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return 0, nil
}
