package filter

import (
	"testing"
	"time"

	"github.com/dhcgn/mail-normalize/model"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	opts := Options{
		IncludeHeader: []string{"Subject: Test"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Test Message\nFrom: sender@example.com\n"
	body := "This is the message body"

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed (header matches)")
	}

	headerNoMatch := "Subject: Other\nFrom: sender@example.com\n"
	if f.Allows(headerNoMatch, body) {
		t.Error("Expected message to be filtered out (header doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	opts := Options{
		ExcludeHeader: []string{"spam"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Normal Message\nFrom: sender@example.com\n"
	body := "This is the message body"

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed (no spam)")
	}

	headerSpam := "Subject: This is spam\nFrom: spammer@example.com\n"
	if f.Allows(headerSpam, body) {
		t.Error("Expected message to be filtered out (contains spam)")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	opts := Options{
		IncludeHeader: []string{"test"},
		ExcludeHeader: []string{"spam"},
	}
	_, err := New(opts)
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	opts := Options{}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Any Message\n"
	body := "Any body content"

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed when no filters are active")
	}
}

func TestFilter_BodyFiltering(t *testing.T) {
	opts := Options{
		IncludeBody: []string{"important"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Message\n"
	bodyMatch := "This is an important message"
	bodyNoMatch := "This is a regular message"

	if !f.Allows(header, bodyMatch) {
		t.Error("Expected message to be allowed (body matches)")
	}

	if f.Allows(header, bodyNoMatch) {
		t.Error("Expected message to be filtered out (body doesn't match)")
	}
}

func sampleEmail() model.Email {
	e := model.NewEmail()
	e.Subject = "Quarterly numbers"
	e.Body = "Please find the report attached."
	e.ReceivedOn = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	e.Author = model.Identity{Name: "Ann", Address: "ann@example.com"}
	e.Sender = e.Author
	e.To = []model.Identity{{Address: "bob@example.com"}}
	e.AddAttachment("report.pdf", []byte("%PDF"), "application/pdf")
	return e
}

func TestFilter_AllowsEmail(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want bool
	}{
		{name: "no filters", opts: Options{}, want: true},
		{name: "include subject", opts: Options{IncludeHeader: []string{"(?m)^Subject: Quarterly"}}, want: true},
		{name: "include sender domain", opts: Options{IncludeHeader: []string{"From: .*@example\\.com"}}, want: true},
		{name: "include attachment name", opts: Options{IncludeHeader: []string{"(?m)^Attachment: .*\\.pdf$"}}, want: true},
		{name: "include misses", opts: Options{IncludeHeader: []string{"Subject: Invoice"}}, want: false},
		{name: "include body", opts: Options{IncludeBody: []string{"report"}}, want: true},
		{name: "exclude recipient", opts: Options{ExcludeHeader: []string{"To: bob@"}}, want: false},
		{name: "exclude body misses", opts: Options{ExcludeBody: []string{"unsubscribe"}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := f.AllowsEmail(sampleEmail()); got != tt.want {
				t.Errorf("AllowsEmail() = %v, want %v\n%s", got, tt.want, HeaderText(sampleEmail()))
			}
		})
	}
}

func TestHeaderText(t *testing.T) {
	want := "Date: Fri, 01 Mar 2024 09:30:00 +0000\n" +
		"Subject: Quarterly numbers\n" +
		"From: Ann <ann@example.com>\n" +
		"Sender: Ann <ann@example.com>\n" +
		"To: bob@example.com\n" +
		"Attachment: report.pdf\n"
	if got := HeaderText(sampleEmail()); got != want {
		t.Errorf("HeaderText() = %q, want %q", got, want)
	}

	if got := HeaderText(model.NewEmail()); got != "" {
		t.Errorf("HeaderText(empty) = %q, want empty", got)
	}
}

func TestFilter_GetStats(t *testing.T) {
	f, err := New(Options{ExcludeHeader: []string{"spam", "promo"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	f.Allows("Subject: spam", "")
	f.Allows("Subject: more spam", "")
	f.Allows("Subject: promo", "")
	f.Allows("Subject: hello", "")

	s := f.GetStats()
	if len(s.ExcludeHeaderPatterns) != 2 {
		t.Fatalf("ExcludeHeaderPatterns = %v", s.ExcludeHeaderPatterns)
	}
	if s.ExcludeHeaderHits["spam"] != 2 || s.ExcludeHeaderHits["promo"] != 1 {
		t.Errorf("ExcludeHeaderHits = %v", s.ExcludeHeaderHits)
	}
	if len(s.IncludeHeaderPatterns) != 0 || len(s.IncludeBodyHits) != 0 {
		t.Errorf("include stats = %+v", s)
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeBody: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}
