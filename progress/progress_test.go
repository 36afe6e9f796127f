package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-normalize/stats"
)

type stream struct {
	names []string
	fns   []func(context.Context, <-chan stats.Event) error
}

func (s *stream) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

func events(evts ...stats.Event) <-chan stats.Event {
	ch := make(chan stats.Event, len(evts))
	for _, e := range evts {
		ch <- e
	}
	close(ch)
	return ch
}

func TestDisabledBarSubscribesNothing(t *testing.T) {
	var out bytes.Buffer
	bar := New(3, false, &out)
	s := &stream{}
	NewReporter(s, bar, &out)

	bar.Update(stats.Event{Type: stats.EventTypeScanned})
	if len(s.names) != 0 || bar.Current() != 0 || out.Len() != 0 {
		t.Errorf("disabled bar: subscriptions %v, current %d, output %q", s.names, bar.Current(), out.String())
	}
}

func TestBarAndSummary(t *testing.T) {
	pterm.DisableColor()
	defer pterm.EnableColor()

	var out bytes.Buffer
	bar := New(2, true, &out)
	s := &stream{}
	reporter := NewReporter(s, bar, &out)
	if len(s.fns) != 2 {
		t.Fatalf("subscriptions = %v, want bar and stats", s.names)
	}

	feed := []stats.Event{
		{Type: stats.EventTypeScanned, Path: "/mail/a.eml"},
		{Type: stats.EventTypeWritten, Path: "/mail/a.eml", Format: ".eml"},
		{Type: stats.EventTypeScanned, Path: "/mail/b.msg"},
		{Type: stats.EventTypeError, Path: "/mail/b.msg", Err: errors.New("disk gone")},
	}
	if err := s.fns[0](context.Background(), events(feed...)); err != nil {
		t.Fatalf("bar subscriber error = %v", err)
	}
	if err := s.fns[1](context.Background(), events(feed...)); err != nil {
		t.Fatalf("stats subscriber error = %v", err)
	}

	if bar.Current() != 2 {
		t.Errorf("Current() = %d, want 2", bar.Current())
	}
	if got := reporter.Summary(); got.Written != 1 || got.Errors != 1 {
		t.Errorf("Summary() = %+v", got)
	}
	text := out.String()
	for _, want := range []string{"Files to normalize: 2", "b.msg: disk gone", "Summary Statistics", "Written: 1", "Last error: disk gone"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestDescribe(t *testing.T) {
	if got := describe("/very/long/" + strings.Repeat("x", 40) + ".eml"); len(got) != 32 || !strings.HasSuffix(got, "...") {
		t.Errorf("describe() = %q", got)
	}
	if got := describe("/mail/a.eml"); strings.TrimSpace(got) != "a.eml" {
		t.Errorf("describe() = %q", got)
	}
}
