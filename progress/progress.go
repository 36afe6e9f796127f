package progress

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"

	"github.com/dhcgn/mail-normalize/stats"
)

// Bar tracks scanned files against the number found by the walker.
type Bar struct {
	pb      *progressbar.ProgressBar
	out     io.Writer
	total   int
	current int
	errors  int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar writing to out. A disabled bar ignores events.
func New(total int, enabled bool, out io.Writer) *Bar {
	bar := &Bar{total: total, out: out, enabled: enabled}
	if !enabled {
		return bar
	}

	fmt.Fprint(out, pterm.Info.Sprintfln("Files to normalize: %d", total))
	bar.pb = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Normalizing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)
	return bar
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.current++
		b.pb.Describe(describe(evt.Path))
		_ = b.pb.Add(1)
	case stats.EventTypeError:
		b.errors++
		if evt.Err != nil {
			_ = b.pb.Clear()
			fmt.Fprint(b.out, pterm.Error.Sprintfln("%s: %v", evt.Path, evt.Err))
		}
	}
}

// Current returns how many scanned events the bar has seen.
func (b *Bar) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.pb.Finish()
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

func describe(path string) string {
	name := filepath.Base(path)
	if len(name) > 32 {
		name = name[:29] + "..."
	}
	return fmt.Sprintf("%-32s", name)
}

// Reporter prints the run summary once the event stream ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	out       io.Writer
	started   time.Time
}

// NewReporter subscribes the bar and a summary collector to stream. Nothing
// is subscribed when the bar is disabled.
func NewReporter(stream stats.EventStream, bar *Bar, out io.Writer) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		out:       out,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (r *Reporter) Summary() stats.Summary {
	return r.collector.Snapshot()
}

func (r *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	r.collector.Run(ctx, events)
	r.print(r.collector.Snapshot(), time.Since(r.started))
	return nil
}

func (r *Reporter) print(summary stats.Summary, duration time.Duration) {
	fmt.Fprintln(r.out)
	fmt.Fprint(r.out, pterm.DefaultSection.Sprintln("Summary Statistics"))
	lines := []struct {
		label string
		value any
	}{
		{"Duration", duration.Round(time.Millisecond)},
		{"Scanned", summary.Scanned},
		{"Written", summary.Written},
		{"Dry-run decoded", summary.DryRun},
		{"Unsupported", summary.Unsupported},
		{"Duplicates (skipped)", summary.Duplicates},
		{"Undecodable (skipped)", summary.Skipped},
		{"Filtered", summary.Filtered},
		{"Errors", summary.Errors},
	}
	for _, l := range lines {
		fmt.Fprint(r.out, pterm.Info.Sprintfln("%s: %v", l.label, l.value))
	}
	if summary.LastError != nil {
		fmt.Fprint(r.out, pterm.Error.Sprintfln("Last error: %v", summary.LastError))
	}
}
