package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageWalk   Stage = "walk"
	StageDecode Stage = "decode"
	StageSink   Stage = "sink"
)

type EventType string

const (
	EventTypeScanned     EventType = "scanned"
	EventTypeUnsupported EventType = "unsupported"
	EventTypeDuplicate   EventType = "duplicate"
	EventTypeSkipped     EventType = "skipped"
	EventTypeFiltered    EventType = "filtered"
	EventTypeWritten     EventType = "written"
	EventTypeDryRun      EventType = "dry_run"
	EventTypeError       EventType = "error"
)

type Event struct {
	Stage  Stage
	Type   EventType
	Path   string
	Format string
	Err    error
	Detail string
}

type Summary struct {
	Scanned     int
	Unsupported int
	Duplicates  int
	Skipped     int
	Filtered    int
	Written     int
	DryRun      int
	Errors      int
	ByFormat    map[string]int
	LastError   error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"unsupported", s.Unsupported,
		"duplicates", s.Duplicates,
		"skipped", s.Skipped,
		"filtered", s.Filtered,
		"written", s.Written,
		"dryRun", s.DryRun,
		"errors", s.Errors,
	}
	for _, format := range sortedKeys(s.ByFormat) {
		attrs = append(attrs, "format"+format, s.ByFormat[format])
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{ByFormat: map[string]int{}}}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary := c.summary
	summary.ByFormat = make(map[string]int, len(c.summary.ByFormat))
	for k, v := range c.summary.ByFormat {
		summary.ByFormat[k] = v
	}
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeUnsupported:
		c.summary.Unsupported++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeWritten:
		c.summary.Written++
		if evt.Format != "" {
			c.summary.ByFormat[evt.Format]++
		}
	case EventTypeDryRun:
		c.summary.DryRun++
		if evt.Format != "" {
			c.summary.ByFormat[evt.Format]++
		}
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
