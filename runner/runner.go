package runner

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/dhcgn/mail-normalize/adapter"
	"github.com/dhcgn/mail-normalize/config"
	"github.com/dhcgn/mail-normalize/filter"
	"github.com/dhcgn/mail-normalize/model"
	"github.com/dhcgn/mail-normalize/sink"
	"github.com/dhcgn/mail-normalize/state"
	"github.com/dhcgn/mail-normalize/stats"
)

type StageFunc func(context.Context) error

type stage struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name string
	fn   func(context.Context, <-chan stats.Event) error
}

// Runner wires a producer of candidate files to the decode workers and the
// sinks. Stages and subscribers are registered first and launched by Start.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	candidates chan model.Candidate
	records    chan model.Record
	events     chan stats.Event

	tracker state.Tracker
	filter  *filter.Filter
	sinks   []sink.Sink

	stages      []stage
	subscribers []subscriber

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeCandidatesOnce sync.Once
	closeRecordsOnce    sync.Once
	closeEventsOnce     sync.Once
	since               time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	tracker, err := state.New(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("state tracker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		candidates: make(chan model.Candidate, 64),
		records:    make(chan model.Record, 32),
		events:     make(chan stats.Event, 128),
		tracker:    tracker,
		filter:     f,
	}

	r.AddStage("decode", r.decode)
	r.AddStage("sink", r.sink)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

func (r *Runner) CandidateWriter() chan<- model.Candidate {
	return r.candidates
}

func (r *Runner) CloseCandidates() {
	r.closeCandidatesOnce.Do(func() {
		close(r.candidates)
	})
}

// AddSink appends an output. Records reach sinks in registration order.
func (r *Runner) AddSink(s sink.Sink) {
	r.sinks = append(r.sinks, s)
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers fn to receive every event. Each subscriber reads
// its own channel.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers = append(r.subscribers, subscriber{name: name, fn: fn})
}

func (r *Runner) AddStage(name string, fn func(context.Context) error) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// Start runs all stages and blocks until they finish. It returns the first
// stage error.
func (r *Runner) Start() error {
	r.since = time.Now()

	dispatched := r.startSubscribers()

	for _, st := range r.stages {
		r.workWG.Add(1)
		go func(st stage) {
			defer r.workWG.Done()
			if err := st.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", st.name, err))
			}
		}(st)
	}

	r.workWG.Wait()
	r.closeEvents()
	<-dispatched
	r.statsWG.Wait()

	if err := r.tracker.Close(); err != nil {
		r.fail(fmt.Errorf("state tracker: %w", err))
	}
	r.cancel()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration, "tracked", r.tracker.Snapshot().Processed)
	return nil
}

func (r *Runner) startSubscribers() <-chan struct{} {
	outs := make([]chan stats.Event, len(r.subscribers))
	for i, sub := range r.subscribers {
		ch := make(chan stats.Event, 128)
		outs[i] = ch
		r.statsWG.Add(1)
		go func(sub subscriber) {
			defer r.statsWG.Done()
			if err := sub.fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stats: %w", sub.name, err))
			}
		}(sub)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			for _, ch := range outs {
				close(ch)
			}
		}()
		for evt := range r.events {
			for _, ch := range outs {
				select {
				case ch <- evt:
				case <-r.ctx.Done():
				}
			}
		}
	}()
	return done
}

func (r *Runner) decode(ctx context.Context) error {
	defer r.closeRecords()

	pool := workerpool.New(r.cfg.Workers)
	defer pool.StopWait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-r.candidates:
			if !ok {
				return nil
			}
			pool.Submit(func() {
				r.decodeCandidate(ctx, c)
			})
		}
	}
}

// decodeCandidate turns one file into a record. Content problems become
// events; they never fail the pipeline.
func (r *Runner) decodeCandidate(ctx context.Context, c model.Candidate) {
	if ctx.Err() != nil {
		return
	}
	if c.Err != nil {
		r.logger.Warn("walk error", "path", c.Path, "err", c.Err)
		r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeError, Path: c.Path, Err: c.Err})
		return
	}

	format := filepath.Ext(c.Path)
	r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeScanned, Path: c.Path, Format: format})

	file, err := os.Open(c.Path)
	if err != nil {
		r.logger.Warn("open failed", "path", c.Path, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeError, Path: c.Path, Err: err})
		return
	}
	defer file.Close()

	dec, err := adapter.New(file, r.logger)
	if err != nil {
		level := slog.LevelDebug
		if c.Explicit {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "unsupported format", "path", c.Path, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeUnsupported, Path: c.Path, Format: format, Err: err})
		return
	}

	hash, err := hashFile(file)
	if err != nil {
		r.logger.Warn("hash failed", "path", c.Path, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeError, Path: c.Path, Err: err})
		return
	}
	if !r.tracker.Claim(hash) {
		r.logger.Debug("duplicate content", "path", c.Path, "hash", hash)
		r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeDuplicate, Path: c.Path, Format: format})
		return
	}

	email, ok := dec.Decode(r.cfg.Attachments)
	if !ok {
		r.logger.Debug("file skipped", "path", c.Path)
		r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeSkipped, Path: c.Path, Format: format})
		return
	}

	if !r.filter.AllowsEmail(email) {
		r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeFiltered, Path: c.Path, Format: format})
		return
	}

	rec := model.Record{Path: c.Path, Hash: hash, Format: format, Email: email}
	select {
	case <-ctx.Done():
	case r.records <- rec:
	}
}

func (r *Runner) sink(ctx context.Context) (err error) {
	defer func() {
		for _, s := range r.sinks {
			if cerr := s.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s sink: %w", s.Name(), cerr)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-r.records:
			if !ok {
				return nil
			}

			if r.cfg.DryRun {
				r.logger.Debug("dry-run decoded", "path", rec.Path, "subject", rec.Email.Subject)
				r.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeDryRun, Path: rec.Path, Format: rec.Format})
				continue
			}

			for _, s := range r.sinks {
				if err := s.Write(ctx, rec); err != nil {
					r.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeError, Path: rec.Path, Err: err})
					return fmt.Errorf("%s sink: %w", s.Name(), err)
				}
			}
			if err := r.tracker.MarkProcessed(rec.Hash, rec.Path); err != nil {
				return fmt.Errorf("mark processed: %w", err)
			}
			r.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeWritten, Path: rec.Path, Format: rec.Format})
		}
	}
}

// hashFile returns the base64 SHA-256 of the file and rewinds it.
func hashFile(file *os.File) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func (r *Runner) closeRecords() {
	r.closeRecordsOnce.Do(func() {
		close(r.records)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
