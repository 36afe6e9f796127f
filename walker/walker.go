// Package walker expands input paths into candidate message files.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dhcgn/mail-normalize/model"
)

var ErrNoInputs = errors.New("no input paths")

// Walker emits one candidate per regular file below its inputs, in lexical
// order per input.
type Walker struct {
	inputs []string
	logger *slog.Logger
}

func New(inputs []string, logger *slog.Logger) (*Walker, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{inputs: inputs, logger: logger}, nil
}

// Stream sends candidates to out. A missing input path stops the walk;
// errors below a directory are forwarded as candidates carrying Err.
func (w *Walker) Stream(ctx context.Context, out chan<- model.Candidate) error {
	for _, input := range w.inputs {
		info, err := os.Stat(input)
		if err != nil {
			return fmt.Errorf("input %s: %w", input, err)
		}

		if !info.IsDir() {
			if err := emit(ctx, out, model.Candidate{Path: input, Explicit: true}); err != nil {
				return err
			}
			continue
		}

		w.logger.Debug("walking directory", "path", input)
		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() && path != input {
					w.logger.Warn("skipping unreadable directory", "path", path, "err", err)
					return emitSkipDir(ctx, out, model.Candidate{Path: path, Err: err})
				}
				return emit(ctx, out, model.Candidate{Path: path, Err: err})
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return emit(ctx, out, model.Candidate{Path: path})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Collect walks the inputs without a pipeline and returns the sorted paths
// of every regular file found.
func (w *Walker) Collect(ctx context.Context) ([]string, error) {
	out := make(chan model.Candidate)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		errCh <- w.Stream(ctx, out)
	}()

	var paths []string
	for c := range out {
		if c.Err == nil {
			paths = append(paths, c.Path)
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func emit(ctx context.Context, out chan<- model.Candidate, c model.Candidate) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- c:
		return nil
	}
}

func emitSkipDir(ctx context.Context, out chan<- model.Candidate, c model.Candidate) error {
	if err := emit(ctx, out, c); err != nil {
		return err
	}
	return filepath.SkipDir
}

// Pipeline is the part of the runner a Producer feeds.
type Pipeline interface {
	AddStage(name string, fn func(context.Context) error)
	CandidateWriter() chan<- model.Candidate
	CloseCandidates()
}

// Producer registers the walker as the first pipeline stage.
type Producer struct {
	walker   *Walker
	pipeline Pipeline
}

func NewProducer(inputs []string, p Pipeline, logger *slog.Logger) (*Producer, error) {
	w, err := New(inputs, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{walker: w, pipeline: p}
	p.AddStage("walk", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.pipeline.CloseCandidates()
	return p.walker.Stream(ctx, p.pipeline.CandidateWriter())
}
