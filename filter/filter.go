package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/mail-normalize/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Stats reports how often each pattern matched, keyed by pattern source.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeBodyPatterns   []string
	ExcludeHeaderPatterns []string
	ExcludeBodyPatterns   []string
	IncludeHeaderHits     map[string]int
	IncludeBodyHits       map[string]int
	ExcludeHeaderHits     map[string]int
	ExcludeBodyHits       map[string]int
}

// Filter holds compiled regex patterns for filtering decoded records.
// It is safe for concurrent use.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool

	mu   sync.Mutex
	hits map[*regexp.Regexp]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
		hits:           make(map[*regexp.Regexp]int),
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the header and body text pass the filter criteria.
func (f *Filter) Allows(header, body string) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = header
	}
	if f.needBodyText {
		bodyText = body
	}

	if f.includeMode {
		headerMatched := f.matchAny(f.includeHeader, headerText)
		bodyMatched := f.matchAny(f.includeBody, bodyText)
		return headerMatched || bodyMatched
	}

	if f.excludeMode {
		headerMatched := f.matchAny(f.excludeHeader, headerText)
		bodyMatched := f.matchAny(f.excludeBody, bodyText)
		if headerMatched || bodyMatched {
			return false
		}
	}

	return true
}

// AllowsEmail applies the filter to a decoded record. Header patterns see
// the record rendered as "Name: value" lines.
func (f *Filter) AllowsEmail(e model.Email) bool {
	if !f.Active() {
		return true
	}
	var header string
	if f.needHeaderText {
		header = HeaderText(e)
	}
	return f.Allows(header, e.Body)
}

// HeaderText renders the header fields of a decoded record, one per line.
func HeaderText(e model.Email) string {
	var sb strings.Builder
	line := func(key, value string) {
		if value == "" {
			return
		}
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	if !e.ReceivedOn.IsZero() {
		line("Date", e.ReceivedOn.Format(time.RFC1123Z))
	}
	line("Subject", e.Subject)
	line("From", e.Author.String())
	line("Sender", e.Sender.String())
	line("To", model.JoinIdentities(e.To))
	line("Cc", model.JoinIdentities(e.Cc))
	for _, name := range e.AttachmentNames() {
		line("Attachment", name)
	}
	return sb.String()
}

// GetStats returns a copy of the per-pattern hit counters.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Stats{}
	s.IncludeHeaderPatterns, s.IncludeHeaderHits = f.snapshot(f.includeHeader)
	s.IncludeBodyPatterns, s.IncludeBodyHits = f.snapshot(f.includeBody)
	s.ExcludeHeaderPatterns, s.ExcludeHeaderHits = f.snapshot(f.excludeHeader)
	s.ExcludeBodyPatterns, s.ExcludeBodyHits = f.snapshot(f.excludeBody)
	return s
}

func (f *Filter) snapshot(patterns []*regexp.Regexp) ([]string, map[string]int) {
	sources := make([]string, 0, len(patterns))
	hits := make(map[string]int, len(patterns))
	for _, re := range patterns {
		sources = append(sources, re.String())
		hits[re.String()] += f.hits[re]
	}
	return sources, hits
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// matchAny counts the first matching pattern only.
func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			f.mu.Lock()
			f.hits[re]++
			f.mu.Unlock()
			return true
		}
	}
	return false
}
