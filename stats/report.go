package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dhcgn/mail-normalize/model"
)

// Categories tracked by Counter, in report order.
var Categories = []string{"From", "To", "Cc", "Subject", "Attachment-Type", "Format"}

// Counter tallies field values of decoded records. It satisfies the
// pipeline sink interface so it can be attached to a runner.
type Counter struct {
	mu     sync.Mutex
	counts map[string]map[string]int
	total  int
}

func NewCounter() *Counter {
	counts := make(map[string]map[string]int, len(Categories))
	for _, c := range Categories {
		counts[c] = make(map[string]int)
	}
	return &Counter{counts: counts}
}

func (c *Counter) Name() string {
	return "counter"
}

func (c *Counter) Write(_ context.Context, rec model.Record) error {
	c.Observe(rec)
	return nil
}

func (c *Counter) Close() error {
	return nil
}

func (c *Counter) Observe(rec model.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	e := rec.Email
	c.add("From", e.Author.Address)
	for _, id := range e.To {
		c.add("To", id.Address)
	}
	for _, id := range e.Cc {
		c.add("Cc", id.Address)
	}
	c.add("Subject", e.Subject)
	for _, ct := range e.AttachmentTypes() {
		c.add("Attachment-Type", ct)
	}
	c.add("Format", rec.Format)
}

func (c *Counter) add(category, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	c.counts[category][strings.ToLower(value)]++
}

// Total is the number of observed records.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Counts returns a copy of the tallies of one category.
func (c *Counter) Counts(category string) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts[category]))
	for k, v := range c.counts[category] {
		out[k] = v
	}
	return out
}

type Pair struct {
	Key   string
	Value int
}

// Top returns the limit most frequent entries of m, ties broken by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

// WriteCSVReports writes one report_<category>.csv per category into dir.
func (c *Counter) WriteCSVReports(dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	for _, category := range Categories {
		path := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeCategory(category)))
		if err := writeCSV(path, Top(c.Counts(category), limit)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func writeCSV(path string, pairs []Pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeCategory(category string) string {
	name := strings.ToLower(category)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
