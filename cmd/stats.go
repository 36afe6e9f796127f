package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-normalize/config"
	"github.com/dhcgn/mail-normalize/filter"
	"github.com/dhcgn/mail-normalize/runner"
	"github.com/dhcgn/mail-normalize/stats"
	"github.com/dhcgn/mail-normalize/walker"
)

// csvLimit caps the rows of each CSV report.
const csvLimit = 1000

type statsOptions struct {
	reportDir string
	topN      int
	workers   int
}

// NewStatsCommand returns the "stats" subcommand, which decodes the inputs
// and reports the most frequent field values instead of writing records.
func NewStatsCommand(logger func() *slog.Logger) *cobra.Command {
	opts := &statsOptions{}
	cmd := &cobra.Command{
		Use:   "stats [files or directories...]",
		Short: "Analyse message files and show field statistics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := config.LoadFilters(cmd)
			if err != nil {
				return err
			}
			return runStats(cmd.OutOrStdout(), args, filters, opts, logger())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.IntVar(&opts.workers, "workers", 4, "Number of concurrent decode workers")
	config.RegisterFilterFlags(flags)
	return cmd
}

func runStats(out io.Writer, inputs []string, filters config.Config, opts *statsOptions, logger *slog.Logger) error {
	cfg := filters
	cfg.Inputs = inputs
	cfg.Workers = opts.workers
	cfg.Attachments = true

	fmt.Fprint(out, pterm.Info.Sprintfln("Analyzing %d input(s)", len(inputs)))

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	reporter := stats.NewReporter(r, logger)
	if _, err := walker.NewProducer(cfg.Inputs, r, logger); err != nil {
		return fmt.Errorf("walker.NewProducer: %w", err)
	}
	counter := stats.NewCounter()
	r.AddSink(counter)

	if err := r.Start(); err != nil {
		return err
	}

	summary := reporter.Summary()
	printCounts(out, summary, counter.Total())
	printFilterStats(out, r.Filter())
	for _, category := range stats.Categories {
		fmt.Fprintf(out, "Top %d %s:\n", opts.topN, category)
		stats.PrettyPrintTop(out, counter.Counts(category), opts.topN)
		fmt.Fprintln(out)
	}

	if err := counter.WriteCSVReports(opts.reportDir, csvLimit); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}
	fmt.Fprintf(out, "Reports saved to directory: %s\n", opts.reportDir)
	return nil
}

func printCounts(out io.Writer, summary stats.Summary, decoded int) {
	considered := decoded + summary.Filtered
	var filterPercent float64
	if considered > 0 {
		filterPercent = float64(summary.Filtered) / float64(considered) * 100
	}
	fmt.Fprintf(out, "Processed %d messages (skipped %d by filters, %.2f%%)\n", decoded, summary.Filtered, filterPercent)
	fmt.Fprintf(out, "Scanned %d files: %d unsupported, %d duplicates, %d undecodable\n\n",
		summary.Scanned, summary.Unsupported, summary.Duplicates, summary.Skipped)
}

func printFilterStats(out io.Writer, f *filter.Filter) {
	s := f.GetStats()
	groups := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Header Filters", s.IncludeHeaderPatterns, s.IncludeHeaderHits},
		{"Include Body Filters", s.IncludeBodyPatterns, s.IncludeBodyHits},
		{"Exclude Header Filters", s.ExcludeHeaderPatterns, s.ExcludeHeaderHits},
		{"Exclude Body Filters", s.ExcludeBodyPatterns, s.ExcludeBodyHits},
	}

	printed := false
	for _, g := range groups {
		if len(g.patterns) == 0 {
			continue
		}
		printed = true
		fmt.Fprintf(out, "%s:\n", g.title)
		printFilterHits(out, g.patterns, g.hits)
		fmt.Fprintln(out)
	}
	if printed {
		fmt.Fprintln(out, "---")
		fmt.Fprintln(out)
	}
}

func printFilterHits(out io.Writer, patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	// Sort by hit count descending, then by pattern
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Fprintf(out, "  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Fprintf(out, "  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
