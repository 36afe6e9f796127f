package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. MAILNORM_OUTPUT.
const EnvPrefix = "MAILNORM"

// Config captures all options required to run a normalization pass.
type Config struct {
	Inputs        []string
	Output        string
	Attachments   bool
	ExtractDir    string
	MboxOut       string
	Workers       int
	StateDir      string
	DryRun        bool
	LogLevel      string
	LogDir        string
	Progress      bool
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("config", "", "Optional config file (yaml, json or toml)")
	flags.StringP("output", "o", "-", "JSON lines output file, - for stdout")
	flags.Bool("attachments", true, "Read attachments and include their names and types")
	flags.String("extract-dir", "", "Write attachment payloads into this directory")
	flags.String("mbox-out", "", "Also write every decoded message into this mbox archive")
	flags.Int("workers", runtime.GOMAXPROCS(0), "Number of concurrent decode workers")
	flags.String("state-dir", "", "Directory for the processed-hash state file (empty keeps state in memory)")
	flags.Bool("dry-run", false, "Decode and report without writing any output or state")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs into a timestamped file in this directory")
	flags.Bool("progress", false, "Show a progress bar instead of per-file info logs")
	RegisterFilterFlags(flags)
	return cmd.MarkFlagFilename("config", "yaml", "yml", "json", "toml")
}

// RegisterFilterFlags attaches the include/exclude regex flags.
func RegisterFilterFlags(flags *pflag.FlagSet) {
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// newViper binds the command flags and MAILNORM_* variables. Flags set on
// the command line win over the environment, which wins over the config file.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// LoadConfig converts the parsed Cobra flags and positional args into a
// Config struct with validation.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return Config{}, err
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString("log-level")))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		Inputs:      cleanPaths(args),
		Output:      strings.TrimSpace(v.GetString("output")),
		Attachments: v.GetBool("attachments"),
		ExtractDir:  cleanPath(v.GetString("extract-dir")),
		MboxOut:     cleanPath(v.GetString("mbox-out")),
		Workers:     v.GetInt("workers"),
		StateDir:    cleanPath(v.GetString("state-dir")),
		DryRun:      v.GetBool("dry-run"),
		LogLevel:    logLevel,
		LogDir:      cleanPath(v.GetString("log-dir")),
		Progress:    v.GetBool("progress"),
	}
	if cfg.Output == "" {
		cfg.Output = "-"
	}

	if err := loadFilters(cmd.Flags(), v, &cfg); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFilters reads only the filter flags; used by subcommands.
func LoadFilters(cmd *cobra.Command) (Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := loadFilters(cmd.Flags(), v, &cfg); err != nil {
		return Config{}, err
	}
	if err := validateFilters(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFilters reads regex lists from the flags directly so patterns keep
// their commas; viper only supplies values from env or config file.
func loadFilters(flags *pflag.FlagSet, v *viper.Viper, cfg *Config) error {
	for _, f := range []struct {
		name string
		dst  *[]string
	}{
		{"include-header", &cfg.IncludeHeader},
		{"include-body", &cfg.IncludeBody},
		{"exclude-header", &cfg.ExcludeHeader},
		{"exclude-body", &cfg.ExcludeBody},
	} {
		values, err := flags.GetStringArray(f.name)
		if err != nil {
			return err
		}
		if !flags.Changed(f.name) && v.IsSet(f.name) {
			values = v.GetStringSlice(f.name)
		}
		*f.dst = values
	}
	return nil
}

func validateConfig(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("at least one input file or directory is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be at least 1")
	}
	if cfg.ExtractDir != "" && !cfg.Attachments {
		return fmt.Errorf("--extract-dir requires --attachments")
	}
	if err := validateFilters(cfg); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func validateFilters(cfg Config) error {
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	return nil
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = cleanPath(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
