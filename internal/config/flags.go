package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gauntlet",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Benchmark request flags
	flags.StringP("model", "m", "", "Model identifier to benchmark")
	flags.StringSlice("variants", nil, "Prompt variants to exercise (repeatable)")
	flags.StringSlice("task-types", nil, "Task types to draw from the library (repeatable)")
	flags.String("difficulty", "", "Task difficulty tier")
	flags.IntP("instances", "n", 0, "Number of task instances to run")
	flags.Float64("reliability", -1, "Tool success probability in [0,1]")
	flags.String("mode", "", "Rate-limiter mode: 'fixed' or 'adaptive'")
	flags.IntP("workers", "w", 0, "Worker-count override per shard (0 uses endpoint defaults)")

	// Session flags
	flags.Int("max-turns", 0, "Hard turn budget per session (0 uses default)")
	flags.Duration("api-timeout", 0, "Per-call API timeout (0 uses default)")
	flags.Duration("session-timeout", 0, "Per-session wall-clock budget (0 uses default)")

	// Collector / merger flags
	flags.String("results-dir", "", "Directory for flushed result artifacts")
	flags.Int("flush-size", 0, "Buffered results that force a flush (0 uses default)")
	flags.Duration("flush-interval", 0, "Interval that forces a flush (0 uses default)")
	flags.String("store", "", "Path of the shared statistics store")
	flags.Duration("scan-interval", 0, "Merger artifact scan interval (0 uses default)")
	flags.String("sqlite", "", "Optional SQLite path for the summary-only columnar export")
	flags.Bool("delete-merged", false, "Delete artifacts after merging instead of marking them")

	// Runner flags
	flags.Duration("stagger", 0, "Max random delay before a shard's first session")
	flags.Float64("launch-rate", 0, "Uniform session-launch pacing in sessions/sec (0=off)")
	flags.Duration("shard-deadline", 0, "Hard deadline for a shard (0=none)")

	// Limiter flags
	flags.String("state-dir", "", "Directory for shared rate-limiter state files")

	// Output flags
	flags.String("log-level", "", "Log level: debug, info, warn, or error")
	flags.Bool("json-output", false, "Emit JSON formatted summary")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.StringSlice("gate", nil, "Summary gate expression (repeatable, e.g. 'success_rate:full >= 0.8')")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Execution mode flags
	flags.String("shard-file", "", "Run a single shard from the given descriptor file")
	flags.Bool("merge-only", false, "Run only the merger loop against the artifact directory")
	flags.Bool("print-plan", false, "Print the shard plan and exit without running")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("model") {
		val, err := fs.GetString("model")
		if err != nil {
			return err
		}
		cfg.Request.Model = strings.TrimSpace(val)
	}
	if fs.Changed("variants") {
		val, err := fs.GetStringSlice("variants")
		if err != nil {
			return err
		}
		cfg.Request.PromptVariants = val
	}
	if fs.Changed("task-types") {
		val, err := fs.GetStringSlice("task-types")
		if err != nil {
			return err
		}
		cfg.Request.TaskTypes = val
	}
	if fs.Changed("difficulty") {
		val, err := fs.GetString("difficulty")
		if err != nil {
			return err
		}
		cfg.Request.Difficulty = strings.TrimSpace(val)
	}
	if fs.Changed("instances") {
		val, err := fs.GetInt("instances")
		if err != nil {
			return err
		}
		cfg.Request.Instances = val
	}
	if fs.Changed("reliability") {
		val, err := fs.GetFloat64("reliability")
		if err != nil {
			return err
		}
		cfg.Request.ToolReliability = val
	}
	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Request.Mode = ConcurrencyMode(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("workers") {
		val, err := fs.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Request.WorkerOverride = val
	}

	if fs.Changed("max-turns") {
		val, err := fs.GetInt("max-turns")
		if err != nil {
			return err
		}
		cfg.Session.MaxTurns = val
	}
	if fs.Changed("api-timeout") {
		val, err := fs.GetDuration("api-timeout")
		if err != nil {
			return err
		}
		cfg.Session.APITimeout = val
	}
	if fs.Changed("session-timeout") {
		val, err := fs.GetDuration("session-timeout")
		if err != nil {
			return err
		}
		cfg.Session.WallClock = val
	}

	if fs.Changed("results-dir") {
		val, err := fs.GetString("results-dir")
		if err != nil {
			return err
		}
		cfg.Collector.Dir = strings.TrimSpace(val)
	}
	if fs.Changed("flush-size") {
		val, err := fs.GetInt("flush-size")
		if err != nil {
			return err
		}
		cfg.Collector.FlushSize = val
	}
	if fs.Changed("flush-interval") {
		val, err := fs.GetDuration("flush-interval")
		if err != nil {
			return err
		}
		cfg.Collector.FlushInterval = val
	}
	if fs.Changed("store") {
		val, err := fs.GetString("store")
		if err != nil {
			return err
		}
		cfg.Merger.StorePath = strings.TrimSpace(val)
	}
	if fs.Changed("scan-interval") {
		val, err := fs.GetDuration("scan-interval")
		if err != nil {
			return err
		}
		cfg.Merger.ScanInterval = val
	}
	if fs.Changed("sqlite") {
		val, err := fs.GetString("sqlite")
		if err != nil {
			return err
		}
		cfg.Merger.SQLitePath = strings.TrimSpace(val)
	}
	if fs.Changed("delete-merged") {
		val, err := fs.GetBool("delete-merged")
		if err != nil {
			return err
		}
		cfg.Merger.DeleteMerged = val
	}

	if fs.Changed("stagger") {
		val, err := fs.GetDuration("stagger")
		if err != nil {
			return err
		}
		cfg.Runner.Stagger = val
	}
	if fs.Changed("launch-rate") {
		val, err := fs.GetFloat64("launch-rate")
		if err != nil {
			return err
		}
		cfg.Runner.LaunchRate = val
	}
	if fs.Changed("shard-deadline") {
		val, err := fs.GetDuration("shard-deadline")
		if err != nil {
			return err
		}
		cfg.Runner.ShardDeadline = val
	}

	if fs.Changed("state-dir") {
		val, err := fs.GetString("state-dir")
		if err != nil {
			return err
		}
		cfg.Limiter.StateDir = strings.TrimSpace(val)
	}

	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("gate") {
		val, err := fs.GetStringSlice("gate")
		if err != nil {
			return err
		}
		cfg.Gates = val
	}

	if fs.Changed("shard-file") {
		val, err := fs.GetString("shard-file")
		if err != nil {
			return err
		}
		cfg.ShardFile = strings.TrimSpace(val)
	}
	if fs.Changed("merge-only") {
		val, err := fs.GetBool("merge-only")
		if err != nil {
			return err
		}
		cfg.MergeOnly = val
	}
	if fs.Changed("print-plan") {
		val, err := fs.GetBool("print-plan")
		if err != nil {
			return err
		}
		cfg.PrintPlan = val
	}

	return nil
}
