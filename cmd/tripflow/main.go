// tripflow - idempotent batch ingestion for NYC taxi-trip records.
// Loads monthly CSV archives into a canonical DuckDB table; any file can
// be re-run without creating duplicate rows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tripflow/tripflow/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	categoryFlag    string
	periodFlag      string
	inputFlag       string
	fromFlag        string
	toFlag          string
	sourceDirFlag   string
	baseURLFlag     string
	parallelismFlag int
	strictFlag      bool
	noProgressFlag  bool
	verbose         bool
)

var (
	log = logrus.New()
	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tripflow",
	Short: "tripflow - idempotent taxi-trip batch ingestion",
	Long: `tripflow loads monthly NYC taxi-trip CSV archives into a canonical,
deduplicated DuckDB table.

Every run is safe to repeat: rows are keyed by a fingerprint of their
natural key, and the merge inserts only rows whose fingerprint is not
already present. Re-running a month, overlapping files, or retrying a
failed load never creates duplicates.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		manager := config.NewManager()
		if err := manager.Load(); err != nil {
			return err
		}
		cfg = manager.Get()
		configureLogging(cfg)
		return nil
	},
}

func configureLogging(cfg *config.Config) {
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("interrupted, shutting down")
		cancel()
	}()

	return ctx, cancel
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statusCmd)
}
