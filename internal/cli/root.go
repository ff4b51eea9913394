// Package cli implements the honeypotctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/scam-honeypot/internal/app"
	"github.com/ashureev/scam-honeypot/internal/config"
	"github.com/ashureev/scam-honeypot/internal/engine"
)

type options struct {
	dbPath  string
	format  string
	verbose bool
}

// NewRootCmd builds the top-level command.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "honeypotctl",
		Short:         "Operate scam honeypot sessions",
		Long:          "Inspect, finalize, reset and sweep honeypot sessions stored in the server's SQLite database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", "", "Database path (default: $DB_PATH or ./data/honeypot.db)")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "json", "Output format: json or text")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log component activity to stderr")

	root.AddCommand(newSessionCmd(opts), newSweepCmd(opts))
	return root
}

// Execute runs the CLI and returns the process exit code. A .env file in the
// working directory is loaded first, as the server does.
func Execute(ctx context.Context) int {
	_ = godotenv.Load()
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (o *options) config() *config.Config {
	cfg := config.FromEnv()
	// Memory stores are private to the server process.
	cfg.StoreBackend = config.BackendSQLite
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	return cfg
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openEngine builds an engine over the configured store. The returned func
// releases everything. It is safe to run beside a live server on the same
// database: every session write is conditional on the version it read, so a
// write that lost a race fails with domain.ErrVersionConflict instead of
// overwriting the other process.
func (o *options) openEngine(cmd *cobra.Command) (*engine.Engine, func(), error) {
	logger := o.logger(cmd)
	cfg := o.config()

	components, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(components.Repo, components.Collaborators, components.Submitter, engine.Options{
		CollaboratorTimeout: cfg.Gemini.Timeout,
		SubmitTimeout:       cfg.Evaluation.Timeout,
		Logger:              logger,
	})
	if err != nil {
		components.Close()
		return nil, nil, err
	}
	return eng, func() {
		eng.Close()
		components.Close()
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
