package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/config"
	"github.com/ajitpratap0/mailtap/pkg/logger"
	"github.com/ajitpratap0/mailtap/pkg/mailchimp"
	"github.com/ajitpratap0/mailtap/pkg/sink"
	"github.com/ajitpratap0/mailtap/pkg/tap"
	"github.com/ajitpratap0/mailtap/pkg/tap/state"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "mailtap",
		Short: "Mailtap - incremental Mailchimp extraction tap",
		Long: `Mailtap extracts lists, campaigns, members and email activity from a
Mailchimp account as JSON-line messages, resuming from durable state across runs.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Mailtap v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile, stateFile, stateOutFile, logLevel string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full extraction",
		Long: `Run a full extraction against the configured account. Records go to
stdout; logs go to stderr. State resumes from --state when given and is
additionally persisted to --state-out between flushes.

Example:
  mailtap run --config config.json --state state.json --state-out state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtraction(cmd, configFile, stateFile, stateOutFile, logLevel)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "tap configuration file (required)")
	runCmd.Flags().StringVar(&stateFile, "state", "", "state snapshot to resume from")
	runCmd.Flags().StringVar(&stateOutFile, "state-out", "", "file to persist state snapshots to")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runExtraction(cmd *cobra.Command, configFile, stateFile, stateOutFile, logLevel string) error {
	if err := logger.Init(logger.Config{
		Level:    logLevel,
		Encoding: "json",
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := mailchimp.New(cfg, logger.Get())
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	messages := sink.NewMessageWriter(os.Stdout)
	defer func() { _ = messages.Flush() }()

	var stateWriter state.Writer = messages
	if stateOutFile != "" {
		stateWriter = state.MultiWriter(messages, sink.NewFileStateWriter(stateOutFile))
	}

	st, err := loadState(stateFile, stateWriter)
	if err != nil {
		return err
	}

	// Stream failures are logged and counted but do not fail the process:
	// the state emitted so far is valid and the next run resumes.
	failed := tap.New(client, cfg, st, messages, nil).Run(cmd.Context())
	if failed > 0 {
		logger.Warn("run finished with failed streams", zap.Int("failed", failed))
	}
	return nil
}

func loadState(stateFile string, w state.Writer) (*state.SyncState, error) {
	if stateFile == "" {
		return state.New(w), nil
	}
	data, err := os.ReadFile(stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return state.New(w), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	st, err := state.Load(data, w)
	if err != nil {
		return nil, fmt.Errorf("failed to load state file: %w", err)
	}
	return st, nil
}
