// Matter Gateway - virtual smart-home device gateway
//
// This is the main entry point for the gateway. It hosts an inventory of
// emulated devices, persists their state, fans every change out to
// WebSocket, MQTT and telemetry subscribers, and keeps a Larnitech
// controller in sync when one is configured.
//
// Usage:
//
//	gateway serve --config configs/config.yaml
//	gateway state
//	gateway token --subject dashboard --ttl 12h
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/SaiMyBB/Matter-Gateway/internal/auth"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options holds the command-line flags shared by the subcommands.
type options struct {
	configPath string
	ephemeral  bool
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root without a
// subcommand serves.
func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Virtual smart-home device gateway",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	serve.Flags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep device state in memory only")
	root.Flags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep device state in memory only")

	state := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted device state as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printState(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	var (
		subject string
		ttl     time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the REST and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return issueToken(opts, subject, ttl, cmd.OutOrStdout())
		},
	}
	token.Flags().StringVar(&subject, "subject", "cli", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")

	root.AddCommand(serve, state, token)
	return root
}

// loadConfig reads .env, then the configuration file.
//
// The path comes from --config, then GATEWAY_CONFIG, then the default
// location. A missing file is only an error when it was named explicitly;
// otherwise the built-in defaults apply.
//
// Parameters:
//   - opts: Command-line options
//
// Returns:
//   - *config.Config: Loaded and validated configuration
//   - string: The file actually read, or "" when running on defaults
//   - error: If the file cannot be read or the result is invalid
func loadConfig(opts *options) (*config.Config, string, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load() //nolint:errcheck // optional file

	path, explicit := opts.configPath, opts.configPath != ""
	if !explicit {
		if env := os.Getenv("GATEWAY_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if opts.ephemeral {
		cfg.Persistence.Type = "memory"
	}
	return cfg, path, nil
}
