package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"bilancio/internal/backend"
	"bilancio/internal/config"
	"bilancio/internal/log"
)

// NewRootCommand builds the bilancioctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bilancioctl",
		Short: "Operate the bilancio ledger from the command line",
		Long: `bilancioctl runs ledger and scheduler operations directly against the
configured store. Settings come from the same environment variables and
optional CONFIG_FILE as the server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("json", false, "Print results as JSON")

	root.AddCommand(
		newPreviewCmd(),
		newBalanceCmd(),
		newVerifyCmd(),
		newPostCmd(),
		newSkipCmd(),
		newDueCmd(),
		newProcessCmd(),
		newMigrateCmd(),
	)
	return root
}

// Execute runs bilancioctl with os.Args.
func Execute() error {
	LoadEnvFile()
	return NewRootCommand().Execute()
}

// withBackend loads configuration, opens the backend for the duration of fn
// and closes it afterwards. Logs go to stderr so stdout stays parseable.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, be *backend.BackendResult) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	logger := commandLogger(cmd, cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	be, err := InitBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	}()
	return fn(ctx, be)
}

func commandLogger(cmd *cobra.Command, cfg *config.Config) *log.Logger {
	lc := log.DefaultConfig()
	lc.Component = log.ComponentCLI
	lc.Output = cmd.ErrOrStderr()
	lc.Level = log.ParseLevel("warn")
	if cfg != nil && cfg.LogLevel == "debug" {
		lc.Level = log.ParseLevel(cfg.LogLevel)
	}
	return log.New(lc)
}

// render prints v as JSON when --json is set, otherwise through text.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return nil
	}
	text(out)
	return nil
}
