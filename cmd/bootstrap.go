package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/observability"
	"github.com/xkilldash9x/mapharness/internal/provision"
	"github.com/xkilldash9x/mapharness/internal/workflow"
)

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Sign in once and save the session for later runs",
		Long: `Sign in with the configured credentials and save cookies and local
storage to session.storage_state_path. Scenarios that need a signed-in
session restore it instead of signing in again while its token is fresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			cred := cfg.Target().Credentials
			if cred.Email == "" || cred.Password == "" {
				return errors.New("credentials missing: set MAPHARNESS_EMAIL and MAPHARNESS_PASSWORD")
			}

			store, err := provision.NewSessionStore(cfg.Session(), logger)
			if err != nil {
				return err
			}
			launcher, err := newLauncher(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer func() {
				if cerr := launcher.Close(); cerr != nil {
					logger.Warn("Browser shutdown was not clean.", zap.Error(cerr))
				}
			}()

			page, err := launcher.NewPage(ctx)
			if err != nil {
				return fmt.Errorf("open page: %w", err)
			}
			if err := store.Bootstrap(ctx, workflow.NewEnv(page, cfg, logger), cred); err != nil {
				return err
			}
			cmd.Printf("Session saved to %s\n", store.Path())
			return nil
		},
	}
}
