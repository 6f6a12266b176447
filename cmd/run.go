package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mapharness/internal/config"
	"github.com/xkilldash9x/mapharness/internal/observability"
	"github.com/xkilldash9x/mapharness/internal/scenario"
	"github.com/xkilldash9x/mapharness/internal/suite"
)

// newLauncher is swapped out in tests.
var newLauncher = suite.NewLauncher

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [scenarios...]",
		Short: "Run scenarios against the configured application",
		Long: `Run the named scenarios, or every scenario when none is named.
--tags narrows the selection to scenarios carrying any of the given tags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			if err := applyRunFlagOverrides(cmd, cfg, args); err != nil {
				return err
			}

			launcher, err := newLauncher(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			manager := suite.NewManager(launcher, cfg, logger)
			defer func() {
				if err := manager.ShutdownTimeout(); err != nil {
					logger.Warn("Browser shutdown was not clean.", zap.Error(err))
				}
			}()

			runner, err := scenario.NewRunner(cfg, logger, manager)
			if err != nil {
				return err
			}
			rep, err := runner.Run(ctx)
			if err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("format")
			if err := writeReport(cmd.OutOrStdout(), rep, format); err != nil {
				return err
			}
			if failed := rep.Count(scenario.StatusFailed); failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(rep.Results))
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		},
	}

	runCmd.Flags().Bool("shared-session", false, "Hand one browser page to every scenario in turn")
	runCmd.Flags().String("driver", "", "Browser driver: cdp or playwright (overrides browser.driver)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window (overrides browser.headless)")
	runCmd.Flags().StringSlice("tags", nil, "Only run scenarios carrying any of these tags")
	runCmd.Flags().Bool("fail-fast", false, "Skip the remaining scenarios after the first failure")
	runCmd.Flags().StringP("format", "f", formatText, "Report format: text or json")
	return runCmd
}

// applyRunFlagOverrides lets explicitly set flags win over file and
// environment configuration.
func applyRunFlagOverrides(cmd *cobra.Command, cfg config.Interface, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("shared-session") {
		shared, _ := flags.GetBool("shared-session")
		cfg.SetSessionShared(shared)
	}
	if flags.Changed("driver") {
		driver, _ := flags.GetString("driver")
		switch driver {
		case config.DriverCDP, config.DriverPlaywright:
			cfg.SetBrowserDriver(driver)
		default:
			return fmt.Errorf("invalid --driver %q: want %q or %q", driver, config.DriverCDP, config.DriverPlaywright)
		}
	}
	if flags.Changed("headless") {
		headless, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(headless)
	}

	rc := cfg.Run()
	rc.Scenarios = args
	rc.Tags, _ = flags.GetStringSlice("tags")
	rc.FailFast, _ = flags.GetBool("fail-fast")
	cfg.SetRunConfig(rc)
	return nil
}
