package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass against the CRM",
	Long:  "Looks every local contact up in the CRM by remote id or email, merges the remote fields and commits the changes in one transaction.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
			cfg.Reconcile.Concurrency = c
		}
		if cmd.Flags().Changed("strict-email") {
			cfg.Reconcile.StrictEmailMatch, _ = cmd.Flags().GetBool("strict-email")
		}
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dir, err := initDirectory()
		if err != nil {
			return err
		}

		report, err := initEngine(st, dir).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}

		if done, err := writeStructured(os.Stdout, outputFormat, report); done {
			return err
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Int("concurrency", 0, "lookups in flight (default from config)")
	reconcileCmd.Flags().Bool("strict-email", false, "skip email matches whose first candidate has a different email")
	rootCmd.AddCommand(reconcileCmd)
}
