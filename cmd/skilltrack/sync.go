package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/skilltrack/internal/reconcile"
	"github.com/spf13/cobra"
)

var syncInteractive bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local totals with the Drive file",
	Long: `Merge the local daily totals with the file in the Drive application data
folder and upload the result. With --interactive, a browser sign-in is started
when no stored credential works.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVarP(&syncInteractive, "interactive", "i", false, "Sign in through the browser if needed")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, store, logger, err := loadForCommand()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reconciler := newReconciler(cfg, store, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := reconciler.Reconcile(ctx, syncInteractive)
	if errors.Is(err, reconcile.ErrLoginRequired) {
		return fmt.Errorf("not signed in, run again with --interactive")
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if result.Skipped {
		_, _ = fmt.Fprintln(os.Stdout, "No stored credential, sync skipped. Use --interactive to sign in.")
		return nil
	}

	action := "updated"
	if result.Created {
		action = "created"
	}
	_, _ = fmt.Fprintf(os.Stdout, "Synced %d days (local %d, remote %d), remote file %s %s\n",
		result.MergedDays, result.LocalDays, result.RemoteDays, result.FileID, action)
	return nil
}
