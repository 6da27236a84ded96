package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/community-connect/pkg/core/services"
)

// SendDigestsCmd creates the sendDigests command
func SendDigestsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sendDigests",
		Short: "Send rolled-up chat digests to recipients on 5min and 30min preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runDigestSweep(app)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Digest sweep complete\n\n")
			for _, s := range result.Sent {
				fmt.Printf("  ✓ %s (%d messages on %s)\n", s.Email, s.Messages, s.OpportunityID)
			}
			for _, f := range result.Failed {
				fmt.Printf("  ✗ %s: %s\n", f.Email, f.Error)
			}
			fmt.Printf("\nSent: %d  Failed: %d  Waiting for window: %d\n\n", len(result.Sent), len(result.Failed), result.Pending)
			return nil
		},
	}
}

// PruneLedgerCmd creates the pruneLedger command
func PruneLedgerCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pruneLedger",
		Short: "Delete notification ledger entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Cfg.Notifications.LedgerBackend == "redis" {
				fmt.Println("\nRedis ledger entries expire on their own; nothing to prune")
				return nil
			}

			deleted, err := runLedgerPrune(app)
			if err != nil {
				return err
			}
			fmt.Printf("\n✓ Pruned %d ledger entries\n\n", deleted)
			return nil
		},
	}
}

func runDigestSweep(app *AppContext) (*services.DigestResult, error) {
	database, err := app.Database()
	if err != nil {
		return nil, err
	}
	ledger, err := app.Ledger()
	if err != nil {
		return nil, err
	}
	sender, err := app.Sender()
	if err != nil {
		return nil, err
	}

	return services.SendDigests(app.Ctx, database, ledger, sender, app.Cfg.Email.Sender, app.Logger,
		app.Cfg.Notifications.DigestLookback, time.Now())
}

func runLedgerPrune(app *AppContext) (int, error) {
	database, err := app.Database()
	if err != nil {
		return 0, err
	}
	return services.PruneLedger(app.Ctx, database, app.Logger, app.Cfg.Notifications.LedgerRetention, time.Now())
}
