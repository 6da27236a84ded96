package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/services"
)

// CreateOpportunityCmd creates the createOpportunity command
func CreateOpportunityCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createOpportunity <form.json>",
		Short: "Create an opportunity (and its recurring family) from a JSON form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read form: %w", err)
			}
			var form services.OpportunityForm
			if err := json.Unmarshal(data, &form); err != nil {
				return fmt.Errorf("failed to parse form: %w", err)
			}

			horizon, _ := cmd.Flags().GetInt("horizon")
			if horizon == 0 {
				horizon = app.Cfg.Recurrence.HorizonMonths
			}

			database, err := app.Database()
			if err != nil {
				return err
			}

			result, err := services.CreateOpportunity(app.Ctx, database, app.Logger, horizon, form, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Opportunity created!\n\n")
			fmt.Printf("Title:   %s\n", result.Parent.Title)
			fmt.Printf("Parent:  %s\n", result.Parent.ID)
			if len(result.Children) > 0 {
				fmt.Printf("Dates (%d):\n", len(result.Children)+1)
				for i, o := range result.All() {
					fmt.Printf("  %2d. %s  %s\n", i+1, o.Date, o.ID)
				}
			} else {
				fmt.Printf("Date:    %s\n", result.Parent.Date)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().Int("horizon", 0, "Months of recurrence to generate (defaults to config)")
	return cmd
}

// DeleteOpportunityCmd creates the deleteOpportunity command
func DeleteOpportunityCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deleteOpportunity <opportunity_ref> <organization_id>",
		Short: "Delete an opportunity, or with --family every future member of its family",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := model.ParseRef(args[0])
			if err != nil {
				return err
			}
			family, _ := cmd.Flags().GetBool("family")

			database, err := app.Database()
			if err != nil {
				return err
			}

			deleted, err := services.PropagateDelete(app.Ctx, database, app.Logger, services.DeleteInput{
				Anchor:            ref,
				OrganizationID:    args[1],
				DeleteWholeFamily: family,
				Today:             time.Now(),
			})
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Deleted %d opportunities\n\n", deleted)
			return nil
		},
	}

	cmd.Flags().Bool("family", false, "Delete every family member dated today or later")
	return cmd
}
