package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/services"
)

// PostMessageCmd creates the postMessage command
func PostMessageCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postMessage <opportunity_ref> <text>",
		Short: "Post a chat message on an opportunity and notify participants",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := model.ParseRef(args[0])
			if err != nil {
				return err
			}
			senderEmail, _ := cmd.Flags().GetString("sender-email")
			senderName, _ := cmd.Flags().GetString("sender-name")
			senderID, _ := cmd.Flags().GetString("sender-id")
			senderTypeFlag, _ := cmd.Flags().GetString("sender-type")
			actingAdmin, _ := cmd.Flags().GetString("acting-admin")

			senderType, err := model.ParseSenderType(senderTypeFlag)
			if err != nil {
				return err
			}

			database, err := app.Database()
			if err != nil {
				return err
			}
			dispatcher, err := app.Dispatcher()
			if err != nil {
				return err
			}

			result, err := services.PostChatMessage(app.Ctx, database, dispatcher, app.Logger, services.PostMessageInput{
				OpportunityRef:   ref,
				SenderID:         senderID,
				SenderEmail:      senderEmail,
				SenderName:       senderName,
				SenderType:       senderType,
				ActingAdminEmail: actingAdmin,
				Text:             strings.Join(args[1:], " "),
			}, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Message %s posted\n\n", result.Message.ID)
			if result.NotificationError != "" {
				fmt.Printf("⚠️  Notifications failed: %s\n\n", result.NotificationError)
			}
			if report := result.Notification; report != nil {
				fmt.Printf("Sent: %d  Rate limited: %d  Failed: %d  Invalid: %d\n",
					report.EmailsSent, report.RateLimited, report.Failed, report.InvalidEmails)
				for _, p := range report.Participants {
					line := fmt.Sprintf("  %-10s %s (%s)", p.Status, p.Email, p.Type)
					if p.Reason != "" {
						line += " " + p.Reason
					}
					if p.Error != "" {
						line += ": " + p.Error
					}
					fmt.Println(line)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().String("sender-email", "", "Sender email address (required)")
	cmd.Flags().String("sender-name", "", "Sender display name")
	cmd.Flags().String("sender-id", "", "Sender user id, or the hosting organization id for --sender-type organization")
	cmd.Flags().String("sender-type", string(model.SenderUser), "user, organization or admin_as_host")
	cmd.Flags().String("acting-admin", "", "Admin email when posting as host")
	_ = cmd.MarkFlagRequired("sender-email")
	return cmd
}
