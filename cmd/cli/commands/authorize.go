package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/community-connect/internal/config"
	"github.com/jakechorley/community-connect/pkg/utils"
)

// AuthorizeCmd creates the authorize command
func AuthorizeCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize",
		Short: "Authorize gmail sending for this environment (opens an OAuth flow)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oauthCfg, err := config.LoadOAuthClient(app.Env)
			if err != nil {
				return fmt.Errorf("failed to load OAuth client config: %w", err)
			}
			oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
			if err != nil {
				return err
			}

			tokens, err := utils.DefaultTokenStore()
			if err != nil {
				return err
			}
			if err := tokens.Delete(app.Env); err != nil {
				return err
			}
			if _, err := tokens.Authorize(app.Ctx, oauthConfig, app.Env, app.Logger); err != nil {
				return err
			}

			fmt.Printf("\n✓ Gmail authorized for environment %s\n", app.Env)
			return nil
		},
	}
}
