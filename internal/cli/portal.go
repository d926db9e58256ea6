package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-dfe/pkg/portal"
)

func newPortalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Work with portal automation scripts",
	}
	cmd.AddCommand(newPortalListCmd())
	cmd.AddCommand(newPortalResolveCmd())
	return cmd
}

func newPortalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured portal scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadPortals(cfg)
			if err != nil {
				return err
			}
			for _, id := range registry.IDs() {
				s := registry.Get(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d steps\n", s.ID, s.URL, len(s.Steps))
			}
			return nil
		},
	}
}

func newPortalResolveCmd() *cobra.Command {
	var period, username, password string

	cmd := &cobra.Command{
		Use:   "resolve <portal-id>",
		Short: "Print the steps of a portal script with values for a period",
		Long: `Compute the text typed by every step of a portal script for a month
and print the steps as JSON.

Example:
  godfe portal resolve sp-nfse --period 2024-02 --username usuario`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadPortals(cfg)
			if err != nil {
				return err
			}
			script := registry.Get(args[0])
			if script == nil {
				return fmt.Errorf("portal %q is not configured", args[0])
			}
			p, err := portal.ParsePeriod(period)
			if err != nil {
				return err
			}
			steps, err := script.Resolve(p, portal.Credentials{Username: username, Password: password})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), steps)
		},
	}

	cmd.Flags().StringVar(&period, "period", "", "Month as yyyy-mm, mm/yyyy or yyyymm")
	cmd.Flags().StringVar(&username, "username", "", "Portal login")
	cmd.Flags().StringVar(&password, "password", "", "Portal password")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}
