package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-dfe/pkg/certificate"
)

func newCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Inspect PKCS#12 certificates",
	}
	cmd.AddCommand(newCertInfoCmd())
	return cmd
}

func newCertInfoCmd() *cobra.Command {
	var certFile, password string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print holder, tax ID and validity of a certificate",
		Long: `Decode a PKCS#12 container and print its holder data as JSON.

Example:
  godfe cert info --cert empresa.pfx --password segredo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(certFile)
			if err != nil {
				return err
			}
			identity, err := certificate.Read(data, certificatePassword(password))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), identity.Info(time.Now()))
		},
	}

	cmd.Flags().StringVar(&certFile, "cert", "", "Path to the PKCS#12 certificate")
	cmd.Flags().StringVar(&password, "password", "", "Certificate password")
	_ = cmd.MarkFlagRequired("cert")
	return cmd
}
