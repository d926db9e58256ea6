package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-dfe/pkg/certificate"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
)

type fetchOptions struct {
	certFile    string
	password    string
	taxID       string
	uf          string
	lastNSU     string
	key         string
	environment string
	endpoint    string
	all         bool
	maxPages    int
}

// fetchOutput is the JSON printed by the fetch command
type fetchOutput struct {
	CStat   string                  `json:"cStat"`
	XMotivo string                  `json:"xMotivo"`
	UltNSU  string                  `json:"ultNSU"`
	MaxNSU  string                  `json:"maxNSU"`
	HasMore bool                    `json:"hasMore"`
	Pages   int                     `json:"pages"`
	Notas   []distribution.Document `json:"notas"`
	Eventos []distribution.Document `json:"eventos"`
	Skipped int                     `json:"ignorados,omitempty"`
}

func newFetchCmd() *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Query the distribution service once",
		Long: `Sign and send a distribution query and print the decoded documents as JSON.

By default one page after --nsu is fetched. With --all, pages are fetched
until the service reports no more documents or --max-pages is reached.
With --key, the single document with that access key is requested.

The certificate password may be given in the ` + passwordEnv + ` environment variable.

Example:
  godfe fetch --cert empresa.pfx --cnpj 12345678000199 --nsu 0 --all
  godfe fetch --cert empresa.pfx --cnpj 12345678000199 --key 3524...0010`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.certFile, "cert", "", "Path to the PKCS#12 certificate")
	cmd.Flags().StringVar(&opts.password, "password", "", "Certificate password")
	cmd.Flags().StringVar(&opts.taxID, "cnpj", "", "Tax ID of the requesting company (CNPJ or CPF)")
	cmd.Flags().StringVar(&opts.uf, "uf", "", "IBGE state code of the requester (cUFAutor)")
	cmd.Flags().StringVar(&opts.lastNSU, "nsu", "0", "Last NSU already received")
	cmd.Flags().StringVar(&opts.key, "key", "", "Access key (chNFe) of a single document")
	cmd.Flags().StringVar(&opts.environment, "environment", "", "production or homologation (overrides the configuration)")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "Service URL (overrides the environment's URL)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Fetch pages until the backlog is empty")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 50, "Page cap for --all")
	_ = cmd.MarkFlagRequired("cert")
	_ = cmd.MarkFlagRequired("cnpj")

	return cmd
}

func runFetch(cmd *cobra.Command, opts *fetchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.environment != "" {
		cfg.Distribution.Environment = opts.environment
	}
	if opts.endpoint != "" {
		cfg.Distribution.Endpoint = opts.endpoint
	}
	if _, err := message.ParseEnvironment(cfg.Distribution.Environment); err != nil {
		return err
	}
	if opts.all && opts.key != "" {
		return fmt.Errorf("--all and --key cannot be combined")
	}

	lastNSU, err := message.ParseNSU(opts.lastNSU)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	identity, err := certificate.Load(opts.certFile, certificatePassword(opts.password))
	if err != nil {
		return err
	}

	out := &fetchOutput{
		Notas:   []distribution.Document{},
		Eventos: []distribution.Document{},
	}
	query := &message.DistributionQuery{
		TaxID:        opts.taxID,
		Jurisdiction: opts.uf,
		LastNSU:      lastNSU,
		DocumentKey:  opts.key,
	}

	for {
		result, err := client.Fetch(cmd.Context(), identity, query)
		if err != nil {
			return err
		}
		out.Pages++
		out.CStat = result.StatusCode
		out.XMotivo = result.StatusReason
		out.UltNSU = message.FormatNSU(result.LastNSU)
		out.MaxNSU = message.FormatNSU(result.MaxNSU)
		out.HasMore = result.HasMore()
		out.Notas = append(out.Notas, result.Summaries()...)
		out.Eventos = append(out.Eventos, result.Events()...)
		out.Skipped += result.Skipped

		if !opts.all || !result.Found() || !result.HasMore() || out.Pages >= opts.maxPages {
			break
		}
		if result.LastNSU <= query.LastNSU {
			break
		}
		query.LastNSU = result.LastNSU
	}

	return writeJSON(cmd.OutOrStdout(), out)
}
