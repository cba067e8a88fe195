// Certctl is the operator and verifier command line for certd.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bturcanu/certproof/pkg/config"
	"github.com/bturcanu/certproof/pkg/sdk/client"
)

var (
	serverURL string
	apiKey    string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "certctl",
	Short: "Issue, revoke and verify certproof certificates",
	Long: `Command line client for the certd API.

Issuer commands (issue, revoke, get) need an API key, read from --api-key or
CERTD_API_KEY. Verification commands are anonymous.

Examples:
  certctl issue --subject "Jane Doe" --course "Intro to Cryptography"
  certctl verify CERT-3633-A529-AD1B-ITCEE-6BC6
  certctl verify-doc --file extracted.json
  certctl verify-doc --pdf certificate.pdf
  certctl revoke CERT-3633-A529-AD1B-ITCEE-6BC6 --reason "issued in error"`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", config.EnvOr("CERTD_URL", "http://localhost:8080"), "certd base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CERTD_API_KEY"), "issuer API key")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(issueCmd, getCmd, revokeCmd, verifyCmd, verifyDocCmd)
}

func newClient() *client.Client {
	return client.New(serverURL, apiKey)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
