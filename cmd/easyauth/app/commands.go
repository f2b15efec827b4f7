// Package app provides the entry point for the easyauth command-line
// application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/easyauth-k8s/easyauth/pkg/logger"
	"github.com/easyauth-k8s/easyauth/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "easyauth",
	DisableAutoGenTag: true,
	Short:             "easyauth is an auth subrequest gateway for Kubernetes ingress",
	Long: `easyauth answers nginx auth_request subrequests for a Kubernetes ingress:
it validates sessions against an OpenID Connect identity provider, evaluates
role and scope requirements carried on the subrequest query string, and
projects the signed-in user's claims into response headers for the upstream
application.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	RunE: func(_ *cobra.Command, _ []string) error {
		out, err := json.MarshalIndent(versions.GetVersionInfo(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render version information: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

// NewRootCmd creates the root command for the easyauth CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}
