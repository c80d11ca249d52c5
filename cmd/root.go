// Package cmd implements the CLI commands using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	profilePath string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sevpn",
	Short: "sevpn - SoftEther-compatible Layer-2 VPN client",
	Long: `sevpn establishes a Layer-2 VPN session with a SoftEther-compatible
server and forwards IP packets between the host and the server.

The session runs over a TLS control channel with an in-band handshake,
obtains its address via an embedded DHCP exchange, and opportunistically
uses the encrypted UDP acceleration data path when the server grants it.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "p", "profile.yml",
		"profile file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	rootCmd.AddCommand(connectCmd)
}
