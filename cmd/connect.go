package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/raa-org/sevpn/internal/handshake"
	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/session"
	"github.com/raa-org/sevpn/pkg/config"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the configured server and bring the tunnel up",
	Long: `
Connect dials the server from the profile, runs the handshake, obtains
an address via DHCP, and keeps the tunnel up until interrupted.

Examples:
  sevpn connect                     # use ./profile.yml
  sevpn connect -p work.yml -v      # alternate profile, debug logging
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.SetHandler(cli.New(os.Stderr))
		if verbose {
			log.SetLevel(log.DebugLevel)
		}

		options, creds, err := loadProfile(profilePath)
		if err != nil {
			return err
		}
		auth, err := handshake.NewAuthFromCredentials(creds)
		if err != nil {
			return err
		}

		cfg := config.NewConfig(
			config.WithLogger(log.Log),
			config.WithSessionOptions(options),
		)
		manager, err := session.NewManager(cfg, nil)
		if err != nil {
			return err
		}
		defer manager.Stop()

		if err := manager.Connect(context.Background()); err != nil {
			return err
		}
		if err := manager.Handshake(auth); err != nil {
			return err
		}
		params, err := manager.ObtainIPViaDHCP()
		if err != nil {
			return err
		}
		log.Infof("lease: %s mask=%s gw=%s mtu=%d",
			params.ClientIPv4, maskOrDash(params), gwOrDash(params), params.MTU)

		if err := manager.StartTunneling(&discardFlow{}); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down")
		return nil
	},
}

func maskOrDash(params *model.NetworkParameters) string {
	if params.SubnetMask == nil {
		return "-"
	}
	ip := make([]byte, len(params.SubnetMask))
	copy(ip, params.SubnetMask)
	return net.IP(ip).String()
}

func gwOrDash(params *model.NetworkParameters) string {
	if params.GatewayIPv4 == nil {
		return "-"
	}
	return params.GatewayIPv4.String()
}

// discardFlow is the host flow used when no platform packet flow is
// wired in: it never produces packets and swallows deliveries.
type discardFlow struct{}

func (f *discardFlow) ReadPackets() ([][]byte, []model.Protocol, error) {
	select {}
}

func (f *discardFlow) WritePackets(packets [][]byte, protocols []model.Protocol) error {
	return nil
}
