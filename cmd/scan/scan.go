package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/localshare-go/localshare/internal/aliasgen"
	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/localshare"
	"github.com/localshare-go/localshare/internal/protocol"
)

var timeout int64

var Cmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan local network for peers",
	Long:  "Scan local network for peers",
	Run: func(cmd *cobra.Command, args []string) {
		slog.Info("start scanning")

		id, err := identity.Generate()
		if err != nil {
			slog.Error("fail to generate identity", "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*time.Duration(timeout))
		defer cancel()

		peers, err := localshare.Discover(ctx, localshare.DiscoveryConfig{
			Alias:    aliasgen.New(),
			Identity: id,
			Port:     53317,
			Protocol: protocol.ProtocolHTTPS,
		}, time.Second*time.Duration(timeout))
		if err != nil {
			slog.Error("fail to scan", "error", err)
			return
		}

		slog.Info("stop scanning")

		if len(peers) > 0 {
			fmt.Fprintf(os.Stdout, "Found devices:\n")
			for _, p := range peers {
				fmt.Fprintf(os.Stdout, "\tName: %s, Fingerprint: %s, Address: %s:%d, Protocol: %s\n",
					p.Alias, p.Fingerprint, p.IP, p.Port, p.Protocol)
			}
		} else {
			fmt.Fprintln(os.Stderr, "no device found")
		}
	},
}

func init() {
	Cmd.PersistentFlags().Int64VarP(&timeout, "timeout", "t", 4, "scan duration in seconds")
}
