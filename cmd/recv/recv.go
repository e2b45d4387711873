package recv

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localshare-go/localshare/internal/aliasgen"
	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/localshare"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/localshare-go/localshare/internal/session"
	"github.com/localshare-go/localshare/internal/utils"
)

var (
	devname      string
	savetodir    string
	port         uint16
	supportHTTPS bool
	advertise    bool
)

var Cmd = &cobra.Command{
	Use:   "recv",
	Short: "Receive files from a peer",
	Long:  "Receive files from a peer",
	Run: func(cmd *cobra.Command, args []string) {
		id, err := identity.Generate()
		if err != nil {
			slog.Error("failed to generate identity", "error", err)
			return
		}

		handle, err := localshare.StartReceiver(localshare.ReceiverConfig{
			Alias:     devname,
			Identity:  id,
			SaveDir:   savetodir,
			Port:      protocol.Port(port),
			UseTLS:    supportHTTPS,
			Advertise: advertise,
		})
		if err != nil {
			slog.Error("failed to start receiver", "error", err)
			return
		}

		slog.Info("receiver listening", "alias", devname, "fingerprint", id.Fingerprint, "dir", savetodir)

		go func() {
			for ev := range handle.Events {
				logEvent(ev)
			}
		}()

		<-utils.WaitForSignal()

		slog.Info("shutting down")
		if err := handle.Close(context.Background()); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	},
}

func logEvent(ev session.ReceiverEvent) {
	switch ev.Kind {
	case session.SessionStarted:
		slog.Info("session started", "session", ev.SessionId)
	case session.FileCompleted:
		slog.Info("file completed", "session", ev.SessionId, "fileId", ev.FileId, "path", ev.Path)
	case session.SessionEnded:
		slog.Info("session ended", "session", ev.SessionId, "reason", ev.Reason)
	}
}

func init() {
	Cmd.PersistentFlags().StringVarP(&devname, "devname", "n", aliasgen.New(), "Device name to advertise")
	Cmd.PersistentFlags().StringVarP(&savetodir, "dir", "d", ".", "Directory for received files")
	Cmd.PersistentFlags().Uint16VarP(&port, "port", "P", 53317, "Port to listen on")
	Cmd.PersistentFlags().BoolVar(&supportHTTPS, "https", true, "Serve over HTTPS using a self-signed certificate")
	Cmd.PersistentFlags().BoolVarP(&advertise, "advertise", "a", true, "Announce presence via multicast discovery")
}
