package send

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/localshare-go/localshare/internal/aliasgen"
	"github.com/localshare-go/localshare/internal/discovery"
	"github.com/localshare-go/localshare/internal/identity"
	"github.com/localshare-go/localshare/internal/localshare"
	"github.com/localshare-go/localshare/internal/protocol"
	"github.com/localshare-go/localshare/internal/sender"
	"github.com/localshare-go/localshare/internal/transfer"
	"github.com/localshare-go/localshare/internal/utils"
)

var (
	target      string
	files       []string
	text        string
	pin         string
	devname     string
	sendPort    uint16
	resolveTime int64
)

var Cmd = &cobra.Command{
	Use:   "send [files]...",
	Short: "Send files or text to a peer",
	Long:  "Send files or text to a peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if target == "" {
			return errors.New("--target is required (alias, fingerprint, or ip:port)")
		}
		files = append(files, args...)
		if len(files) == 0 && text == "" {
			return errors.New("at least one file or --text is required")
		}

		id, err := identity.Generate()
		if err != nil {
			return err
		}

		local := protocol.NewDeviceInfo(devname, id.Fingerprint, 0, protocol.ProtocolHTTPS)
		disc := discovery.New(local)
		if err := disc.Start(); err != nil {
			return err
		}
		defer disc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*time.Duration(resolveTime))
		disc.Discover(ctx, time.Second*time.Duration(resolveTime))
		cancel()

		items := make([]sender.Item, 0, len(files)+1)
		for _, f := range files {
			if _, err := os.Stat(f); err != nil {
				slog.Error("skipping unreadable file", "file", f, "error", err)
				continue
			}
			items = append(items, sender.FileItem(f))
		}
		if text != "" {
			items = append(items, sender.TextItem(text, "", ""))
		}

		ctx, cancel = context.WithCancel(context.Background())
		go func() {
			<-utils.WaitForSignal()
			slog.Info("cancelling")
			cancel()
		}()
		defer cancel()

		statusCh, err := localshare.Send(ctx, disc, target, items, localshare.SenderOptions{
			Identity: id,
			Alias:    devname,
			Port:     protocol.Port(sendPort),
			PIN:      pin,
		})
		if err != nil {
			slog.Error("failed to start send", "error", err)
			return nil
		}

		for st := range statusCh {
			logStatus(st)
		}

		return nil
	},
}

func logStatus(st transfer.TransferStatus) {
	switch st.Kind {
	case transfer.Cancelled:
		slog.Error("transfer cancelled", "reason", st.Reason)
	case transfer.Completed:
		slog.Info("transfer completed", "files", st.TotalFiles)
	default:
		slog.Info("transfer progress", "state", st.Kind.String(), "completed", st.Completed, "total", st.TotalFiles)
	}
}

func init() {
	Cmd.PersistentFlags().StringVar(&target, "target", "", "Alias, fingerprint, or ip:port of the receiving peer")
	Cmd.PersistentFlags().StringSliceVarP(&files, "file", "f", []string{}, "File to send (repeatable)")
	Cmd.PersistentFlags().StringVar(&text, "text", "", "Literal text to send instead of/alongside files")
	Cmd.PersistentFlags().StringVarP(&pin, "pin", "p", "", "PIN code")
	Cmd.PersistentFlags().StringVarP(&devname, "devname", "n", aliasgen.New(), "Device name to advertise")
	Cmd.PersistentFlags().Uint16VarP(&sendPort, "port", "P", uint16(protocol.DefaultPort), "Port advertised in the sender's own DeviceInfo")
	Cmd.PersistentFlags().Int64VarP(&resolveTime, "resolve-timeout", "t", 5, "seconds to wait while resolving --target")
}
