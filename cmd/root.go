package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/localshare-go/localshare/cmd/recv"
	"github.com/localshare-go/localshare/cmd/scan"
	"github.com/localshare-go/localshare/cmd/send"
)

var rootCmd = &cobra.Command{
	Use:   "localshare",
	Short: "localshare CLI",
	Long:  "localshare CLI",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		slog.Error("fail to execute", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(scan.Cmd)
	rootCmd.AddCommand(recv.Cmd)
	rootCmd.AddCommand(send.Cmd)
}
