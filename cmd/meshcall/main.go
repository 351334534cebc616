package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mossy-p/meshcall/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "meshcall",
	Short: "Mesh video calls over WebRTC",
	Long: `meshcall joins a room and places mesh video calls with everyone in it.
Each pair of participants gets its own WebRTC connection; signaling runs
through the relay server or directly over Redis pub/sub.`,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(newJoinCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render(cli.IconError+" "+err.Error()))
		os.Exit(1)
	}
}
