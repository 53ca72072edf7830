package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/pingpong/cmd/gen"
	"github.com/luma/pingpong/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "pingpong",
	Short: "Bidirectional RPC over a single TCP connection",
	Long: `Bidirectional RPC over a single TCP connection

Either end of a pingpong connection can call the other, optionally waiting
for a reply, while serving the other end's calls on the same socket.`,
	Version:      meta.Version,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(CallCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command, exiting non zero on failure
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
