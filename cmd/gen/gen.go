package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generators for pingpong documentation",
	Long:  `Generators for pingpong documentation`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
