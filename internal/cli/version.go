package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/sandbox"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the weft and module toolchain versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("weft %s (modules %s)\n", Version, sandbox.Version)
	},
}

func init() { rootCmd.AddCommand(versionCmd) }
