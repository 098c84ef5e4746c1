package cmd

import (
	"github.com/spf13/cobra"

	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version of syncrelay",
	Run: func(_ *cobra.Command, _ []string) {
		output.KeyValue("Version", *constants.GetVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
