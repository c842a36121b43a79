package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the minibox version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("minibox version %s\n", Version)
		fmt.Printf("built %s\n", BuildTime)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
