package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "currentop",
	Short: "Lock-free in-progress operation reporting",
	Long: `currentop tracks what every worker of a process group is doing right now.
Workers publish a small record at the start of each operation; readers
take torn-read-free snapshots without blocking them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("addr", "", "Server address (default from CURRENTOP_LISTEN_ADDR)")
}
