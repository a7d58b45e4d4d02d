package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:   "orderdesk",
		Short: "Multi-turn e-commerce support conversations",
	}

	root.AddCommand(serveCMD(), migrateCMD(), chatCMD(), handoffsCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
