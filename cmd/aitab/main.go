package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "aitab"}

	root.AddCommand(serveCMD(), migrateCMD(), analyzeCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
