package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "synaptic",
	Short:         "Synaptic turns documents into study material",
	Long:          "Synaptic ingests documents and generates mind maps, podcasts, and summaries from them, with grounded chat over the source text.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
