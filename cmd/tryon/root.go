package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tryon",
		Short:        "Virtual try-on: style a fashion item onto a model photo",
		Long:         "tryon composes a model photo and a fashion item, asks Gemini to dress the model, and keeps retrying with judge feedback until a result is accepted or the retry budget runs out.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd())

	return rootCmd
}
