package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var backendFlag string
	var logLevelFlag string

	ctx := newCommandContext(&configFlag, &backendFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "highlighter",
		Short:         "Summarize, transcribe and cut highlights from community meeting videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Backend base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newDownloadCommand(ctx))
	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newStepCommand(ctx, "summarize", "Summarize the loaded video"))
	rootCmd.AddCommand(newStepCommand(ctx, "transcribe", "Generate subtitles for the loaded video"))
	rootCmd.AddCommand(newStepCommand(ctx, "highlight", "Cut a highlight reel from the loaded video"))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newMetadataCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))

	return rootCmd
}
