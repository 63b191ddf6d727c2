package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/community-highlighter/internal/render"
	"github.com/tendant/community-highlighter/internal/storage"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "download <url>",
		Short: "Have the backend download a video by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				if err := s.orchestrator.AcquireByURL(cmd.Context(), args[0]); err != nil {
					return err
				}
				printMetadata(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local video to the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			store, err := storage.NewFilesystemStorage(filepath.Dir(abs))
			if err != nil {
				return err
			}
			name := filepath.Base(abs)
			data, err := store.ReadAll(cmd.Context(), name)
			if err != nil {
				return err
			}

			return ctx.withSession(cmd, func(s *session) error {
				if err := s.orchestrator.AcquireByUpload(cmd.Context(), name, data); err != nil {
					return err
				}
				printMetadata(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func newStepCommand(ctx *commandContext, key, short string) *cobra.Command {
	return &cobra.Command{
		Use:   key,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				printer := render.NewPrinter(cmd.OutOrStdout())
				defer s.orchestrator.Subscribe(printer.Observe)()

				if _, err := s.orchestrator.RunStep(cmd.Context(), key); err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var downloadDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run summarize, transcribe and highlight in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				out := cmd.OutOrStdout()
				printer := render.NewPrinter(out)
				defer s.orchestrator.Subscribe(printer.Observe)()

				runErr := s.orchestrator.RunFullPipeline(cmd.Context())
				printResult(out, s)
				printMetadata(out, s)
				if runErr != nil {
					return runErr
				}
				if downloadDir == "" {
					return nil
				}

				store, err := storage.NewFilesystemStorage(downloadDir)
				if err != nil {
					return err
				}
				res := s.orchestrator.Result()
				locators := []string{*res.SubtitlePath, *res.HighlightPath}
				saved := make([]savedArtifact, len(locators))

				g, gCtx := errgroup.WithContext(cmd.Context())
				for i, locator := range locators {
					g.Go(func() error {
						a, err := fetchArtifact(gCtx, s, store, locator)
						if err != nil {
							return err
						}
						saved[i] = a
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}
				for _, a := range saved {
					fmt.Fprintln(out, a)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "Save subtitles and highlight reel into this directory")
	return cmd
}

func newMetadataCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata",
		Short: "Show metadata for the loaded video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				if err := s.orchestrator.RefreshMetadata(cmd.Context()); err != nil {
					return err
				}
				printMetadata(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "fetch <locator>",
		Short: "Download an artifact produced by the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				dir := outDir
				if dir == "" {
					dir = s.cfg.DownloadDir
				}
				store, err := storage.NewFilesystemStorage(dir)
				if err != nil {
					return err
				}
				a, err := fetchArtifact(cmd.Context(), s, store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (defaults to download_dir)")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent full pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(s *session) error {
				if s.ledger == nil {
					return errors.New("run history requires database_url (or DATABASE_URL)")
				}
				records, err := s.ledger.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), render.HistoryTable(records))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}
