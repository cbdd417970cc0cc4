package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nguyentantai21042004/cirse-notes/internal/export"
	"github.com/nguyentantai21042004/cirse-notes/internal/media"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
	"github.com/nguyentantai21042004/cirse-notes/internal/pipeline"
	"github.com/nguyentantai21042004/cirse-notes/internal/watcher"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var dir, out string
	var docx bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Transcribe and summarize recordings dropped into a folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.CheckSecrets(false); err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Paths.Watch
			}
			if out == "" {
				out = cfg.Paths.Output
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", dir, err)
			}

			p, err := ctx.newPipeline(nil, media.Local{})
			if err != nil {
				return err
			}
			exporter := export.New(export.Config{OutputDir: out, Docx: docx}, ctx.logger)

			w, err := watcher.New(watcher.Config{
				Dir:           dir,
				MaxConcurrent: cfg.Performance.MaxConcurrent,
				ScanExisting:  true,
				Accept:        media.IsMediaFile,
			}, processFile(p, exporter), ctx.logger)
			if err != nil {
				return err
			}
			defer w.Stop()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s, notes go to %s. Press Ctrl+C to stop.\n", dir, out)
			if err := w.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Folder to watch (default paths.watch)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (default paths.output)")
	cmd.Flags().BoolVar(&docx, "docx", false, "Also write .docx files")
	return cmd
}

// processFile runs one dropped recording through the pipeline as its own batch.
func processFile(p pipeline.Pipeline, exporter export.Exporter) watcher.EventHandler {
	return func(ctx context.Context, path string) error {
		item := media.LocalItem(path)
		results := p.Run(ctx, []model.CatalogItem{item}).Wait()
		if len(results) == 0 {
			return errors.New("nothing to process")
		}
		r := results[0]
		if r.State != model.StateDone {
			return errors.New(r.Reason)
		}
		_, err := exporter.Export(ctx, r.Item, r.Transcript, r.Notes)
		return err
	}
}
