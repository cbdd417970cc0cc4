package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nguyentantai21042004/cirse-notes/internal/export"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
	"github.com/nguyentantai21042004/cirse-notes/internal/pipeline"
)

type processOptions struct {
	pick string
	all  bool
	top  int
	out  string
	docx bool
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var opts processOptions

	cmd := &cobra.Command{
		Use:   "process <query>",
		Short: "Search, then transcribe and summarize the selected lectures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.all && opts.pick != "" {
				return errors.New("--pick and --all are mutually exclusive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.CheckSecrets(true); err != nil {
				return err
			}
			if opts.top > 0 {
				cfg.Library.MaxResults = opts.top
			}
			if opts.out == "" {
				opts.out = cfg.Paths.Output
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, err := ctx.login(runCtx)
			if err != nil {
				return err
			}
			p, err := ctx.newPipeline(sess, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			items, err := p.Search(runCtx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No lectures found.")
				return nil
			}
			fmt.Fprintln(out, renderItems(items))

			selected, err := selectItems(cmd.InOrStdin(), out, items, opts)
			if err != nil || len(selected) == 0 {
				return err
			}

			exporter := export.New(export.Config{OutputDir: opts.out, Docx: opts.docx}, ctx.logger)
			return runBatch(runCtx, out, p, exporter, selected)
		},
	}

	cmd.Flags().StringVarP(&opts.pick, "pick", "p", "", "Lectures to process by result number, e.g. 1,3 or 2-4")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Process every result")
	cmd.Flags().IntVarP(&opts.top, "top", "n", 0, "Consider at most N results")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output directory (default paths.output)")
	cmd.Flags().BoolVar(&opts.docx, "docx", false, "Also write .docx files")
	return cmd
}

func selectItems(in io.Reader, out io.Writer, items []model.CatalogItem, opts processOptions) ([]model.CatalogItem, error) {
	var idx []int
	var err error
	switch {
	case opts.all:
		idx, err = parsePick("all", len(items))
	case opts.pick != "":
		idx, err = parsePick(opts.pick, len(items))
	case in == os.Stdin && !stdinIsTerminal():
		return nil, errors.New("stdin is not a terminal: choose lectures with --pick or --all")
	default:
		idx, err = promptPick(in, out, len(items))
	}
	if err != nil {
		return nil, err
	}

	selected := make([]model.CatalogItem, 0, len(idx))
	for _, i := range idx {
		selected = append(selected, items[i])
	}
	return selected, nil
}

// runBatch processes items, prints progress as it happens and exports every
// finished lecture.
func runBatch(ctx context.Context, out io.Writer, p pipeline.Pipeline, exporter export.Exporter, items []model.CatalogItem) error {
	b := p.Run(ctx, items)

	position := make(map[string]int, len(items))
	titles := make(map[string]string, len(items))
	for i, item := range items {
		position[item.ID] = i + 1
		titles[item.ID] = item.Title
	}
	for ev := range b.Events() {
		if ev.To == model.StateQueued {
			continue
		}
		fmt.Fprintln(out, formatEvent(ev, position[ev.ItemID], len(items), titles[ev.ItemID]))
	}

	results := b.Wait()
	// Finished lectures are saved even when the batch was interrupted.
	exportCtx := context.WithoutCancel(ctx)
	rows := make([][]string, 0, len(results))
	failed := 0
	for i, r := range results {
		detail := r.Reason
		if r.State == model.StateDone {
			files, err := exporter.Export(exportCtx, r.Item, r.Transcript, r.Notes)
			if err != nil {
				failed++
				detail = "export failed: " + err.Error()
			} else {
				detail = files.Notes
			}
		} else {
			failed++
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), r.Item.Title, string(r.State), detail})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Title", "State", "Notes / reason"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))

	if err := b.Err(); err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d lectures failed", failed, len(results))
	}
	return nil
}
