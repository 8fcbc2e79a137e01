package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"go.uber.org/zap"

	"sdlcboard/api/internal/app"
	"sdlcboard/api/internal/config"
	"sdlcboard/api/internal/export"
	"sdlcboard/api/internal/store"
	"sdlcboard/api/internal/workflow"
)

var (
	mergeInto string
	mergeFrom string
	mergeUser string

	exportFormat string
	exportOut    string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the phases of one board file into another",
	Long: `Folds the phases found in --from into the board stored in --into, the
same merge POST /api/update performs. Phases present only in --into are
kept; metadata totals are recomputed from the incoming phases.

Example:
  boardsync merge --into sdlc-workflow.json --from sdlc-workflow-new.json`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a summary of the stored board",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render the stored board as html or pdf",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	source, err := store.NewFileStore(mergeFrom)
	if err != nil {
		return err
	}
	incoming, err := source.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no board at %s", mergeFrom)
	}
	if err != nil {
		return err
	}

	target, err := store.NewFileStore(mergeInto)
	if err != nil {
		return err
	}
	service := app.New(config.Config{}, target, nil, nil, logger)
	result, err := service.Merge(ctx, incoming, app.MergeOptions{User: mergeUser})
	if err != nil {
		return err
	}
	service.Wait()

	out := cmd.OutOrStdout()
	if !result.Changed {
		fmt.Fprintf(out, "%s has no phases, %s left unchanged\n", mergeFrom, mergeInto)
		return nil
	}
	fmt.Fprintf(out, "merged %d phases into %s: %d phases, %d categories, %d items\n",
		len(incoming.Phases), mergeInto, result.Totals.Phases, result.Totals.Categories, result.Totals.Items)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	doc, err := b.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no board stored yet in the %s store", cfg.Store)
	}
	if err != nil {
		return err
	}
	printSummary(cmd, doc)
	return nil
}

func printSummary(cmd *cobra.Command, doc *workflow.Document) {
	out := cmd.OutOrStdout()
	if meta := doc.Metadata; meta != nil {
		fmt.Fprintf(out, "version:       %s\n", meta.Version)
		if !meta.LastModified.IsZero() {
			fmt.Fprintf(out, "last modified: %s", meta.LastModified.Format(time.RFC3339))
			if meta.LastModifiedBy != "" {
				fmt.Fprintf(out, " by %s", meta.LastModifiedBy)
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "totals:        %d phases, %d categories, %d items\n",
			meta.TotalPhases, meta.TotalCategories, meta.TotalItems)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPHASE\tCATEGORIES\tITEMS\tOWNERS")
	for _, name := range doc.PhaseNames() {
		phase := doc.Phases[name]
		totals := workflow.CountTotals(map[string]workflow.Phase{name: phase})
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
			phase.Number(), name, totals.Categories, totals.Items, strings.Join(phase.Ownership, ", "))
	}
	_ = w.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(exportFormat)))
	if err != nil {
		return fmt.Errorf("%w: %s", err, exportFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	service := app.New(cfg, b.store, b.search, export.NewServiceWithPDF(export.PDFOptions{ExecPath: cfg.ChromePath}), logger)
	result, err := service.Export(ctx, format)
	if err != nil {
		return err
	}

	if exportOut == "" {
		_, err := cmd.OutOrStdout().Write(result.Data)
		return err
	}
	location := url.Normalize(exportOut, file.Scheme)
	if err := afs.New().Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(result.Data)); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	logger.Info("board exported",
		zap.String("format", string(format)),
		zap.String("out", exportOut),
		zap.Int("bytes", len(result.Data)),
	)
	return nil
}
