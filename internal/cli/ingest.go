package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/finbase/docingest/internal/api"
	"github.com/finbase/docingest/internal/batch"
	"github.com/finbase/docingest/internal/dedup"
	"github.com/finbase/docingest/internal/events"
	"github.com/finbase/docingest/internal/models"
	"github.com/finbase/docingest/internal/progress"
)

func newIngestCmd() *cobra.Command {
	var declaredType string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Upload a batch of documents",
		Long: `Upload one or more documents to the dashboard.

Each file's document type is auto-detected from its content. Files matching
documents already in the dashboard are raised as one consolidated duplicate
prompt; files whose detected type differs from --type are raised as one
consolidated mismatch prompt. Unaffected files keep uploading while a prompt
is open.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(args, declaredType)
		},
	}

	cmd.Flags().StringVarP(&declaredType, "type", "t", "",
		"Declared document type for all files (default: auto-detect)")

	return cmd
}

func runIngest(paths []string, declaredType string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w (run 'docingest config set')", err)
	}

	if declaredType != "" {
		if _, ok := models.CategoryByKey(declaredType); !ok {
			return fmt.Errorf("unknown document type %q, valid types: %s",
				declaredType, strings.Join(categoryKeys(), ", "))
		}
	}

	files, err := collectFiles(paths, declaredType)
	if err != nil {
		return err
	}

	ctx := GetContext()
	client := api.NewClient(cfg)

	// Seed the duplicate index from the documents already in the dashboard.
	docs, err := client.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list existing documents: %w", err)
	}
	index := dedup.NewIndex()
	index.Seed(docs)

	bus := events.NewEventBus(0)
	ui := progress.NewBatchUI(bus, len(files))
	ui.Start()

	log := GetLogger()
	log.SetOutput(ui.Writer())

	prompter := NewConsolePrompter(os.Stdin, ui.Writer())
	coordinator := batch.NewCoordinator(client, index, prompter, bus, cfg.Ingest)

	summary, runErr := coordinator.Run(ctx, files)

	bus.Close()
	ui.Stop()
	log.SetOutput(os.Stderr)

	printSummary(summary)

	if runErr != nil {
		return fmt.Errorf("batch failed: %w", runErr)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", summary.Failed, summary.Total)
	}
	return nil
}

// collectFiles stats each path and builds the batch inputs. Per-file
// validation (size, extension) happens inside the batch so one bad file does
// not block its siblings.
func collectFiles(paths []string, declaredType string) ([]batch.File, error) {
	files := make([]batch.File, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory, pass files", path)
		}

		files = append(files, batch.File{
			Name:     filepath.Base(path),
			Size:     info.Size(),
			Category: declaredType,
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
	}
	return files, nil
}

func printSummary(summary *batch.Summary) {
	fmt.Printf("\n%d file(s): %d uploaded, %d failed, %d skipped (%s)\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Skipped,
		summary.Duration.Round(100*time.Millisecond))

	for _, item := range summary.Items {
		switch item.Status {
		case batch.StatusSuccess:
			fmt.Printf("  ✓ %s (%s) %s\n", item.FileName, item.Category, item.Message)
		case batch.StatusSkipped:
			fmt.Printf("  - %s skipped: %s\n", item.FileName, item.Message)
		default:
			fmt.Printf("  ✗ %s: %s\n", item.FileName, item.Message)
		}
	}
}

func categoryKeys() []string {
	keys := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		keys[i] = c.Key
	}
	return keys
}
