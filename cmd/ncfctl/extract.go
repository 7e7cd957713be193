package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/facturaIA/lector-ncf/internal/app"
	"github.com/facturaIA/lector-ncf/internal/export"
	"github.com/facturaIA/lector-ncf/internal/models"
	"github.com/facturaIA/lector-ncf/internal/ocr"
	"github.com/facturaIA/lector-ncf/internal/services"
)

const channelCLI = "cli"

var batchExtensions = map[string]bool{
	".txt": true, ".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

// reader turns a file into a ProcessRequest. Text files bypass OCR; images
// go through the configured recognizer, built on first use.
type reader struct {
	a    *app.App
	text ocr.Recognizer

	mu     sync.Mutex
	vision ocr.Recognizer
}

func newReader(a *app.App) *reader {
	return &reader{a: a, text: ocr.NewText(1.0)}
}

func (r *reader) recognizer(ctx context.Context) (ocr.Recognizer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vision == nil {
		rec, err := ocr.New(ctx, r.a.Config.OCROptions(), r.a.Logger)
		if err != nil {
			return nil, err
		}
		r.vision = rec
	}
	return r.vision, nil
}

func (r *reader) read(ctx context.Context, path string) (models.ProcessRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ProcessRequest{}, err
	}
	contentType := contentTypeOf(path, data)

	rec := r.text
	if !strings.HasPrefix(contentType, "text/") {
		if rec, err = r.recognizer(ctx); err != nil {
			return models.ProcessRequest{}, fmt.Errorf("ocr: %w", err)
		}
	}
	res, err := rec.Recognize(ctx, data, contentType)
	if err != nil {
		return models.ProcessRequest{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return models.ProcessRequest{
		Text:          res.Text,
		OCRConfidence: res.Confidence,
		Channel:       channelCLI,
		SourceImage:   filepath.Base(path),
	}, nil
}

func (r *reader) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.vision.(io.Closer); ok {
		c.Close()
	}
}

func contentTypeOf(path string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

type extractOutput struct {
	Invoice *models.Invoice  `json:"invoice"`
	Summary services.Summary `json:"summary"`
}

func newExtractCmd(root *rootOptions) *cobra.Command {
	var toSinks bool
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract one invoice and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := root.open(ctx, toSinks)
			if err != nil {
				return err
			}
			defer a.Close()

			rd := newReader(a)
			defer rd.close()
			req, err := rd.read(ctx, args[0])
			if err != nil {
				return err
			}
			inv, err := a.Engine.Process(ctx, req)
			if err != nil {
				return err
			}
			if a.Exporter != nil {
				if err := a.Exporter.Append(ctx, inv); err != nil {
					a.Logger.Warn("export.failed", "ncf", inv.NCF.Value, "error", err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), extractOutput{
				Invoice: inv,
				Summary: services.Summarize(inv, a.Config.Validation.MinConfidence),
			})
		},
	}
	cmd.Flags().BoolVar(&toSinks, "export", false, "also append to the configured export sinks")
	return cmd
}

type batchResult struct {
	path string
	inv  *models.Invoice
	err  error
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	var (
		workers  int
		csvPath  string
		xlsxPath string
		jsonPath string
	)
	cmd := &cobra.Command{
		Use:   "batch DIR",
		Short: "Extract every invoice in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files, err := batchFiles(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no invoices found in %s", args[0])
			}

			a, err := root.open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			results := runBatch(ctx, a, files, workers)
			var invs []*models.Invoice
			for _, r := range results {
				if r.inv != nil {
					invs = append(invs, r.inv)
				}
			}

			if err := writeBatchExports(invs, csvPath, xlsxPath, jsonPath, a); err != nil {
				return err
			}
			return printBatch(cmd.OutOrStdout(), results, a.Config.Validation.MinConfidence)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent extractions")
	cmd.Flags().StringVar(&csvPath, "csv", "", "append results to this CSV file")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "append results to this workbook")
	cmd.Flags().StringVar(&jsonPath, "json", "", "write results to this JSON document")
	return cmd
}

func batchFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !batchExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// runBatch processes files with at most workers in flight. Per-file failures
// are reported in the result rather than aborting the batch.
func runBatch(ctx context.Context, a *app.App, files []string, workers int) []batchResult {
	if workers < 1 {
		workers = 1
	}
	rd := newReader(a)
	defer rd.close()
	results := make([]batchResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			results[i].path = path
			req, err := rd.read(gctx, path)
			if err != nil {
				results[i].err = err
				return nil
			}
			results[i].inv, results[i].err = a.Engine.Process(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func writeBatchExports(invs []*models.Invoice, csvPath, xlsxPath, jsonPath string, a *app.App) error {
	if len(invs) == 0 {
		return nil
	}
	if csvPath != "" {
		if err := export.NewCSVWriter(csvPath, 0, a.Logger).AppendAll(invs); err != nil {
			return fmt.Errorf("csv: %w", err)
		}
	}
	if xlsxPath != "" {
		if err := export.NewXLSXWriter(xlsxPath, a.Logger).AppendAll(invs); err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
	}
	if jsonPath != "" {
		data, err := export.JSON(invs)
		if err != nil {
			return fmt.Errorf("json: %w", err)
		}
		if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
			return fmt.Errorf("json: %w", err)
		}
	}
	return nil
}

func printBatch(w io.Writer, results []batchResult, minConfidence float64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARCHIVO\tNCF\tESTADO\tCONFIANZA\tALERTAS")
	failed := 0
	for _, r := range results {
		name := filepath.Base(r.path)
		if r.err != nil {
			failed++
			fmt.Fprintf(tw, "%s\t-\tERROR\t-\t%v\n", name, r.err)
			continue
		}
		s := services.Summarize(r.inv, minConfidence)
		codes := make([]string, 0, len(s.Flags))
		for _, f := range s.Flags {
			codes = append(codes, string(f.Code))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n",
			name, orDash(r.inv.NCF.Value), s.Status, r.inv.Confidence, orDash(strings.Join(codes, ",")))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
