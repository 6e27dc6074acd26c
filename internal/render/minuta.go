package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/xuri/excelize/v2"

	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/entity"
	"github.com/minutron/minutron/internal/extract"
)

// Table layout of the minuta template.
const (
	FirstRow    = 9
	LastRow     = 38
	RowsPerPage = LastRow - FirstRow + 1

	// headerScan bounds the search for the column titles.
	headerScan = 25
)

// Column titles the template must carry in one row.
var Columns = []string{"Ocorrência", "RAT", "Qtde", "Nota Fiscal", "Código", "Valor NF"}

// Converter turns one filled workbook into a PDF inside outDir.
type Converter interface {
	ToPDF(ctx context.Context, xlsxPath, outDir string) (string, error)
}

// MergeFunc concatenates PDFs into outFile.
type MergeFunc func(inFiles []string, outFile string) error

// MinutaRenderer fills the xlsx template page by page and merges the
// converted pages into one PDF.
type MinutaRenderer struct {
	template    string
	converter   Converter
	merge       MergeFunc
	attachments bool
	logger      *slog.Logger
}

// Option configures a MinutaRenderer.
type Option func(*MinutaRenderer)

// WithConverter replaces the soffice converter.
func WithConverter(c Converter) Option {
	return func(r *MinutaRenderer) { r.converter = c }
}

// WithMerger replaces the pdfcpu merge.
func WithMerger(m MergeFunc) Option {
	return func(r *MinutaRenderer) { r.merge = m }
}

// WithAttachments appends the request's source documents after the minuta.
func WithAttachments(on bool) Option {
	return func(r *MinutaRenderer) { r.attachments = on }
}

func NewMinutaRenderer(templatePath, soffice string, logger *slog.Logger, opts ...Option) *MinutaRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &MinutaRenderer{
		template:  templatePath,
		converter: NewSofficeConverter(soffice, extract.NewExecRunner(logger)),
		merge:     MergePDFs,
		logger:    logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render implements Renderer.
func (r *MinutaRenderer) Render(ctx context.Context, req Request) error {
	start := time.Now()

	tokens, err := Tokens(req)
	if err != nil {
		return common.NewAppError("RENDER_FAILED", "invalid render request", err)
	}
	items := SortByInvoice(req.Items)

	work, err := os.MkdirTemp("", "minuta_")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	pages := (len(items) + RowsPerPage - 1) / RowsPerPage
	if pages == 0 {
		pages = 1
	}

	var pdfs []string
	for p := 0; p < pages; p++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lo := p * RowsPerPage
		hi := min(lo+RowsPerPage, len(items))

		xlsx := filepath.Join(work, fmt.Sprintf("page_%d.xlsx", p+1))
		if err := r.FillPage(tokens, items[lo:hi], xlsx); err != nil {
			return common.NewAppError("RENDER_FAILED", fmt.Sprintf("fill page %d", p+1), err)
		}
		pdf, err := r.converter.ToPDF(ctx, xlsx, work)
		if err != nil {
			return common.NewAppError("RENDER_FAILED", fmt.Sprintf("convert page %d", p+1), err)
		}
		pdfs = append(pdfs, pdf)
	}

	if r.attachments {
		pdfs = append(pdfs, req.Attachments...)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := r.merge(pdfs, req.OutPath); err != nil {
		return common.NewAppError("RENDER_FAILED", "merge pages", err)
	}

	r.logger.Info("render.minuta.done",
		"out", req.OutPath,
		"items", len(items),
		"pages", pages,
		"attachments", len(pdfs)-pages,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// FillPage writes one page of items into a copy of the template at out.
func (r *MinutaRenderer) FillPage(tokens map[string]string, items []entity.LineItem, out string) error {
	if len(items) > RowsPerPage {
		return fmt.Errorf("%d items exceed one page", len(items))
	}
	f, err := excelize.OpenFile(r.template)
	if err != nil {
		return fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}

	for ri, row := range rows {
		for ci, v := range row {
			if !strings.Contains(v, "{{") {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(ci+1, ri+1)
			if err := f.SetCellStr(sheet, cell, replaceTokens(v, tokens)); err != nil {
				return err
			}
		}
	}

	cols, err := headerColumns(rows)
	if err != nil {
		return err
	}
	for i, it := range items {
		row := FirstRow + i
		set := func(title string, v any) error {
			cell, _ := excelize.CoordinatesToCellName(cols[title], row)
			return f.SetCellValue(sheet, cell, v)
		}
		for _, kv := range []struct {
			title string
			v     any
		}{
			{"Ocorrência", it.Occurrence},
			{"RAT", it.ResolvedStatus},
			{"Qtde", it.Quantity},
			{"Nota Fiscal", it.InvoiceNo},
			{"Código", it.ProductCode},
			{"Valor NF", FormatBRL(it.LineValue)},
		} {
			if err := set(kv.title, kv.v); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(out)
}

// headerColumns locates the 1-based column of every title in Columns.
func headerColumns(rows [][]string) (map[string]int, error) {
	for ri := 0; ri < len(rows) && ri < headerScan; ri++ {
		names := map[string]int{}
		for ci, v := range rows[ri] {
			if ci >= headerScan {
				break
			}
			if v = strings.TrimSpace(v); v != "" {
				names[v] = ci + 1
			}
		}
		found := map[string]int{}
		for _, c := range Columns {
			if col, ok := names[c]; ok {
				found[c] = col
			}
		}
		if len(found) == len(Columns) {
			return found, nil
		}
	}
	return nil, fmt.Errorf("template table header not found (want %s)", strings.Join(Columns, ", "))
}

// SortByInvoice orders items by the numeric value of their invoice
// number, keeping extraction order among equals.
func SortByInvoice(items []entity.LineItem) []entity.LineItem {
	out := append([]entity.LineItem(nil), items...)
	key := func(s string) int64 {
		var b strings.Builder
		for _, r := range s {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		n, _ := strconv.ParseInt("0"+b.String(), 10, 64)
		return n
	}
	sort.SliceStable(out, func(i, j int) bool { return key(out[i].InvoiceNo) < key(out[j].InvoiceNo) })
	return out
}

// MergePDFs concatenates PDFs with pdfcpu.
func MergePDFs(inFiles []string, outFile string) error {
	if len(inFiles) == 0 {
		return fmt.Errorf("nothing to merge")
	}
	return api.MergeCreateFile(inFiles, outFile, false, nil)
}
