// Package extract turns a DANFE PDF into raw text and raw tables.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNoPages is returned for a PDF that holds no pages.
var ErrNoPages = errors.New("document has no pages")

// Table is one extracted table: rows of cells, cells may contain newlines.
type Table [][]string

// Result is the raw output of one extraction.
type Result struct {
	Text     string
	Tables   []Table
	Pages    int
	Duration time.Duration
	Warnings []string
}

// DocumentExtractor returns raw text and tables for a document path.
type DocumentExtractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	// TableCmd is an optional command line; the document path is appended
	// and stdout must be a JSON array of tables ([][][]string).
	TableCmd string
}

type Extractor struct {
	cfg       Config
	runner    Runner
	pageCount func(path string) (int, error)
	logger    *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.TableCmd == "" {
		logger.Warn("extract.tables.disabled", "hint", "set TABLE_EXTRACTOR_CMD; item grids fall back to the text layout")
	}
	return &Extractor{
		cfg:       cfg,
		runner:    execRunner{logger: logger},
		pageCount: api.PageCountFile,
		logger:    logger,
	}
}

// WithPageCounter swaps the PDF page counter, used by tests.
func (e *Extractor) WithPageCounter(fn func(path string) (int, error)) *Extractor {
	e.pageCount = fn
	return e
}

// WithRunner swaps the command runner, used by tests.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// Extract runs pdftotext and, when configured, the table helper.
// A table helper failure is reported as a warning, not an error.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	var res Result

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return res, fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	res.Text = string(out)
	// A form-feed \f is used as page separator by default
	res.Pages = 1 + strings.Count(strings.TrimRight(res.Text, "\f"), "\f")

	// pdftotext happily prints nothing for an empty PDF; pdfcpu knows better
	switch n, err := e.pageCount(path); {
	case err != nil:
		e.logger.Debug("extract.page_count.failed", "path", path, "error", err)
	case n == 0:
		return res, fmt.Errorf("%s: %w", path, ErrNoPages)
	default:
		res.Pages = n
	}

	if e.cfg.TableCmd != "" {
		tables, err := e.tables(ctx, path)
		if err != nil {
			e.logger.Warn("extract.tables.failed", "path", path, "error", err)
			res.Warnings = append(res.Warnings, "tables: "+err.Error())
		} else {
			res.Tables = tables
		}
	}

	res.Duration = time.Since(start)
	e.logger.Debug("extract.done",
		"path", path,
		"pages", res.Pages,
		"tables", len(res.Tables),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) tables(ctx context.Context, path string) ([]Table, error) {
	fields := strings.Fields(e.cfg.TableCmd)
	args := append(fields[1:], path)
	out, errb, err := e.runner.Run(ctx, fields[0], args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", fields[0], err, truncate(string(errb), 512))
	}
	return DecodeTables(out)
}

// DecodeTables parses the table helper's JSON output. Null cells become "".
func DecodeTables(data []byte) ([]Table, error) {
	var raw [][][]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	tables := make([]Table, 0, len(raw))
	for _, t := range raw {
		table := make(Table, 0, len(t))
		for _, row := range t {
			cells := make([]string, len(row))
			for i, c := range row {
				if c != nil {
					cells[i] = *c
				}
			}
			table = append(table, cells)
		}
		tables = append(tables, table)
	}
	return tables, nil
}
