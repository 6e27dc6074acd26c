package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minutron/minutron/internal/extract"
)

// SofficeConverter converts workbooks with a headless LibreOffice.
type SofficeConverter struct {
	bin    string
	runner extract.Runner
}

func NewSofficeConverter(bin string, runner extract.Runner) *SofficeConverter {
	if bin == "" {
		bin = "soffice"
	}
	return &SofficeConverter{bin: bin, runner: runner}
}

// ToPDF implements Converter.
func (c *SofficeConverter) ToPDF(ctx context.Context, xlsxPath, outDir string) (string, error) {
	_, stderr, err := c.runner.Run(ctx, c.bin,
		"--headless", "--norestore", "--nolockcheck",
		"--convert-to", "pdf",
		"--outdir", outDir,
		xlsxPath,
	)
	if err != nil {
		return "", fmt.Errorf("soffice: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(xlsxPath), filepath.Ext(xlsxPath))+".pdf")
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("soffice produced no pdf: %w", err)
	}
	return out, nil
}
