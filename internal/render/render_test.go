package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/minutron/minutron/internal/entity"
)

func TestFormatBRL(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "R$ 0,00"},
		{12.5, "R$ 12,50"},
		{1234.56, "R$ 1.234,56"},
		{1234567.8, "R$ 1.234.567,80"},
		{-3.2, "-R$ 3,20"},
	}
	for _, tt := range tests {
		if got := FormatBRL(tt.in); got != tt.want {
			t.Errorf("FormatBRL(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokens(t *testing.T) {
	req := Request{
		City:    "Campinas",
		Header:  entity.Header{Carrier: "RAPIDO SUL", IssuerUF: "SP"},
		Items:   []entity.LineItem{{LineValue: 1000}, {LineValue: 234.56}},
		Date:    "2025-03-07",
		Volumes: 0,
	}
	tok, err := Tokens(req)
	if err != nil {
		t.Fatalf("Tokens() error = %v", err)
	}
	want := map[string]string{
		"{{LOCAL}}":          "CAMPINAS",
		"{{DIA}}":            "07",
		"{{MES}}":            "MARÇO",
		"{{ANO}}":            "2025",
		"{{DATA}}":           "07/03/2025",
		"{{VOLUMES}}":        "1",
		"{{TRANSPORTADOR}}":  "RAPIDO SUL",
		"{{TOTAL_VALOR_NF}}": "R$ 1.234,56",
	}
	for k, v := range want {
		if tok[k] != v {
			t.Errorf("%s = %q, want %q", k, tok[k], v)
		}
	}

	if _, err := Tokens(Request{Date: "07/03/2025"}); err == nil {
		t.Fatalf("expected error for non-ISO date")
	}
}

func TestSortByInvoice(t *testing.T) {
	items := []entity.LineItem{
		{InvoiceNo: "000123", ProductCode: "a"},
		{InvoiceNo: "45", ProductCode: "b"},
		{InvoiceNo: "", ProductCode: "c"},
		{InvoiceNo: "45", ProductCode: "d"},
	}
	got := SortByInvoice(items)
	var codes []string
	for _, it := range got {
		codes = append(codes, it.ProductCode)
	}
	if strings.Join(codes, "") != "cbda" {
		t.Fatalf("order = %v", codes)
	}
	if items[0].ProductCode != "a" {
		t.Fatalf("input slice was reordered")
	}
}

// writeTemplate builds a minimal minuta template with the table header on
// row 8 and columns deliberately out of order.
func writeTemplate(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	must := func(err error) {
		if err != nil {
			t.Fatalf("template: %v", err)
		}
	}
	must(f.SetCellStr(sheet, "A1", "{{LOCAL}}, {{DIA}} de {{MES}} de {{ANO}}"))
	must(f.SetCellStr(sheet, "C3", "Transportadora: {{TRANSPORTADOR}}"))
	must(f.SetCellStr(sheet, "C4", "Volumes: {{VOLUMES}}"))
	for i, title := range []string{"Código", "Ocorrência", "RAT", "Qtde", "Nota Fiscal", "Valor NF"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 8)
		must(f.SetCellStr(sheet, cell, title))
	}
	path := filepath.Join(t.TempDir(), "template.xlsx")
	must(f.SaveAs(path))
	return path
}

type page struct {
	cells map[string]string
}

// recordingConverter reads back the filled workbook and writes a stand-in pdf.
type recordingConverter struct {
	pages []page
	fail  bool
}

func (c *recordingConverter) ToPDF(_ context.Context, xlsxPath, outDir string) (string, error) {
	if c.fail {
		return "", errors.New("soffice crashed")
	}
	f, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	p := page{cells: map[string]string{}}
	for _, cell := range []string{"A1", "C3", "C4", "A9", "B9", "C9", "D9", "E9", "F9", "B10", "B38"} {
		v, _ := f.GetCellValue(sheet, cell)
		p.cells[cell] = v
	}
	c.pages = append(c.pages, p)

	out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(xlsxPath), ".xlsx")+".pdf")
	return out, os.WriteFile(out, []byte("%PDF-1.4"), 0o644)
}

type recordingMerger struct {
	in  []string
	out string
}

func (m *recordingMerger) merge(in []string, out string) error {
	m.in = append([]string(nil), in...)
	m.out = out
	return os.WriteFile(out, []byte("%PDF-merged"), 0o644)
}

func TestMinutaRendererPaginatesAndFills(t *testing.T) {
	tpl := writeTemplate(t)
	conv := &recordingConverter{}
	merger := &recordingMerger{}
	r := NewMinutaRenderer(tpl, "", nil,
		WithConverter(conv),
		WithMerger(merger.merge),
		WithAttachments(true),
	)

	var items []entity.LineItem
	for i := RowsPerPage + 1; i >= 1; i-- {
		items = append(items, entity.LineItem{
			Occurrence:     fmt.Sprintf("AB%08d", i),
			ProductCode:    fmt.Sprintf("%d", 1000+i),
			InvoiceNo:      fmt.Sprintf("%06d", i),
			Quantity:       1,
			LineValue:      10,
			ResolvedStatus: "GOOD",
		})
	}
	out := filepath.Join(t.TempDir(), "out", "minuta.pdf")
	err := r.Render(context.Background(), Request{
		City:        "Campinas",
		Header:      entity.Header{Carrier: "RAPIDO SUL"},
		Items:       items,
		Date:        "2025-03-07",
		Volumes:     3,
		OutPath:     out,
		Attachments: []string{"/tmp/danfe1.pdf"},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if len(conv.pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(conv.pages))
	}
	first := conv.pages[0].cells
	if first["A1"] != "CAMPINAS, 07 de MARÇO de 2025" {
		t.Errorf("A1 = %q", first["A1"])
	}
	if first["C3"] != "Transportadora: RAPIDO SUL" || first["C4"] != "Volumes: 3" {
		t.Errorf("tokens not replaced: %q / %q", first["C3"], first["C4"])
	}
	if first["B9"] != "AB00000001" || first["A9"] != "1001" || first["C9"] != "GOOD" {
		t.Errorf("row 9 = %v", first)
	}
	if first["E9"] != "000001" || first["F9"] != "R$ 10,00" || first["D9"] != "1" {
		t.Errorf("row 9 values = %v", first)
	}
	if first["B38"] != fmt.Sprintf("AB%08d", RowsPerPage) {
		t.Errorf("last row of page 1 = %q", first["B38"])
	}
	second := conv.pages[1].cells
	if second["B9"] != fmt.Sprintf("AB%08d", RowsPerPage+1) || second["B10"] != "" {
		t.Errorf("page 2 rows = %q,%q", second["B9"], second["B10"])
	}

	if len(merger.in) != 3 || merger.in[2] != "/tmp/danfe1.pdf" || merger.out != out {
		t.Fatalf("merge inputs = %v -> %q", merger.in, merger.out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestMinutaRendererEmptyBatchRendersOnePage(t *testing.T) {
	conv := &recordingConverter{}
	merger := &recordingMerger{}
	r := NewMinutaRenderer(writeTemplate(t), "", nil, WithConverter(conv), WithMerger(merger.merge))

	err := r.Render(context.Background(), Request{Date: "2025-03-07", OutPath: filepath.Join(t.TempDir(), "m.pdf"), Attachments: []string{"x.pdf"}})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(conv.pages) != 1 || len(merger.in) != 1 {
		t.Fatalf("pages = %d, merged = %v", len(conv.pages), merger.in)
	}
}

func TestMinutaRendererConversionFailure(t *testing.T) {
	r := NewMinutaRenderer(writeTemplate(t), "", nil,
		WithConverter(&recordingConverter{fail: true}),
		WithMerger(func([]string, string) error { t.Fatal("merge must not run"); return nil }),
	)
	err := r.Render(context.Background(), Request{Date: "2025-03-07", OutPath: filepath.Join(t.TempDir(), "m.pdf")})
	if err == nil || !strings.Contains(err.Error(), "RENDER_FAILED") {
		t.Fatalf("err = %v, want RENDER_FAILED", err)
	}
}

func TestFillPageMissingHeader(t *testing.T) {
	f := excelize.NewFile()
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r := NewMinutaRenderer(path, "", nil)
	err := r.FillPage(map[string]string{}, nil, filepath.Join(t.TempDir(), "p.xlsx"))
	if err == nil || !strings.Contains(err.Error(), "header not found") {
		t.Fatalf("err = %v", err)
	}
}

type fakeRunner struct {
	args []string
	make bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.args = append([]string{name}, args...)
	if f.make {
		outDir := args[len(args)-2]
		in := args[len(args)-1]
		out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(in), ".xlsx")+".pdf")
		return nil, nil, os.WriteFile(out, []byte("%PDF"), 0o644)
	}
	return nil, []byte("boom"), errors.New("exit status 1")
}

func TestSofficeConverter(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{make: true}
	c := NewSofficeConverter("", run)

	out, err := c.ToPDF(context.Background(), filepath.Join(dir, "page_1.xlsx"), dir)
	if err != nil {
		t.Fatalf("ToPDF() error = %v", err)
	}
	if out != filepath.Join(dir, "page_1.pdf") {
		t.Fatalf("out = %q", out)
	}
	if run.args[0] != "soffice" || !strings.Contains(strings.Join(run.args, " "), "--convert-to pdf") {
		t.Fatalf("args = %v", run.args)
	}

	_, err = NewSofficeConverter("soffice", &fakeRunner{}).ToPDF(context.Background(), "x.xlsx", dir)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}
