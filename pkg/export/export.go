// Package export renders tabular security records into downloadable documents.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Format names a supported output format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

var ErrEmptyHeader = errors.New("export: table needs at least one column")

// Table is an ordered set of rows under fixed columns.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

// Renderer turns a Table into file contents.
type Renderer interface {
	Render(t Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// RendererFor returns the renderer for format.
func RendererFor(format Format) (Renderer, error) {
	switch format {
	case FormatCSV:
		return CSV{}, nil
	case FormatPDF:
		return PDF{Generated: time.Now}, nil
	default:
		return nil, fmt.Errorf("export: unsupported format %q", format)
	}
}

// CSV renders RFC 4180 output with a header row.
type CSV struct{}

func (CSV) ContentType() string { return "text/csv" }
func (CSV) Extension() string   { return "csv" }

func (CSV) Render(t Table) ([]byte, error) {
	if len(t.Columns) == 0 {
		return nil, ErrEmptyHeader
	}
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.Rows {
		if err := w.Write(pad(row, len(t.Columns))); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// PDF renders a landscape A4 table, repeating the header on each page.
type PDF struct {
	Generated func() time.Time
}

func (PDF) ContentType() string { return "application/pdf" }
func (PDF) Extension() string   { return "pdf" }

const (
	pdfPageWidth = 277.0
	pdfRowHeight = 6.0
	pdfMaxCell   = 48
)

func (p PDF) Render(t Table) ([]byte, error) {
	if len(t.Columns) == 0 {
		return nil, ErrEmptyHeader
	}
	now := time.Now
	if p.Generated != nil {
		now = p.Generated
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	colWidth := pdfPageWidth / float64(len(t.Columns))

	header := func() {
		pdf.SetFont("Arial", "B", 9)
		for _, col := range t.Columns {
			pdf.CellFormat(colWidth, pdfRowHeight+1, col, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	pdf.SetHeaderFunc(func() {
		if t.Title != "" {
			pdf.SetFont("Arial", "B", 12)
			pdf.CellFormat(0, 8, strings.ToUpper(t.Title), "", 1, "L", false, 0, "")
		}
		header()
	})
	generatedAt := now().UTC().Format(time.RFC3339)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("generated %s - page %d", generatedAt, pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	for _, row := range t.Rows {
		for _, value := range pad(row, len(t.Columns)) {
			pdf.CellFormat(colWidth, pdfRowHeight, truncate(value, pdfMaxCell), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func pad(row []string, n int) []string {
	if len(row) >= n {
		return row[:n]
	}
	out := make([]string, n)
	copy(out, row)
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
