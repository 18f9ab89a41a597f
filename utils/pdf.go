package utils

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"growthos/models"
)

// FormatCents renders an amount in cents as "USD 1,234.50".
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100

	digits := fmt.Sprintf("%d", whole)
	var grouped []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped = append(grouped, ',')
		}
		grouped = append(grouped, d)
	}
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, grouped, frac)
}

// RenderInvoicePDF lays out an invoice on a single A4 page.
func RenderInvoicePDF(inv models.Invoice, issuer string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Invoice "+inv.Number, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, issuer)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, "Invoice "+inv.Number)
	pdf.Ln(6)
	pdf.Cell(0, 6, "Issued: "+inv.IssueDate.Format("2006-01-02"))
	pdf.Ln(6)
	if inv.DueDate != nil {
		pdf.Cell(0, 6, "Due: "+inv.DueDate.Format("2006-01-02"))
		pdf.Ln(6)
	}
	pdf.Cell(0, 6, "Bill to: "+inv.ClientName)
	pdf.Ln(6)
	if inv.ClientEmail != "" {
		pdf.Cell(0, 6, inv.ClientEmail)
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(100, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 8, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 8, "Unit", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, item := range inv.Items {
		pdf.CellFormat(100, 7, item.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%g", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, FormatCents(item.UnitPrice, inv.Currency), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, FormatCents(item.Amount(), inv.Currency), "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(155, 8, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, FormatCents(inv.Total(), inv.Currency), "1", 1, "R", false, 0, "")

	if inv.Notes != "" {
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, inv.Notes, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice: %w", err)
	}
	return buf.Bytes(), nil
}

// ReportSection is a titled list of label/value lines.
type ReportSection struct {
	Title string
	Lines [][2]string
}

// RenderReportPDF renders a simple multi-section report.
func RenderReportPDF(title string, generatedAt time.Time, sections []ReportSection) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	pdf.Cell(0, 6, "Generated "+generatedAt.Format(time.RFC1123))
	pdf.Ln(10)

	for _, section := range sections {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.Cell(0, 8, section.Title)
		pdf.Ln(9)
		pdf.SetFont("Helvetica", "", 10)
		for _, line := range section.Lines {
			pdf.CellFormat(90, 6, line[0], "B", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, line[1], "B", 1, "R", false, 0, "")
		}
		pdf.Ln(6)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}
