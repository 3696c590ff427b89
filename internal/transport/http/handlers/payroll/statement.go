package payrollhandler

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"payrollx/internal/domain/payroll"
)

func itoa(v int) string {
	return strconv.Itoa(v)
}

// RenderStatement lays out a run and its items as a one-document PDF.
func RenderStatement(run payroll.Run) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payroll run "+run.ID, false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Payroll run statement")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	for _, line := range []string{
		"Run: " + run.ID,
		"Organization: " + run.OrganizationID,
		"Status: " + string(run.Status),
		"Scheduled: " + run.ScheduledAt.Format("2006-01-02 15:04 MST"),
		fmt.Sprintf("Total: %s %s", run.TotalAmount.StringFixed(2), run.Currency),
		"Source wallet: " + orDash(run.SourceWallet),
	} {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}
	pdf.Ln(4)

	widths := []float64{40, 30, 28, 14, 78}
	pdf.SetFont("Helvetica", "B", 10)
	for i, head := range []string{"Employee", "Amount", "Status", "Tries", "Signature / last error"} {
		pdf.CellFormat(widths[i], 7, head, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, item := range run.Items {
		detail := item.TxSignature
		if detail == "" {
			detail = item.LastError
		}
		cells := []string{
			item.EmployeeID,
			item.Amount.StringFixed(2),
			string(item.Status),
			itoa(item.RetryCount),
			truncate(orDash(detail), 48),
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 6, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
