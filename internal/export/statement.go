// Package export renders loan statements as PDF and XLSX documents.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

// Statement is everything a rendered statement shows.
type Statement struct {
	Loan        domain.LoanView
	Schedule    []*domain.Installment
	Payments    []*domain.Payment
	GeneratedAt time.Time
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/pdf"
}

// Render builds the statement in format ("pdf" or "xlsx").
func Render(stmt *Statement, format string) ([]byte, error) {
	switch format {
	case FormatPDF:
		return BuildStatementPDF(stmt)
	case FormatXLSX:
		return BuildStatementXLSX(stmt)
	default:
		return nil, fmt.Errorf("unsupported statement format %q", format)
	}
}

// BuildStatementPDF renders a loan statement with the schedule and payment history.
func BuildStatementPDF(stmt *Statement) ([]byte, error) {
	loan := stmt.Loan

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Loan Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, line := range []string{
		fmt.Sprintf("Loan: %s", loan.ID),
		fmt.Sprintf("Client: %s", loan.ClientID),
		fmt.Sprintf("Status: %s", loan.Status),
		fmt.Sprintf("Principal: %s at %s%% for %d months (%s)",
			loan.Principal.StringFixed(2), loan.InterestRate.String(), loan.TermMonths, loan.PaymentFrequency),
		fmt.Sprintf("Installment: %s x %d", loan.PaymentAmount.StringFixed(2), loan.TotalPayments),
		fmt.Sprintf("Total: %s  Paid: %s  Remaining: %s",
			loan.TotalAmount.StringFixed(2), loan.PaidAmount.StringFixed(2), loan.RemainingBalance.StringFixed(2)),
		fmt.Sprintf("Progress: %s%%  Next payment: %s",
			loan.PaymentProgress.StringFixed(2), loan.NextPaymentDate.Format("2006-01-02")),
		fmt.Sprintf("Generated: %s", stmt.GeneratedAt.Format(time.RFC3339)),
	} {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(15, 6, "#", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Due date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range stmt.Schedule {
		pdf.CellFormat(15, 6, fmt.Sprintf("%d", row.Number), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, row.DueDate.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, row.DueAmount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, row.Status, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	if len(stmt.Payments) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 6, "Paid on", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Amount", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Method", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, p := range stmt.Payments {
			pdf.CellFormat(40, 6, p.PaymentDate.Format("2006-01-02"), "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, p.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, string(p.Method), "1", 0, "C", false, 0, "")
			pdf.CellFormat(30, 6, string(p.Status), "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders the statement as a workbook with summary, schedule and
// payments sheets.
func BuildStatementXLSX(stmt *Statement) ([]byte, error) {
	loan := stmt.Loan

	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	scheduleSheet := "schedule"
	paymentsSheet := "payments"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(scheduleSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(paymentsSheet); err != nil {
		return nil, err
	}

	summary := [][2]interface{}{
		{"Loan", loan.ID},
		{"Client", loan.ClientID},
		{"Status", string(loan.Status)},
		{"Principal", loan.Principal.InexactFloat64()},
		{"Interest rate (%)", loan.InterestRate.InexactFloat64()},
		{"Term (months)", loan.TermMonths},
		{"Frequency", string(loan.PaymentFrequency)},
		{"Installment", loan.PaymentAmount.InexactFloat64()},
		{"Total payments", loan.TotalPayments},
		{"Total amount", loan.TotalAmount.InexactFloat64()},
		{"Paid amount", loan.PaidAmount.InexactFloat64()},
		{"Remaining balance", loan.RemainingBalance.InexactFloat64()},
		{"Progress (%)", loan.PaymentProgress.InexactFloat64()},
		{"Next payment", loan.NextPaymentDate.Format("2006-01-02")},
		{"Generated", stmt.GeneratedAt.Format(time.RFC3339)},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Loan Statement")
	for i, kv := range summary {
		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), kv[1])
	}

	_ = f.SetCellValue(scheduleSheet, "A1", "#")
	_ = f.SetCellValue(scheduleSheet, "B1", "Due date")
	_ = f.SetCellValue(scheduleSheet, "C1", "Amount")
	_ = f.SetCellValue(scheduleSheet, "D1", "Status")
	for i, row := range stmt.Schedule {
		r := i + 2
		_ = f.SetCellValue(scheduleSheet, fmt.Sprintf("A%d", r), row.Number)
		_ = f.SetCellValue(scheduleSheet, fmt.Sprintf("B%d", r), row.DueDate.Format("2006-01-02"))
		_ = f.SetCellValue(scheduleSheet, fmt.Sprintf("C%d", r), row.DueAmount.InexactFloat64())
		_ = f.SetCellValue(scheduleSheet, fmt.Sprintf("D%d", r), row.Status)
	}

	_ = f.SetCellValue(paymentsSheet, "A1", "Paid on")
	_ = f.SetCellValue(paymentsSheet, "B1", "Amount")
	_ = f.SetCellValue(paymentsSheet, "C1", "Method")
	_ = f.SetCellValue(paymentsSheet, "D1", "Status")
	_ = f.SetCellValue(paymentsSheet, "E1", "Receipt")
	for i, p := range stmt.Payments {
		r := i + 2
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("A%d", r), p.PaymentDate.Format("2006-01-02"))
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("B%d", r), p.Amount.InexactFloat64())
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("C%d", r), string(p.Method))
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("D%d", r), string(p.Status))
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("E%d", r), p.ReceiptImage)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
