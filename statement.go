package bankgo

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

// writeStatementPDF renders an account statement: the account header
// followed by every ledger entry in (occurred_at, id) order.
func writeStatementPDF(w io.Writer, acct *Account, txns []TransactionView) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Statement %s", acct.AcctID.String()), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, fmt.Sprintf("Account %s", acct.AcctID.String()))
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Opened %s", acct.OpeningDate.Format("2006-01-02")))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Balance %s", acct.Balance.String()))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(55, 7, "Date", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 7, "Type", "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 7, "Amount", "1", 0, "R", false, 0, "")
	pdf.CellFormat(60, 7, "Reference", "1", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, txn := range txns {
		pdf.CellFormat(55, 7, txn.OccurredAt.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, string(txn.Type), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 7, txn.Amount.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(60, 7, txn.ID, "1", 1, "L", false, 0, "")
	}

	return pdf.Output(w)
}
