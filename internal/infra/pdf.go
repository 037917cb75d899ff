package infra

// pdf.go renders the sale-details sheet printed for sales saved on a token.
// The page is receipt-sized (74mm wide) and holds the sale header, the item
// table with package children indented, totals and the payments recorded.

import (
	"fmt"
	"os"
	"path/filepath"

	"retailpos/internal/model"

	"github.com/go-pdf/fpdf"
)

// GenerateSaleDetailsPDF writes the details of sale to storagePath
// (created if needed) and returns the file path.
func GenerateSaleDetailsPDF(sale *model.Sale, storeName, storagePath string) (string, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}

	filePath := filepath.Join(storagePath, fmt.Sprintf("sale_%d.pdf", sale.Identifier))

	// height grows with the item count; fpdf has no roll-paper size
	height := 90.0 + 5*float64(len(sale.Items))
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 74, Ht: height},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.SetAutoPageBreak(false, 4)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentW, 7, tr(storeName), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(contentW, 5, "Sale details (not a fiscal document)", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 8)
	pdf.CellFormat(contentW, 5, fmt.Sprintf("Sale #%d", sale.Identifier), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW, 4, sale.OpenDate.Format("02/01/2006  15:04"), "", 1, "L", false, 0, "")
	if sale.Client != nil {
		pdf.CellFormat(contentW, 4, tr("Client: "+sale.Client.Name), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Items ────────────────────────────────────────────────────────────────
	col1 := contentW * 0.52
	col2 := contentW * 0.16
	col3 := contentW * 0.32

	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(col1, 5, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(col2, 5, "Qty", "B", 0, "C", false, 0, "")
	pdf.CellFormat(col3, 5, "Total", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	for _, item := range sale.Items {
		name := ""
		if item.Sellable != nil {
			name = item.Sellable.Description
		}
		if item.ParentItemID != nil {
			name = "  " + name
		}
		if r := []rune(name); len(r) > 24 {
			name = string(r[:23]) + "."
		}
		total, err := item.Price.MulQuantity(item.Quantity)
		if err != nil {
			return "", fmt.Errorf("pdf: item total: %w", err)
		}
		pdf.CellFormat(col1, 5, tr(name), "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, 5, item.Quantity.String(), "", 0, "C", false, 0, "")
		pdf.CellFormat(col3, 5, total.String(), "", 1, "R", false, 0, "")
	}

	pdf.Ln(2)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Totals ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "", 7)
	if !sale.Discount.IsZero() {
		pdf.CellFormat(col1+col2, 5, "Discount:", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 5, "-"+sale.Discount.String(), "", 1, "R", false, 0, "")
	}
	if !sale.Surcharge.IsZero() {
		pdf.CellFormat(col1+col2, 5, "Surcharge:", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 5, sale.Surcharge.String(), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(col1+col2, 6, "TOTAL:", "", 0, "L", false, 0, "")
	pdf.CellFormat(col3, 6, sale.TotalAmount.String(), "", 1, "R", false, 0, "")

	// ── Payments ─────────────────────────────────────────────────────────────
	if sale.Group != nil && len(sale.Group.Payments) > 0 {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "", 7)
		for _, p := range sale.Group.Payments {
			if p.Status == model.PaymentCancelled {
				continue
			}
			pdf.CellFormat(col1+col2, 4, fmt.Sprintf("%s %s:", p.Method, p.DueDate.Format("02/01")), "", 0, "L", false, 0, "")
			pdf.CellFormat(col3, 4, p.Value.String(), "", 1, "R", false, 0, "")
		}
	}

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return filePath, nil
}
