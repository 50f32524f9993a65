package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
	"github.com/xelth-com/tapcount/internal/reconcile"
)

// Meta is the header information printed above the variance table
type Meta struct {
	ZoneName    string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	// DeepLink opens the read-only session view; rendered as a QR code when set
	DeepLink string
}

// SessionQR encodes a session deep link as a PNG
func SessionQR(link string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(link, qrcode.Medium, size)
}

// SessionLink is the deep link for a session's read-only view
func SessionLink(publicURL string, sessionID int64) string {
	return fmt.Sprintf("%s/sessions/%d", publicURL, sessionID)
}

// Column widths in mm, A4 portrait with 15mm margins
var columns = []struct {
	title string
	width float64
	align string
}{
	{"Product", 80, "L"},
	{"Type", 20, "C"},
	{"Expected", 25, "R"},
	{"Counted", 25, "R"},
	{"Variance", 30, "R"},
}

// VariancePDF renders a session's variance report
func VariancePDF(r reconcile.Report, meta Meta) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	// Title block
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 8, fmt.Sprintf("Inventory count #%d", r.SessionID), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	zone := meta.ZoneName
	if zone == "" {
		zone = fmt.Sprintf("Zone %d", r.ZoneID)
	}
	pdf.CellFormat(0, 5, zone, "", 1, "L", false, 0, "")
	if !meta.StartedAt.IsZero() {
		pdf.CellFormat(0, 5, "Started: "+meta.StartedAt.Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	}
	if meta.CompletedAt != nil {
		pdf.CellFormat(0, 5, "Completed: "+meta.CompletedAt.Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	}
	if meta.Status != "" {
		pdf.CellFormat(0, 5, "Status: "+meta.Status, "", 1, "L", false, 0, "")
	}

	if meta.DeepLink != "" {
		qrPng, err := SessionQR(meta.DeepLink, 256)
		if err != nil {
			return nil, err
		}
		imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
		pdf.RegisterImageOptionsReader("session_qr", imgOptions, bytes.NewReader(qrPng))
		pdf.ImageOptions("session_qr", 170, 12, 25, 25, false, imgOptions, 0, "")
	}

	pdf.Ln(8)

	// Table header
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range columns {
		pdf.CellFormat(col.width, 7, col.title, "1", 0, col.align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, line := range r.Lines {
		kind := "Bottle"
		if line.IsKeg {
			kind = "Keg"
		}
		if line.Large {
			pdf.SetTextColor(180, 0, 0)
		}
		cells := []string{
			line.ProductName,
			kind,
			fmt.Sprintf("%.2f", line.Expected),
			fmt.Sprintf("%.2f", line.Counted),
			signed(line.Variance.StringFixed(2)),
		}
		for i, col := range columns {
			pdf.CellFormat(col.width, 6, cells[i], "1", 0, col.align, false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Products counted: %d   Total units: %.2f   Large variances: %d",
		len(r.Lines), r.Total, r.LargeCount), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func signed(s string) string {
	if len(s) > 0 && s[0] != '-' && s != "0.00" {
		return "+" + s
	}
	return s
}
