package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
)

// PDFExporter exports reports to PDF format
type PDFExporter struct {
	// GeneratedBy is printed in the footer.
	GeneratedBy string
}

// NewPDFExporter creates a new PDF exporter instance
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{GeneratedBy: "wprobe"}
}

var _ ports.ReportExporter = (*PDFExporter)(nil)

// ExportReport renders an injection test report
func (e *PDFExporter) ExportReport(report *domain.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	e.addHeader(pdf, report)
	e.addSummary(pdf, report)
	e.addVerdicts(pdf, report)
	e.addChecks(pdf, report)
	e.addIVReuses(pdf, report)
	e.addFooter(pdf, report)

	// Output to bytes
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// addHeader adds the title and the test setup
func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, report *domain.Report) {
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 51, 102) // Dark blue
	pdf.CellFormat(0, 15, "Injection Test Report", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	if !report.StartedAt.IsZero() {
		pdf.CellFormat(0, 6, fmt.Sprintf("Started: %s   Duration: %s",
			report.StartedAt.Format("2006-01-02 15:04:05"),
			report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)), "", 1, "L", false, 0, "")
	}

	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 6, "Injecting: "+describeInterface(report.Inject), "", 1, "L", false, 0, "")
	capture := describeInterface(report.Capture)
	if report.Capture.Name == "" || report.Capture.Name == report.Inject.Name {
		capture = "same interface (only kernel interference is detectable)"
	}
	pdf.CellFormat(0, 6, "Capturing: "+capture, "", 1, "L", false, 0, "")
	if report.Peer != "" {
		pdf.CellFormat(0, 6, "Peer: "+report.Peer, "", 1, "L", false, 0, "")
	}
	if ap := report.AccessPoint; ap != nil {
		pdf.CellFormat(0, 6, fmt.Sprintf("Access point: %s (%s) %d dBm %s",
			ap.BSSID, ap.SSID, ap.SignalDBM, ap.Cipher), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)
}

func describeInterface(info domain.InterfaceInfo) string {
	s := info.Name
	if info.Driver != "" {
		s += " (" + info.Driver + ")"
	}
	if info.MAC != "" {
		s += " " + info.MAC
	}
	if info.Channel > 0 {
		s += fmt.Sprintf(" channel %d", info.Channel)
	}
	return s
}

// addSummary adds one colored box per verdict outcome
func (e *PDFExporter) addSummary(pdf *gofpdf.Fpdf, report *domain.Report) {
	summary := report.Summary()
	outcomes := []domain.Verdict{
		domain.VerdictPass, domain.VerdictFail, domain.VerdictSuspicious, domain.VerdictInconclusive,
	}

	y := pdf.GetY()
	for i, v := range outcomes {
		x := 20 + float64(i)*43
		r, g, b := e.getVerdictColor(v)
		pdf.SetFillColor(r, g, b)
		pdf.Rect(x, y, 40, 22, "F")

		pdf.SetTextColor(255, 255, 255) // White
		pdf.SetFont("Arial", "B", 18)
		pdf.SetXY(x, y+2)
		pdf.CellFormat(40, 10, fmt.Sprintf("%d", summary[v]), "", 0, "C", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.SetXY(x, y+13)
		pdf.CellFormat(40, 6, string(v), "", 0, "C", false, 0, "")
	}
	pdf.SetY(y + 28)
}

// getVerdictColor returns RGB color based on verdict
func (e *PDFExporter) getVerdictColor(v domain.Verdict) (r, g, b int) {
	switch v {
	case domain.VerdictPass:
		return 52, 199, 89 // Green
	case domain.VerdictFail:
		return 220, 53, 69 // Red
	case domain.VerdictSuspicious:
		return 255, 149, 0 // Orange
	default:
		return 150, 150, 150 // Gray
	}
}

// addVerdicts adds the verdict table
func (e *PDFExporter) addVerdicts(pdf *gofpdf.Fpdf, report *domain.Report) {
	e.sectionTitle(pdf, "Probe Verdicts")

	if len(report.Verdicts) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 7, "No probes were run", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	// Table header
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(50, 8, "Probe", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Verdict", "1", 0, "C", true, 0, "")
	pdf.CellFormat(20, 8, "Frames", "1", 0, "C", true, 0, "")
	pdf.CellFormat(70, 8, "Rationale", "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, v := range report.Verdicts {
		if pdf.GetY() > 265 {
			pdf.AddPage()
		}
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(50, 7, v.Name(), "1", 0, "L", false, 0, "")

		r, g, b := e.getVerdictColor(v.Verdict)
		pdf.SetTextColor(r, g, b)
		pdf.CellFormat(30, 7, string(v.Verdict), "1", 0, "C", false, 0, "")

		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(20, 7, fmt.Sprintf("%d/%d", v.Captured, v.Injected), "1", 0, "C", false, 0, "")

		// Truncate rationale if too long
		rationale := v.Rationale
		if len(rationale) > 45 {
			rationale = rationale[:42] + "..."
		}
		pdf.CellFormat(70, 7, rationale, "1", 1, "L", false, 0, "")
	}
	pdf.Ln(8)
}

// addChecks lists the sub-checks of verdicts that have them
func (e *PDFExporter) addChecks(pdf *gofpdf.Fpdf, report *domain.Report) {
	var withChecks []domain.TestVerdict
	for _, v := range report.Verdicts {
		if len(v.Checks) > 0 {
			withChecks = append(withChecks, v)
		}
	}
	if len(withChecks) == 0 {
		return
	}

	e.sectionTitle(pdf, "Field Checks")
	for _, v := range withChecks {
		pdf.SetFont("Arial", "B", 10)
		pdf.SetTextColor(0, 51, 102)
		pdf.CellFormat(0, 6, v.Name(), "", 1, "L", false, 0, "")

		pdf.SetFont("Arial", "", 9)
		for _, c := range v.Checks {
			status, r, g, b := "preserved", 52, 199, 89
			if !c.Passed {
				status, r, g, b = "FAILED", 220, 53, 69
			}
			pdf.CellFormat(5, 5, "", "", 0, "L", false, 0, "")
			pdf.SetTextColor(60, 60, 60)
			pdf.CellFormat(45, 5, "- "+c.Name, "", 0, "L", false, 0, "")
			pdf.SetTextColor(r, g, b)
			line := status
			if c.Detail != "" {
				line += ": " + c.Detail
			}
			pdf.CellFormat(0, 5, line, "", 1, "L", false, 0, "")
		}
		pdf.Ln(2)
	}
	pdf.Ln(4)
}

// addIVReuses adds the IV reuse table
func (e *PDFExporter) addIVReuses(pdf *gofpdf.Fpdf, report *domain.Report) {
	if len(report.IVReuses) == 0 {
		return
	}
	if pdf.GetY() > 240 {
		pdf.AddPage()
	}
	e.sectionTitle(pdf, "IV Reuse")

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(40, 8, "Transmitter", "1", 0, "L", true, 0, "")
	pdf.CellFormat(35, 8, "IV", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 8, "Seq", "1", 0, "C", true, 0, "")
	pdf.CellFormat(25, 8, "Cipher", "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 8, "Seen", "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, ev := range report.IVReuses {
		pdf.CellFormat(40, 7, ev.Transmitter, "1", 0, "L", false, 0, "")
		iv := fmt.Sprintf("%d", ev.IV)
		if ev.ApproximateIV {
			iv += " ~"
		}
		pdf.CellFormat(35, 7, iv, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d -> %d", ev.PreviousSeq, ev.Seq), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 7, ev.Cipher, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 7, ev.SeenAt.Format("15:04:05.000"), "1", 1, "L", false, 0, "")
	}
	if hasApproximateIV(report.IVReuses) {
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 6, "~ TKIP IV read with the CCMP octet layout", "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)
}

func hasApproximateIV(events []domain.IVReuseEvent) bool {
	for _, ev := range events {
		if ev.ApproximateIV {
			return true
		}
	}
	return false
}

func (e *PDFExporter) sectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

// addFooter adds the report footer
func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf, report *domain.Report) {
	// Move to bottom
	pdf.SetY(-20)

	// Separator line
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(3)

	id := report.ID
	if len(id) > 8 {
		id = id[:8]
	}
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	footerText := fmt.Sprintf("Generated by %s | Report ID: %s", e.GeneratedBy, id)
	pdf.CellFormat(0, 5, footerText, "", 1, "C", false, 0, "")
}
