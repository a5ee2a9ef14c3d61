// Package report renders a submission as a printable PDF expense report.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

// Page geometry in millimetres.
const (
	marginLeft = 20.0
	colBudget  = 100.0
	colAmount  = 160.0
	ruleRight  = 190.0
	descWidth  = 70.0
	pageBottom = 270.0
	lineHeight = 10.0
	signatureW = 60.0
)

// ContentType is the MIME type of rendered reports.
const ContentType = "application/pdf"

// Filename returns the download name for a submission's report.
func Filename(id string) string {
	return fmt.Sprintf("expense-report-%s.pdf", id)
}

// Render writes the expense report for s to w.
func Render(w io.Writer, s *schema.Submission) error {
	pdf, err := build(s)
	if err != nil {
		return err
	}
	return pdf.Output(w)
}

func build(s *schema.Submission) (*fpdf.Fpdf, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Expense Report", true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	y := 20.0
	newLine := func(step float64) {
		y += step
		if y > pageBottom {
			pdf.AddPage()
			y = 20
		}
	}

	pdf.SetFont("Helvetica", "", 16)
	pdf.Text(marginLeft, y, "Expense Report")
	newLine(20)

	pdf.SetFont("Helvetica", "", 12)
	for _, line := range []string{
		"Name: " + orNA(s.Name),
		"Email: " + orNA(s.Email),
		"Phone number: " + orNA(s.Phone),
		"Date: " + orNA(s.Date),
	} {
		pdf.Text(marginLeft, y, tr(line))
		newLine(lineHeight)
	}
	if s.Officers != "" {
		pdf.Text(marginLeft, y, tr("Budget: "+s.Officers))
		newLine(lineHeight)
	}
	newLine(lineHeight)

	pdf.Text(marginLeft, y, "Description")
	pdf.Text(colBudget, y, "Budget Line")
	pdf.Text(colAmount, y, "Amount")
	newLine(5)
	pdf.Line(marginLeft, y, ruleRight, y)
	newLine(lineHeight)

	for _, item := range s.Items {
		desc := pdf.SplitText(orNA(item.Description), descWidth)
		if len(desc) == 0 {
			desc = []string{"N/A"}
		}
		for i, line := range desc {
			pdf.Text(marginLeft, y+float64(i)*5, tr(line))
		}
		pdf.Text(colBudget, y, tr(orNA(item.BudgetLine)))
		pdf.Text(colAmount, y, "$"+schema.ParseAmount(item.Amount).StringFixed(2))
		newLine(max(float64(len(desc))*5, lineHeight))
	}

	newLine(5)
	pdf.Line(marginLeft, y, ruleRight, y)
	newLine(lineHeight)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(colBudget, y, "Total")
	pdf.Text(colAmount, y, "$"+s.ComputedTotal().StringFixed(2))
	pdf.SetFont("Helvetica", "", 12)
	newLine(20)

	if s.Signature != "" {
		if !drawSignatureImage(pdf, s, &y) {
			pdf.Text(marginLeft, y, tr("Signature: "+s.Signature))
		}
		newLine(lineHeight)
	}
	if s.SignatureDate != "" {
		pdf.Text(marginLeft, y, tr("Date of signature: "+s.SignatureDate))
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return pdf, nil
}

// RenderBytes renders the report into memory.
func RenderBytes(s *schema.Submission) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawSignatureImage embeds a drawn signature. It reports false when the
// signature is not a decodable PNG or JPEG data URL.
func drawSignatureImage(pdf *fpdf.Fpdf, s *schema.Submission, y *float64) bool {
	if !schema.IsDataURL(s.Signature) {
		return false
	}
	mediaType, data, err := schema.ParseDataURL(s.Signature)
	if err != nil {
		return false
	}
	var imageType string
	switch strings.ToLower(mediaType) {
	case "image/png":
		imageType = "PNG"
	case "image/jpeg", "image/jpg":
		imageType = "JPG"
	default:
		return false
	}

	name := "signature-" + s.ID
	opts := fpdf.ImageOptions{ImageType: imageType, ReadDpi: true}
	info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if pdf.Error() != nil || info == nil || info.Width() == 0 {
		// A bad image must not fail the whole report.
		pdf.ClearError()
		return false
	}

	pdf.Text(marginLeft, *y, "Signature:")
	height := signatureW * info.Height() / info.Width()
	pdf.ImageOptions(name, marginLeft, *y+2, signatureW, height, false, opts, 0, "")
	*y += height + 2
	return true
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}
