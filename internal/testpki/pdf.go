package testpki

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf16"
)

const contentsPlaceholderSize = 16384

// SignatureFields describe a PDF signature dictionary.
type SignatureFields struct {
	FieldName   string
	Filter      string
	SubFilter   string
	Name        string
	Reason      string
	Location    string
	ContactInfo string
	SigningTime time.Time
	// Contents replaces the generated container when set.
	Contents []byte
	// CMS options used when Contents is nil.
	CMS []CMSOption
}

// PDFBuilder assembles a minimal PDF and appends signatures as incremental
// updates, each covering everything written before it.
type PDFBuilder struct {
	buf     bytes.Buffer
	nextObj int
	fields  []int
}

// NewPDF starts a one-page document.
func NewPDF() *PDFBuilder {
	b := &PDFBuilder{nextObj: 4}
	b.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	b.buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	b.buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	b.buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>\nendobj\n")
	b.buf.WriteString("trailer\n<< /Size 4 /Root 1 0 R >>\n%%EOF\n")
	return b
}

// Bytes returns the document written so far.
func (b *PDFBuilder) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// Sign appends a signature by signer and returns the covered bytes.
func (b *PDFBuilder) Sign(t testing.TB, signer *Identity, f SignatureFields) []byte {
	t.Helper()
	if f.Filter == "" {
		f.Filter = "Adobe.PPKLite"
	}
	if f.SubFilter == "" {
		f.SubFilter = "adbe.pkcs7.detached"
	}
	if f.FieldName == "" {
		f.FieldName = fmt.Sprintf("Signature%d", len(b.fields)+1)
	}

	sigObj := b.nextObj
	fieldObj := b.nextObj + 1
	catalogObj := 1
	b.nextObj += 2
	b.fields = append(b.fields, fieldObj)

	var dict strings.Builder
	fmt.Fprintf(&dict, "%d 0 obj\n<< /Type /Sig /Filter /%s /SubFilter /%s", sigObj, f.Filter, f.SubFilter)
	if f.Name != "" {
		fmt.Fprintf(&dict, " /Name %s", pdfString(f.Name))
	}
	if f.Reason != "" {
		fmt.Fprintf(&dict, " /Reason %s", pdfString(f.Reason))
	}
	if f.Location != "" {
		fmt.Fprintf(&dict, " /Location %s", pdfString(f.Location))
	}
	if f.ContactInfo != "" {
		fmt.Fprintf(&dict, " /ContactInfo %s", pdfString(f.ContactInfo))
	}
	if !f.SigningTime.IsZero() {
		fmt.Fprintf(&dict, " /M (%s)", pdfDate(f.SigningTime))
	}
	dict.WriteString(" /ByteRange ")
	byteRangeOffset := b.buf.Len() + dict.Len()
	byteRangePlaceholder := "[" + strings.Repeat(" ", 46) + "]"
	dict.WriteString(byteRangePlaceholder)
	dict.WriteString(" /Contents ")
	contentsStart := b.buf.Len() + dict.Len()
	dict.WriteString("<" + strings.Repeat("0", contentsPlaceholderSize) + ">")
	contentsEnd := b.buf.Len() + dict.Len()
	dict.WriteString(" >>\nendobj\n")

	fmt.Fprintf(&dict, "%d 0 obj\n<< /Type /Annot /Subtype /Widget /FT /Sig /T %s /V %d 0 R /P 3 0 R /Rect [0 0 0 0] >>\nendobj\n",
		fieldObj, pdfString(f.FieldName), sigObj)

	var kids []string
	for _, obj := range b.fields {
		kids = append(kids, fmt.Sprintf("%d 0 R", obj))
	}
	fmt.Fprintf(&dict, "%d 0 obj\n<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [%s] /SigFlags 3 >> >>\nendobj\n",
		catalogObj, strings.Join(kids, " "))
	fmt.Fprintf(&dict, "trailer\n<< /Size %d /Root 1 0 R >>\n%%%%EOF\n", b.nextObj)

	b.buf.WriteString(dict.String())
	data := b.buf.Bytes()

	total := len(data)
	byteRange := fmt.Sprintf("[0 %d %d %d]", contentsStart, contentsEnd, total-contentsEnd)
	if len(byteRange) > len(byteRangePlaceholder) {
		t.Fatalf("ByteRange %s does not fit placeholder", byteRange)
	}
	byteRange += strings.Repeat(" ", len(byteRangePlaceholder)-len(byteRange))
	copy(data[byteRangeOffset:], byteRange)

	covered := make([]byte, 0, total-(contentsEnd-contentsStart))
	covered = append(covered, data[:contentsStart]...)
	covered = append(covered, data[contentsEnd:]...)

	contents := f.Contents
	if contents == nil {
		contents = SignCMS(t, signer, covered, f.CMS...)
	}
	encoded := hex.EncodeToString(contents)
	if len(encoded) > contentsPlaceholderSize {
		t.Fatalf("signature container of %d bytes does not fit placeholder", len(contents))
	}
	copy(data[contentsStart+1:], encoded)

	return covered
}

// pdfString encodes s as a literal string, or as UTF-16BE hex when it is not ASCII.
func pdfString(s string) string {
	ascii := true
	for _, r := range s {
		if r > 0x7e {
			ascii = false
			break
		}
	}
	if ascii {
		r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
		return "(" + r.Replace(s) + ")"
	}

	units := utf16.Encode([]rune(s))
	raw := []byte{0xfe, 0xff}
	for _, u := range units {
		raw = append(raw, byte(u>>8), byte(u))
	}
	return "<" + strings.ToUpper(hex.EncodeToString(raw)) + ">"
}

func pdfDate(t time.Time) string {
	_, offset := t.Zone()
	if offset == 0 {
		return t.Format("D:20060102150405Z")
	}
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%s%c%02d'%02d'", t.Format("D:20060102150405"), sign, offset/3600, (offset%3600)/60)
}
