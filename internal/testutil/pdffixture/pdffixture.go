// Package pdffixture builds small single-page PDFs with classic xref tables,
// cross-reference streams or both.
package pdffixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// XRef selects how the cross-reference data is written.
type XRef int

const (
	// XRefTable is a classic "xref" table.
	XRefTable XRef = iota
	// XRefStream is a compressed, PNG-predicted cross-reference stream with
	// the info dictionary inside a compressed object stream.
	XRefStream
	// XRefHybrid is a classic table whose trailer points at a /XRefStm that
	// alone locates the info dictionary, itself in an object stream.
	XRefHybrid
)

// Options controls the generated info dictionary.
type Options struct {
	// NoInfo omits the info dictionary and the trailer /Info entry.
	NoInfo bool
	Title  string
	Author string
	// Keywords is written as a literal string.
	Keywords string
	// RawKeywords, when set, is written verbatim as the /Keywords value.
	RawKeywords string
	// Text is drawn on the page.
	Text string
	XRef XRef
}

const fileID = "[<0102030405060708090A0B0C0D0E0F10> <0102030405060708090A0B0C0D0E0F10>]"

// Build returns a minimal valid PDF.
func Build(opts Options) []byte {
	if opts.Text == "" {
		opts.Text = "Test PDF"
	}
	content := fmt.Sprintf("BT /F1 14 Tf 100 100 Td (%s) Tj ET", escape(opts.Text))
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n%\xE2\xE3\xCF\xD3\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	switch {
	case opts.XRef == XRefStream && !opts.NoInfo:
		buildStreamTail(&b, offsets, infoDict(opts))
	case opts.XRef == XRefHybrid && !opts.NoInfo:
		buildHybridTail(&b, offsets, infoDict(opts))
	default:
		if !opts.NoInfo {
			offsets = append(offsets, b.Len())
			fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", len(offsets), infoDict(opts))
		}
		buildTableTail(&b, offsets, !opts.NoInfo)
	}
	return b.Bytes()
}

func infoDict(opts Options) string {
	var info strings.Builder
	info.WriteString("<< /Producer (pdffixture)")
	if opts.Title != "" {
		fmt.Fprintf(&info, " /Title (%s)", escape(opts.Title))
	}
	if opts.Author != "" {
		fmt.Fprintf(&info, " /Author (%s)", escape(opts.Author))
	}
	switch {
	case opts.RawKeywords != "":
		fmt.Fprintf(&info, " /Keywords %s", opts.RawKeywords)
	case opts.Keywords != "":
		fmt.Fprintf(&info, " /Keywords (%s)", escape(opts.Keywords))
	}
	info.WriteString(" /CreationDate (D:20250501120000Z) >>")
	return info.String()
}

func buildTableTail(b *bytes.Buffer, offsets []int, withInfo bool) {
	xref := b.Len()
	fmt.Fprintf(b, "xref\n0 %d\n0000000000 65535 f\r\n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(b, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(b, "trailer\n<< /Size %d /Root 1 0 R", len(offsets)+1)
	if withInfo {
		fmt.Fprintf(b, " /Info %d 0 R", len(offsets))
	}
	fmt.Fprintf(b, " /ID %s >>\n", fileID)
	fmt.Fprintf(b, "startxref\n%d\n%%%%EOF\n", xref)
}

// writeObjStm writes object stream 7 holding info as object 6.
func writeObjStm(b *bytes.Buffer, info string) int {
	header := "6 0 "
	packed := deflate([]byte(header + info))
	off := b.Len()
	fmt.Fprintf(b, "7 0 obj\n<< /Type /ObjStm /N 1 /First %d /Filter /FlateDecode /Length %d >>\nstream\n", len(header), len(packed))
	b.Write(packed)
	b.WriteString("\nendstream\nendobj\n")
	return off
}

// buildStreamTail lays out objects 1-5 plain, 6 (info) inside stream 7, and
// the cross-reference stream as object 8.
func buildStreamTail(b *bytes.Buffer, offsets []int, info string) {
	stmOff := writeObjStm(b, info)
	xrefOff := b.Len()

	type row struct{ kind, f2, f3 int }
	rows := []row{{0, 0, 65535}}
	for _, off := range offsets {
		rows = append(rows, row{1, off, 0})
	}
	rows = append(rows, row{2, 7, 0}, row{1, stmOff, 0}, row{1, xrefOff, 0})

	const width = 7
	var predicted []byte
	prev := make([]byte, width)
	for _, r := range rows {
		cur := make([]byte, 0, width)
		cur = append(cur, byte(r.kind))
		cur = binary.BigEndian.AppendUint32(cur, uint32(r.f2))
		cur = binary.BigEndian.AppendUint16(cur, uint16(r.f3))
		predicted = append(predicted, 2) // PNG Up
		for i := range cur {
			predicted = append(predicted, cur[i]-prev[i])
		}
		prev = cur
	}
	packed := deflate(predicted)
	fmt.Fprintf(b, "8 0 obj\n<< /Type /XRef /Size 9 /W [1 4 2] /Root 1 0 R /Info 6 0 R /ID %s"+
		" /Filter /FlateDecode /DecodeParms << /Columns %d /Predictor 12 >> /Length %d >>\nstream\n",
		fileID, width, len(packed))
	b.Write(packed)
	b.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(b, "startxref\n%d\n%%%%EOF\n", xrefOff)
}

// buildHybridTail writes the info dictionary into object stream 7, a
// /XRefStm (object 8) that alone locates it, and a classic table that marks
// object 6 free.
func buildHybridTail(b *bytes.Buffer, offsets []int, info string) {
	stmOff := writeObjStm(b, info)
	xrefStmOff := b.Len()

	var rows []byte
	rows = append(rows, 2, 0, 7, 0)
	rows = append(rows, 1, byte(stmOff>>8), byte(stmOff), 0)
	rows = append(rows, 1, byte(xrefStmOff>>8), byte(xrefStmOff), 0)
	fmt.Fprintf(b, "8 0 obj\n<< /Type /XRef /Size 9 /Index [6 3] /W [1 2 1] /Length %d >>\nstream\n", len(rows))
	b.Write(rows)
	b.WriteString("\nendstream\nendobj\n")

	xref := b.Len()
	fmt.Fprintf(b, "xref\n0 %d\n0000000000 65535 f\r\n", len(offsets)+2)
	for _, off := range offsets {
		fmt.Fprintf(b, "%010d 00000 n\r\n", off)
	}
	b.WriteString("0000000000 00001 f\r\n")
	fmt.Fprintf(b, "trailer\n<< /Size 9 /Root 1 0 R /Info 6 0 R /ID %s /XRefStm %d >>\n", fileID, xrefStmOff)
	fmt.Fprintf(b, "startxref\n%d\n%%%%EOF\n", xref)
}

func deflate(data []byte) []byte {
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return out.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
