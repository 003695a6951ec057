package pdfinfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"padessign/go-backend/internal/testutil/pdffixture"
)

func TestParseReadsKeywords(t *testing.T) {
	raw := pdffixture.Build(pdffixture.Options{Title: "Report", Keywords: `budget (draft) a\b`})

	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, `budget (draft) a\b`, doc.Keywords())
	require.Equal(t, raw, doc.Bytes())
}

func TestParseWithoutKeywords(t *testing.T) {
	doc, err := Parse(pdffixture.Build(pdffixture.Options{Title: "Report"}))
	require.NoError(t, err)
	require.Empty(t, doc.Keywords())
}

func TestParseUTF16HexKeywords(t *testing.T) {
	// FEFF + "Zażółć"
	raw := pdffixture.Build(pdffixture.Options{RawKeywords: "<FEFF005A0061017C00F301420107>"})

	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "Zażółć", doc.Keywords())
}

func TestSaveAppendsIncrementalUpdate(t *testing.T) {
	raw := pdffixture.Build(pdffixture.Options{Title: "Report", Keywords: "existing"})
	doc, err := Parse(raw)
	require.NoError(t, err)

	doc.SetKeywords(doc.Keywords() + "|PAdES_Signature:AAAA|Hash:BBBB")
	out, err := doc.Save()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, raw), "original bytes must be preserved as a prefix")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, "existing|PAdES_Signature:AAAA|Hash:BBBB", reparsed.Keywords())
	require.Contains(t, string(out[len(raw):]), "/Title (Report)")
	require.Contains(t, string(out[len(raw):]), "/Prev ")
}

func TestSaveChainsMultipleUpdates(t *testing.T) {
	doc, err := Parse(pdffixture.Build(pdffixture.Options{}))
	require.NoError(t, err)
	doc.SetKeywords("one")
	first, err := doc.Save()
	require.NoError(t, err)

	doc, err = Parse(first)
	require.NoError(t, err)
	require.Equal(t, "one", doc.Keywords())
	doc.SetKeywords(doc.Keywords() + "|two")
	second, err := doc.Save()
	require.NoError(t, err)

	doc, err = Parse(second)
	require.NoError(t, err)
	require.Equal(t, "one|two", doc.Keywords())
}

func TestSaveCreatesInfoWhenAbsent(t *testing.T) {
	raw := pdffixture.Build(pdffixture.Options{NoInfo: true})
	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Empty(t, doc.Keywords())

	doc.SetKeywords("fresh")
	out, err := doc.Save()
	require.NoError(t, err)
	require.Contains(t, string(out[len(raw):]), "6 0 obj")
	require.Contains(t, string(out[len(raw):]), "/Size 7")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, "fresh", reparsed.Keywords())
}

func TestSaveEncodesNonASCIIAsUTF16(t *testing.T) {
	doc, err := Parse(pdffixture.Build(pdffixture.Options{}))
	require.NoError(t, err)
	doc.SetKeywords("SignerName:Łukasz")
	out, err := doc.Save()
	require.NoError(t, err)
	require.Contains(t, string(out), "<FEFF")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, "SignerName:Łukasz", reparsed.Keywords())
}

func TestParseRejectsBrokenInput(t *testing.T) {
	for name, raw := range map[string][]byte{
		"not a pdf":       []byte("hello"),
		"no startxref":    []byte("%PDF-1.4\n1 0 obj << >> endobj\n"),
		"offset past end": []byte("%PDF-1.4\nstartxref\n999999\n%%EOF"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseRejectsUnsupportedStreamFilter(t *testing.T) {
	raw := []byte("%PDF-1.5\n1 0 obj\n<< /Type /XRef /Size 1 /W [1 1 1] /Filter /LZWDecode /Length 0 >>\nstream\n\nendstream\nendobj\nstartxref\n9\n%%EOF\n")
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestParseRefusesUnresolvableInfo(t *testing.T) {
	raw := pdffixture.Build(pdffixture.Options{Title: "Report"})
	raw = bytes.Replace(raw, []byte("/Info 6 0 R"), []byte("/Info 9 0 R"), 1)

	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestXrefStreamDocumentRoundtrip(t *testing.T) {
	raw := pdffixture.Build(pdffixture.Options{XRef: pdffixture.XRefStream, Title: "Report", Author: "Jan", Keywords: "finance"})
	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "finance", doc.Keywords())

	doc.SetKeywords(doc.Keywords() + "|PAdES_Signature:AAAA")
	out, err := doc.Save()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, raw))
	tail := string(out[len(raw):])
	require.Contains(t, tail, "/Title (Report)")
	require.Contains(t, tail, "/Author (Jan)")
	require.Contains(t, tail, "/Type /XRef")
	require.NotContains(t, tail, "trailer")

	doc, err = Parse(out)
	require.NoError(t, err)
	require.Equal(t, "finance|PAdES_Signature:AAAA", doc.Keywords())

	doc.SetKeywords(doc.Keywords() + "|Hash:BBBB")
	again, err := doc.Save()
	require.NoError(t, err)
	doc, err = Parse(again)
	require.NoError(t, err)
	require.Equal(t, "finance|PAdES_Signature:AAAA|Hash:BBBB", doc.Keywords())
}

func TestHybridDocumentKeepsInfoEntries(t *testing.T) {
	raw := pdffixture.Build(pdffixture.Options{XRef: pdffixture.XRefHybrid, Title: "Annual Report", Author: "Jan", Keywords: "finance"})
	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "finance", doc.Keywords())

	doc.SetKeywords(doc.Keywords() + "|PAdES_Signature:AAAA")
	out, err := doc.Save()
	require.NoError(t, err)
	tail := string(out[len(raw):])
	require.Contains(t, tail, "6 0 obj")
	require.Contains(t, tail, "/Title (Annual Report)")
	require.Contains(t, tail, "/Author (Jan)")
	require.Contains(t, tail, "xref\n6 1\n")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, "finance|PAdES_Signature:AAAA", reparsed.Keywords())
}

func TestUnpredictPNGFilters(t *testing.T) {
	// Two rows of three bytes: Sub on the first, Paeth on the second.
	got, err := unpredictPNG([]byte{1, 5, 1, 1, 4, 1, 1, 1}, 3, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6, 7, 6, 7, 8}, got)

	_, err = unpredictPNG([]byte{9, 0, 0, 0}, 3, 1)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = unpredictPNG([]byte{0, 0}, 3, 1)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTextStringRoundtrip(t *testing.T) {
	for _, s := range []string{"", "plain", `a(b)c\d`, "line\nbreak", "Gdańsk", "emoji 🙂"} {
		got, err := decodeTextString(encodeTextString(s))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestUnescapeLiteralOctal(t *testing.T) {
	got, err := decodeTextString(`(A\101\60x)`)
	require.NoError(t, err)
	require.Equal(t, "AA0x", got)
}
