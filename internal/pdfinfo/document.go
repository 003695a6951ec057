// Package pdfinfo reads and rewrites the /Keywords entry of a PDF's document
// information dictionary.
//
// Changes are written as an incremental update appended to the original
// bytes, so the original file is always a byte-exact prefix of the output.
// Classic cross-reference tables, cross-reference streams and hybrid files
// are read; the update uses the same kind of section as the newest one in the
// file. Encrypted documents are refused.
package pdfinfo

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed   = errors.New("malformed PDF")
	ErrUnsupported = errors.New("unsupported PDF structure")
)

const (
	keyKeywords = "/Keywords"
	maxPrevHops = 1024
)

// xrefEntry locates an object either at a byte offset or, when stream is
// set, at position index inside object stream number stream.
type xrefEntry struct {
	offset int
	gen    int
	stream int
	index  int
	inUse  bool
}

// Document is a parsed PDF whose info dictionary can be edited.
type Document struct {
	raw       []byte
	startXref int
	xrefIsStm bool
	size      int
	root      string
	id        string
	info      ref
	hasInfo   bool
	entries   []entry
	keywords  string
}

// Parse reads the trailer chain and info dictionary of raw. raw is retained
// and must not be modified by the caller afterwards.
func Parse(raw []byte) (*Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(raw, "\x00\t\n\f\r "), []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing %%PDF header", ErrMalformed)
	}
	startXref, err := findStartXref(raw)
	if err != nil {
		return nil, err
	}
	d := &Document{raw: raw, startXref: startXref}

	xref := map[int]xrefEntry{}
	var trailers [][]entry
	offset, hops := startXref, 0
	for {
		trailer, isStream, err := readXrefSection(raw, offset, xref)
		if err != nil {
			return nil, err
		}
		if len(trailers) == 0 {
			d.xrefIsStm = isStream
		}
		trailers = append(trailers, trailer)
		prev, ok := lookup(trailer, "/Prev")
		if !ok {
			break
		}
		if offset, err = strconv.Atoi(prev); err != nil {
			return nil, fmt.Errorf("%w: bad /Prev %q", ErrMalformed, prev)
		}
		if hops++; hops > maxPrevHops {
			return nil, fmt.Errorf("%w: /Prev chain too long", ErrMalformed)
		}
	}

	newest := trailers[0]
	if _, ok := lookup(newest, "/Encrypt"); ok {
		return nil, fmt.Errorf("%w: encrypted documents", ErrUnsupported)
	}
	sizeRaw, ok := lookup(newest, "/Size")
	if !ok {
		return nil, fmt.Errorf("%w: trailer has no /Size", ErrMalformed)
	}
	if d.size, err = strconv.Atoi(sizeRaw); err != nil {
		return nil, fmt.Errorf("%w: bad /Size %q", ErrMalformed, sizeRaw)
	}
	if d.root, ok = lookup(newest, "/Root"); !ok {
		return nil, fmt.Errorf("%w: trailer has no /Root", ErrMalformed)
	}
	d.id, _ = lookup(newest, "/ID")

	for _, t := range trailers {
		infoRaw, ok := lookup(t, "/Info")
		if !ok {
			continue
		}
		if d.info, err = parseRef(infoRaw); err != nil {
			return nil, err
		}
		d.hasInfo = true
		break
	}
	if d.hasInfo {
		if err := d.loadInfo(xref); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func findStartXref(raw []byte) (int, error) {
	idx := bytes.LastIndex(raw, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("%w: no startxref", ErrMalformed)
	}
	l := &lexer{data: raw, pos: idx + len("startxref")}
	off, err := l.integer()
	if err != nil {
		return 0, err
	}
	if off < 0 || off >= len(raw) {
		return 0, fmt.Errorf("%w: startxref %d out of range", ErrMalformed, off)
	}
	return off, nil
}

// readXrefSection merges the section at offset into xref without overriding
// entries already seen in newer sections, and returns the trailer entries.
// The section may be a classic table, optionally with a /XRefStm stream for
// hybrid files, or a cross-reference stream.
func readXrefSection(raw []byte, offset int, xref map[int]xrefEntry) ([]entry, bool, error) {
	if offset < 0 || offset >= len(raw) {
		return nil, false, fmt.Errorf("%w: xref offset %d out of range", ErrMalformed, offset)
	}
	section := map[int]xrefEntry{}
	l := &lexer{data: raw, pos: offset}
	l.skipSpace()
	if !l.hasPrefix("xref") {
		if l.eof() || raw[l.pos] < '0' || raw[l.pos] > '9' {
			return nil, false, fmt.Errorf("%w: no xref table at offset %d", ErrMalformed, offset)
		}
		trailer, err := readXrefStream(raw, l.pos, section)
		if err != nil {
			return nil, false, err
		}
		mergeSection(xref, section)
		return trailer, true, nil
	}

	l.pos += len("xref")
	trailer, err := readXrefTable(l, section)
	if err != nil {
		return nil, false, err
	}
	if stm, ok := lookup(trailer, "/XRefStm"); ok {
		stmOffset, err := directInt(stm)
		if err != nil {
			return nil, false, err
		}
		hidden := map[int]xrefEntry{}
		if _, err := readXrefStream(raw, stmOffset, hidden); err != nil {
			return nil, false, err
		}
		// Hybrid files list compressed objects only in the stream, or mark
		// them free in the table.
		for num, e := range hidden {
			if cur, ok := section[num]; !ok || !cur.inUse {
				section[num] = e
			}
		}
	}
	mergeSection(xref, section)
	return trailer, false, nil
}

func readXrefTable(l *lexer, section map[int]xrefEntry) ([]entry, error) {
	for {
		l.skipSpace()
		if l.hasPrefix("trailer") {
			l.pos += len("trailer")
			break
		}
		first, err := l.integer()
		if err != nil {
			return nil, err
		}
		count, err := l.integer()
		if err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			off, err := l.integer()
			if err != nil {
				return nil, err
			}
			gen, err := l.integer()
			if err != nil {
				return nil, err
			}
			l.skipSpace()
			kind := l.regular()
			if kind != "n" && kind != "f" {
				return nil, fmt.Errorf("%w: bad xref entry type %q", ErrMalformed, kind)
			}
			section[first+i] = xrefEntry{offset: off, gen: gen, inUse: kind == "n"}
		}
	}
	return l.dict()
}

func mergeSection(xref, section map[int]xrefEntry) {
	for num, e := range section {
		if _, seen := xref[num]; !seen {
			xref[num] = e
		}
	}
}

// loadInfo reads the info dictionary. A trailer /Info that cannot be
// resolved is an error: writing a fresh dictionary over it would drop the
// entries a reader can still find.
func (d *Document) loadInfo(xref map[int]xrefEntry) error {
	e, ok := xref[d.info.num]
	if !ok || !e.inUse {
		return fmt.Errorf("%w: info dictionary %s is not in the cross-reference data", ErrMalformed, d.info)
	}
	var l *lexer
	if e.stream > 0 {
		var err error
		if l, err = d.compressedObject(xref, e.stream, d.info.num); err != nil {
			return err
		}
	} else {
		if e.offset <= 0 || e.offset >= len(d.raw) {
			return fmt.Errorf("%w: info object offset out of range", ErrMalformed)
		}
		l = &lexer{data: d.raw, pos: e.offset}
		num, err := objectHeader(l)
		if err != nil {
			return err
		}
		if num != d.info.num {
			return fmt.Errorf("%w: xref points at object %d, want %d", ErrMalformed, num, d.info.num)
		}
	}
	entries, err := l.dict()
	if err != nil {
		return err
	}
	for _, en := range entries {
		if en.key != keyKeywords {
			d.entries = append(d.entries, en)
			continue
		}
		if d.keywords, err = decodeTextString(en.value); err != nil {
			return err
		}
	}
	return nil
}

// compressedObject returns a lexer positioned at object num inside object
// stream stmNum.
func (d *Document) compressedObject(xref map[int]xrefEntry, stmNum, num int) (*lexer, error) {
	se, ok := xref[stmNum]
	if !ok || !se.inUse || se.stream > 0 {
		return nil, fmt.Errorf("%w: object stream %d is not in the cross-reference data", ErrMalformed, stmNum)
	}
	obj, err := readStream(d.raw, se.offset, d.intResolver(xref))
	if err != nil {
		return nil, err
	}
	if obj.num != stmNum {
		return nil, fmt.Errorf("%w: xref points at object %d, want %d", ErrMalformed, obj.num, stmNum)
	}
	if typ, _ := lookup(obj.dict, "/Type"); typ != "/ObjStm" {
		return nil, fmt.Errorf("%w: object %d is not an object stream", ErrMalformed, stmNum)
	}
	data, err := obj.decoded()
	if err != nil {
		return nil, err
	}
	n := intOr(obj.dict, "/N", -1)
	first := intOr(obj.dict, "/First", -1)
	if n < 0 || first < 0 || first > len(data) {
		return nil, fmt.Errorf("%w: object stream %d has a bad /N or /First", ErrMalformed, stmNum)
	}
	l := &lexer{data: data}
	for i := 0; i < n; i++ {
		objNum, err := l.integer()
		if err != nil {
			return nil, err
		}
		off, err := l.integer()
		if err != nil {
			return nil, err
		}
		if objNum != num {
			continue
		}
		if off < 0 || first+off >= len(data) {
			return nil, fmt.Errorf("%w: object %d offset out of range in stream %d", ErrMalformed, num, stmNum)
		}
		return &lexer{data: data, pos: first + off}, nil
	}
	return nil, fmt.Errorf("%w: object %d missing from stream %d", ErrMalformed, num, stmNum)
}

// intResolver reads an integer that may be stored directly or as an indirect
// object, as stream lengths often are.
func (d *Document) intResolver(xref map[int]xrefEntry) func(string) (int, error) {
	return func(raw string) (int, error) {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return n, nil
		}
		r, err := parseRef(raw)
		if err != nil {
			return 0, err
		}
		e, ok := xref[r.num]
		if !ok || !e.inUse || e.stream > 0 {
			return 0, fmt.Errorf("%w: cannot resolve %s", ErrUnsupported, r)
		}
		l := &lexer{data: d.raw, pos: e.offset}
		if _, err := objectHeader(l); err != nil {
			return 0, err
		}
		return l.integer()
	}
}

// writeXrefStream writes the update's section as an uncompressed
// cross-reference stream, which takes the next free object number.
func (d *Document) writeXrefStream(b *bytes.Buffer, info ref, size, objOffset, xrefOffset int) error {
	xrefNum := size
	rows, err := appendXrefRow(nil, objOffset, info.gen)
	if err != nil {
		return err
	}
	if rows, err = appendXrefRow(rows, xrefOffset, 0); err != nil {
		return err
	}
	fmt.Fprintf(b, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Index [%d 1 %d 1] /Root %s /Info %s /Prev %d",
		xrefNum, xrefNum+1, info.num, xrefNum, d.root, info, d.startXref)
	if d.id != "" {
		fmt.Fprintf(b, " /ID %s", d.id)
	}
	fmt.Fprintf(b, " /Length %d >>\nstream\n", len(rows))
	b.Write(rows)
	b.WriteString("\nendstream\nendobj\n")
	return nil
}

// Bytes returns the document exactly as it was parsed.
func (d *Document) Bytes() []byte { return d.raw }

// Keywords returns the decoded /Keywords text, or "" when absent.
func (d *Document) Keywords() string { return d.keywords }

func (d *Document) SetKeywords(s string) { d.keywords = s }

// Save returns the original bytes followed by an incremental update carrying
// the current info dictionary.
func (d *Document) Save() ([]byte, error) {
	info, size := d.info, d.size
	if !d.hasInfo {
		info = ref{num: d.size}
		size++
	}
	if info.num >= size {
		size = info.num + 1
	}

	var b bytes.Buffer
	b.Grow(len(d.raw) + 512 + len(d.keywords)*4)
	b.Write(d.raw)
	if n := len(d.raw); n == 0 || (d.raw[n-1] != '\n' && d.raw[n-1] != '\r') {
		b.WriteByte('\n')
	}

	objOffset := b.Len()
	fmt.Fprintf(&b, "%d %d obj\n<<", info.num, info.gen)
	for _, e := range d.entries {
		fmt.Fprintf(&b, " %s %s", e.key, e.value)
	}
	fmt.Fprintf(&b, " %s %s >>\nendobj\n", keyKeywords, encodeTextString(d.keywords))

	xrefOffset := b.Len()
	if d.xrefIsStm {
		if err := d.writeXrefStream(&b, info, size, objOffset, xrefOffset); err != nil {
			return nil, err
		}
	} else {
		fmt.Fprintf(&b, "xref\n%d 1\n%010d %05d n\r\n", info.num, objOffset, info.gen)
		fmt.Fprintf(&b, "trailer\n<< /Size %d /Root %s /Info %s /Prev %d", size, d.root, info, d.startXref)
		if d.id != "" {
			fmt.Fprintf(&b, " /ID %s", d.id)
		}
		b.WriteString(" >>\n")
	}
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.Bytes(), nil
}
