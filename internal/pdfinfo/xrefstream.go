package pdfinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// maxDecoded bounds a single decompressed stream.
const maxDecoded = 64 << 20

// streamObject is an indirect stream object with its data still encoded.
type streamObject struct {
	num  int
	dict []entry
	data []byte
}

// objectHeader consumes "num gen obj" and returns num.
func objectHeader(l *lexer) (int, error) {
	num, err := l.integer()
	if err != nil {
		return 0, err
	}
	if _, err := l.integer(); err != nil {
		return 0, err
	}
	if err := l.keyword("obj"); err != nil {
		return 0, err
	}
	return num, nil
}

// readStream reads the stream object at offset. resolve turns the raw /Length
// value into a byte count.
func readStream(raw []byte, offset int, resolve func(string) (int, error)) (streamObject, error) {
	if offset < 0 || offset >= len(raw) {
		return streamObject{}, fmt.Errorf("%w: stream offset %d out of range", ErrMalformed, offset)
	}
	l := &lexer{data: raw, pos: offset}
	num, err := objectHeader(l)
	if err != nil {
		return streamObject{}, err
	}
	dict, err := l.dict()
	if err != nil {
		return streamObject{}, err
	}
	l.skipSpace()
	if !l.hasPrefix("stream") {
		return streamObject{}, fmt.Errorf("%w: object %d is not a stream", ErrMalformed, num)
	}
	l.pos += len("stream")
	switch {
	case l.hasPrefix("\r\n"):
		l.pos += 2
	case l.hasPrefix("\n"), l.hasPrefix("\r"):
		l.pos++
	}

	lengthRaw, ok := lookup(dict, "/Length")
	if !ok {
		return streamObject{}, fmt.Errorf("%w: stream %d has no /Length", ErrMalformed, num)
	}
	n, err := resolve(lengthRaw)
	if err != nil {
		return streamObject{}, err
	}
	if n < 0 || l.pos+n > len(raw) {
		return streamObject{}, fmt.Errorf("%w: stream %d length %d out of range", ErrMalformed, num, n)
	}
	return streamObject{num: num, dict: dict, data: raw[l.pos : l.pos+n]}, nil
}

func directInt(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %q", ErrMalformed, raw)
	}
	return n, nil
}

// decoded applies the stream's filter. Only FlateDecode, with or without a
// PNG predictor, is understood.
func (s streamObject) decoded() ([]byte, error) {
	filter, _ := lookup(s.dict, "/Filter")
	filter = unwrapArray(filter)
	switch {
	case filter == "":
		return s.data, nil
	case len(strings.Fields(filter)) > 1:
		return nil, fmt.Errorf("%w: filter chain %s", ErrUnsupported, filter)
	case filter != "/FlateDecode" && filter != "/Fl":
		return nil, fmt.Errorf("%w: %s streams", ErrUnsupported, filter)
	}

	zr, err := zlib.NewReader(bytes.NewReader(s.data))
	if err != nil {
		return nil, fmt.Errorf("%w: stream %d: %v", ErrMalformed, s.num, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
	if err != nil {
		return nil, fmt.Errorf("%w: stream %d: %v", ErrMalformed, s.num, err)
	}
	if len(data) > maxDecoded {
		return nil, fmt.Errorf("%w: stream %d inflates past %d bytes", ErrUnsupported, s.num, maxDecoded)
	}

	parms, err := decodeParms(s.dict)
	if err != nil {
		return nil, err
	}
	predictor := intOr(parms, "/Predictor", 1)
	switch {
	case predictor == 1:
		return data, nil
	case predictor >= 10:
		colors := intOr(parms, "/Colors", 1)
		bpc := intOr(parms, "/BitsPerComponent", 8)
		columns := intOr(parms, "/Columns", 1)
		bpp := (colors*bpc + 7) / 8
		return unpredictPNG(data, (columns*colors*bpc+7)/8, bpp)
	default:
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, predictor)
	}
}

func decodeParms(dict []entry) ([]entry, error) {
	raw, ok := lookup(dict, "/DecodeParms")
	if !ok {
		raw, ok = lookup(dict, "/DP")
	}
	raw = unwrapArray(raw)
	if !ok || raw == "" || raw == "null" {
		return nil, nil
	}
	l := &lexer{data: []byte(raw)}
	return l.dict()
}

func intOr(entries []entry, key string, fallback int) int {
	raw, ok := lookup(entries, key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}

func unwrapArray(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		raw = strings.TrimSpace(raw[1 : len(raw)-1])
	}
	return raw
}

func intArray(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil, fmt.Errorf("%w: expected array, got %q", ErrMalformed, raw)
	}
	fields := strings.Fields(raw[1 : len(raw)-1])
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: expected integer array, got %q", ErrMalformed, raw)
		}
		out = append(out, n)
	}
	return out, nil
}

// unpredictPNG reverses the PNG row filters; each row carries a leading
// filter-type byte.
func unpredictPNG(data []byte, rowLen, bpp int) ([]byte, error) {
	stride := rowLen + 1
	if rowLen <= 0 || len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: predicted data does not fill whole rows", ErrMalformed)
	}
	out := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	for i := 0; i < len(data); i += stride {
		filter := data[i]
		row := append([]byte(nil), data[i+1:i+stride]...)
		for j := range row {
			var left, upLeft byte
			if j >= bpp {
				left, upLeft = row[j-bpp], prev[j-bpp]
			}
			up := prev[j]
			switch filter {
			case 0:
			case 1:
				row[j] += left
			case 2:
				row[j] += up
			case 3:
				row[j] += byte((int(left) + int(up)) / 2)
			case 4:
				row[j] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("%w: PNG filter type %d", ErrMalformed, filter)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// readXrefStream decodes the cross-reference stream at offset into section
// and returns its dictionary, which doubles as the trailer.
func readXrefStream(raw []byte, offset int, section map[int]xrefEntry) ([]entry, error) {
	obj, err := readStream(raw, offset, directInt)
	if err != nil {
		return nil, err
	}
	if typ, _ := lookup(obj.dict, "/Type"); typ != "/XRef" {
		return nil, fmt.Errorf("%w: no xref table or stream at offset %d", ErrMalformed, offset)
	}
	data, err := obj.decoded()
	if err != nil {
		return nil, err
	}

	wRaw, ok := lookup(obj.dict, "/W")
	if !ok {
		return nil, fmt.Errorf("%w: xref stream has no /W", ErrMalformed)
	}
	w, err := intArray(wRaw)
	if err != nil {
		return nil, err
	}
	if len(w) != 3 {
		return nil, fmt.Errorf("%w: xref stream /W %s", ErrMalformed, wRaw)
	}
	rowLen := 0
	for _, n := range w {
		if n < 0 || n > 8 {
			return nil, fmt.Errorf("%w: xref stream /W %s", ErrMalformed, wRaw)
		}
		rowLen += n
	}
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: xref stream /W %s", ErrMalformed, wRaw)
	}

	var index []int
	if idxRaw, ok := lookup(obj.dict, "/Index"); ok {
		if index, err = intArray(idxRaw); err != nil {
			return nil, err
		}
	} else {
		sizeRaw, ok := lookup(obj.dict, "/Size")
		if !ok {
			return nil, fmt.Errorf("%w: xref stream has no /Size", ErrMalformed)
		}
		size, err := directInt(sizeRaw)
		if err != nil {
			return nil, err
		}
		index = []int{0, size}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: xref stream /Index has odd length", ErrMalformed)
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		if first < 0 || count < 0 || count > (len(data)-pos)/rowLen {
			return nil, fmt.Errorf("%w: xref stream subsection %d %d exceeds its data", ErrMalformed, first, count)
		}
		for n := 0; n < count; n++ {
			row := data[pos : pos+rowLen]
			pos += rowLen
			kind := 1
			if w[0] > 0 {
				kind = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			switch kind {
			case 0:
				section[first+n] = xrefEntry{}
			case 1:
				section[first+n] = xrefEntry{offset: f2, gen: f3, inUse: true}
			case 2:
				section[first+n] = xrefEntry{stream: f2, index: f3, inUse: true}
			}
		}
	}
	return obj.dict, nil
}

func field(b []byte) int {
	n := 0
	for _, c := range b {
		n = n<<8 | int(c)
	}
	return n
}

// appendXrefRow encodes a type 1 entry for /W [1 4 2].
func appendXrefRow(dst []byte, offset, gen int) ([]byte, error) {
	if offset < 0 || offset > 0xFFFFFFFF || gen < 0 || gen > 0xFFFF {
		return nil, fmt.Errorf("%w: offset %d does not fit a cross-reference stream row", ErrUnsupported, offset)
	}
	dst = append(dst, 1)
	dst = binary.BigEndian.AppendUint32(dst, uint32(offset))
	return binary.BigEndian.AppendUint16(dst, uint16(gen)), nil
}
