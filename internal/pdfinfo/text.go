package pdfinfo

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// decodeTextString turns a raw literal "(...)" or hex "<...>" string into UTF-8.
func decodeTextString(raw string) (string, error) {
	var b []byte
	var err error
	switch {
	case strings.HasPrefix(raw, "("):
		b, err = unescapeLiteral(raw)
	case strings.HasPrefix(raw, "<"):
		b, err = decodeHex(raw)
	default:
		return "", fmt.Errorf("%w: expected string, got %q", ErrMalformed, raw)
	}
	if err != nil {
		return "", err
	}
	switch {
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		body := b[2:]
		units := make([]uint16, 0, len(body)/2)
		for i := 0; i+1 < len(body); i += 2 {
			units = append(units, uint16(body[i])<<8|uint16(body[i+1]))
		}
		return string(utf16.Decode(units)), nil
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return string(b[3:]), nil
	default:
		// PDFDocEncoding matches Latin-1 outside 0x80-0xA0.
		runes := make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
		return string(runes), nil
	}
}

func unescapeLiteral(raw string) ([]byte, error) {
	if len(raw) < 2 || raw[len(raw)-1] != ')' {
		return nil, fmt.Errorf("%w: bad literal string", ErrMalformed)
	}
	s := raw[1 : len(raw)-1]
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' {
			// EOL inside a literal is read as a single LF.
			out = append(out, '\n')
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch e := s[i]; e {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case '\n':
		default:
			if e >= '0' && e <= '7' {
				v := 0
				j := 0
				for ; j < 3 && i+j < len(s) && s[i+j] >= '0' && s[i+j] <= '7'; j++ {
					v = v*8 + int(s[i+j]-'0')
				}
				i += j - 1
				out = append(out, byte(v))
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func decodeHex(raw string) ([]byte, error) {
	if len(raw) < 2 || raw[len(raw)-1] != '>' {
		return nil, fmt.Errorf("%w: bad hex string", ErrMalformed)
	}
	var digits strings.Builder
	for _, c := range raw[1 : len(raw)-1] {
		if c < 0x80 && isWhite(byte(c)) {
			continue
		}
		digits.WriteRune(c)
	}
	s := digits.String()
	if len(s)%2 == 1 {
		s += "0"
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return b, nil
}

// encodeTextString renders s as a literal string when it is plain ASCII and
// as a UTF-16BE hex string otherwise.
func encodeTextString(s string) string {
	if isPlainASCII(s) {
		var b strings.Builder
		b.WriteByte('(')
		for i := 0; i < len(s); i++ {
			switch c := s[i]; c {
			case '\\', '(', ')':
				b.WriteByte('\\')
				b.WriteByte(c)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			default:
				b.WriteByte(c)
			}
		}
		b.WriteByte(')')
		return b.String()
	}
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 2, 2+2*len(units))
	buf[0], buf[1] = 0xFE, 0xFF
	for _, u := range units {
		buf = append(buf, byte(u>>8), byte(u))
	}
	return "<" + strings.ToUpper(hex.EncodeToString(buf)) + ">"
}

func isPlainASCII(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || (c < 0x20 && c != '\n' && c != '\r' && c != '\t') {
			return false
		}
	}
	return true
}
