package pdfinfo

import (
	"bytes"
	"fmt"
	"strconv"
)

type entry struct {
	key   string
	value string
}

type lexer struct {
	data []byte
	pos  int
}

func isWhite(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) eof() bool { return l.pos >= len(l.data) }

func (l *lexer) skipSpace() {
	for !l.eof() {
		c := l.data[l.pos]
		if isWhite(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for !l.eof() && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *lexer) hasPrefix(s string) bool {
	return bytes.HasPrefix(l.data[l.pos:], []byte(s))
}

// regular reads a run of regular characters (numbers, keywords).
func (l *lexer) regular() string {
	start := l.pos
	for !l.eof() && !isWhite(l.data[l.pos]) && !isDelim(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *lexer) keyword(want string) error {
	l.skipSpace()
	if got := l.regular(); got != want {
		return fmt.Errorf("%w: expected %q at offset %d, got %q", ErrMalformed, want, l.pos, got)
	}
	return nil
}

func (l *lexer) integer() (int, error) {
	l.skipSpace()
	start := l.pos
	tok := l.regular()
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer at offset %d, got %q", ErrMalformed, start, tok)
	}
	return n, nil
}

// value skips one object and returns its raw text. "n g R" references are
// consumed as a single value.
func (l *lexer) value() (string, error) {
	l.skipSpace()
	if l.eof() {
		return "", fmt.Errorf("%w: unexpected end of data", ErrMalformed)
	}
	start := l.pos
	switch c := l.data[l.pos]; {
	case l.hasPrefix("<<"):
		if _, err := l.dict(); err != nil {
			return "", err
		}
	case c == '<':
		end := bytes.IndexByte(l.data[l.pos:], '>')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated hex string", ErrMalformed)
		}
		l.pos += end + 1
	case c == '(':
		if err := l.skipLiteral(); err != nil {
			return "", err
		}
	case c == '[':
		l.pos++
		for {
			l.skipSpace()
			if l.eof() {
				return "", fmt.Errorf("%w: unterminated array", ErrMalformed)
			}
			if l.data[l.pos] == ']' {
				l.pos++
				break
			}
			if _, err := l.value(); err != nil {
				return "", err
			}
		}
	case c == '/':
		l.pos++
		l.regular()
	case isDelim(c):
		return "", fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformed, c, l.pos)
	default:
		tok := l.regular()
		if _, err := strconv.Atoi(tok); err == nil {
			l.tryReference()
		}
	}
	return string(l.data[start:l.pos]), nil
}

func (l *lexer) tryReference() {
	save := l.pos
	l.skipSpace()
	if _, err := strconv.Atoi(l.regular()); err == nil {
		l.skipSpace()
		if l.regular() == "R" {
			return
		}
	}
	l.pos = save
}

func (l *lexer) skipLiteral() error {
	depth := 0
	for !l.eof() {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			l.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: unterminated literal string", ErrMalformed)
}

// dict parses "<< ... >>" into ordered entries with raw values.
func (l *lexer) dict() ([]entry, error) {
	l.skipSpace()
	if !l.hasPrefix("<<") {
		return nil, fmt.Errorf("%w: expected dictionary at offset %d", ErrMalformed, l.pos)
	}
	l.pos += 2
	var out []entry
	for {
		l.skipSpace()
		if l.eof() {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrMalformed)
		}
		if l.hasPrefix(">>") {
			l.pos += 2
			return out, nil
		}
		if l.data[l.pos] != '/' {
			return nil, fmt.Errorf("%w: expected name key at offset %d", ErrMalformed, l.pos)
		}
		l.pos++
		key := "/" + l.regular()
		v, err := l.value()
		if err != nil {
			return nil, err
		}
		out = append(out, entry{key: key, value: v})
	}
}

func lookup(entries []entry, key string) (string, bool) {
	for _, e := range entries {
		if e.key == key {
			return e.value, true
		}
	}
	return "", false
}

type ref struct {
	num, gen int
}

func (r ref) String() string { return fmt.Sprintf("%d %d R", r.num, r.gen) }

func parseRef(raw string) (ref, error) {
	l := &lexer{data: []byte(raw)}
	num, err := l.integer()
	if err != nil {
		return ref{}, err
	}
	gen, err := l.integer()
	if err != nil {
		return ref{}, err
	}
	if err := l.keyword("R"); err != nil {
		return ref{}, err
	}
	return ref{num: num, gen: gen}, nil
}
