package pdfsig

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Lexer errors
var (
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidString     = errors.New("invalid PDF string")
)

// value is a raw top-level dictionary value and its absolute offset.
type value struct {
	raw    []byte
	offset int
}

// lexer walks a byte slice holding PDF object syntax.
type lexer struct {
	data []byte
	pos  int
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\x00' || b == '\x0c'
}

func isDelimiter(b byte) bool {
	return b == '(' || b == ')' || b == '<' || b == '>' ||
		b == '[' || b == ']' || b == '{' || b == '}' ||
		b == '/' || b == '%'
}

func (l *lexer) eof() bool {
	return l.pos >= len(l.data)
}

func (l *lexer) peek() byte {
	if l.eof() {
		return 0
	}
	return l.data[l.pos]
}

func (l *lexer) hasPrefix(s string) bool {
	return bytes.HasPrefix(l.data[l.pos:], []byte(s))
}

func (l *lexer) skipWhitespace() {
	for !l.eof() {
		b := l.data[l.pos]
		switch {
		case isWhitespace(b):
			l.pos++
		case b == '%':
			for !l.eof() && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) readToken() string {
	l.skipWhitespace()
	start := l.pos
	for !l.eof() && !isWhitespace(l.data[l.pos]) && !isDelimiter(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *lexer) readName() (string, error) {
	l.skipWhitespace()
	if l.peek() != '/' {
		return "", fmt.Errorf("%w: expected name at offset %d", ErrInvalidObject, l.pos)
	}
	l.pos++
	var buf bytes.Buffer
	for !l.eof() {
		b := l.data[l.pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		if b == '#' && l.pos+2 < len(l.data) {
			if v, err := strconv.ParseUint(string(l.data[l.pos+1:l.pos+3]), 16, 8); err == nil {
				buf.WriteByte(byte(v))
				l.pos += 3
				continue
			}
		}
		buf.WriteByte(b)
		l.pos++
	}
	return buf.String(), nil
}

// skipValue advances past one object. References span several tokens and are
// handled by the dictionary reader.
func (l *lexer) skipValue() error {
	l.skipWhitespace()
	if l.eof() {
		return fmt.Errorf("%w: unexpected end of data", ErrInvalidObject)
	}
	switch b := l.peek(); {
	case b == '(':
		_, err := l.readLiteral()
		return err
	case l.hasPrefix("<<"):
		_, err := l.readDictionary()
		return err
	case b == '<':
		_, err := l.readHex()
		return err
	case b == '[':
		l.pos++
		for {
			l.skipWhitespace()
			if l.eof() {
				return fmt.Errorf("%w: unterminated array", ErrInvalidObject)
			}
			if l.peek() == ']' {
				l.pos++
				return nil
			}
			if err := l.skipValue(); err != nil {
				return err
			}
		}
	case b == '/':
		_, err := l.readName()
		return err
	case isDelimiter(b):
		return fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidObject, b, l.pos)
	default:
		l.readToken()
		return nil
	}
}

// readDictionary reads a dictionary and returns its top-level entries.
func (l *lexer) readDictionary() (map[string]value, error) {
	l.skipWhitespace()
	if !l.hasPrefix("<<") {
		return nil, fmt.Errorf("%w: expected '<<' at offset %d", ErrInvalidDictionary, l.pos)
	}
	l.pos += 2

	entries := make(map[string]value)
	for {
		l.skipWhitespace()
		if l.eof() {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidDictionary)
		}
		if l.hasPrefix(">>") {
			l.pos += 2
			return entries, nil
		}

		key, err := l.readName()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDictionary, err)
		}
		l.skipWhitespace()
		start := l.pos
		if err := l.skipValue(); err != nil {
			return nil, err
		}
		// Indirect references continue until the next key or the end.
		for {
			l.skipWhitespace()
			if l.eof() || l.peek() == '/' || l.hasPrefix(">>") {
				break
			}
			if err := l.skipValue(); err != nil {
				return nil, err
			}
		}
		end := l.pos
		for end > start && isWhitespace(l.data[end-1]) {
			end--
		}
		entries[key] = value{raw: l.data[start:end], offset: start}
	}
}

func (l *lexer) readLiteral() ([]byte, error) {
	if l.peek() != '(' {
		return nil, ErrInvalidString
	}
	l.pos++

	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		if l.eof() {
			return nil, fmt.Errorf("%w: unterminated string", ErrInvalidString)
		}
		b := l.data[l.pos]
		l.pos++
		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(b)
			}
		case '\\':
			if l.eof() {
				return nil, fmt.Errorf("%w: unterminated escape", ErrInvalidString)
			}
			escaped := l.data[l.pos]
			l.pos++
			switch escaped {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if l.peek() == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if escaped >= '0' && escaped <= '7' {
					octal := []byte{escaped}
					for i := 0; i < 2 && l.peek() >= '0' && l.peek() <= '7'; i++ {
						octal = append(octal, l.data[l.pos])
						l.pos++
					}
					v, _ := strconv.ParseUint(string(octal), 8, 16)
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(escaped)
				}
			}
		default:
			buf.WriteByte(b)
		}
	}
	return buf.Bytes(), nil
}

func (l *lexer) readHex() ([]byte, error) {
	if l.peek() != '<' {
		return nil, ErrInvalidString
	}
	l.pos++

	var digits []byte
	for {
		if l.eof() {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
		}
		b := l.data[l.pos]
		l.pos++
		if b == '>' {
			break
		}
		if isWhitespace(b) {
			continue
		}
		digits = append(digits, b)
	}
	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidString, err)
	}
	return out, nil
}

// stringBytes decodes a literal or hex string value.
func stringBytes(v value) ([]byte, error) {
	l := &lexer{data: v.raw}
	switch l.peek() {
	case '(':
		return l.readLiteral()
	case '<':
		return l.readHex()
	default:
		return nil, fmt.Errorf("%w: value is not a string", ErrInvalidString)
	}
}

// nameValue decodes a name value.
func nameValue(v value) (string, bool) {
	l := &lexer{data: v.raw}
	name, err := l.readName()
	return name, err == nil
}

// referenceValue decodes an indirect reference "N G R".
func referenceValue(v value) (int, bool) {
	fields := bytes.Fields(v.raw)
	if len(fields) != 3 || string(fields[2]) != "R" {
		return 0, false
	}
	n, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// integerArray decodes an array of integers.
func integerArray(v value) ([]int64, bool) {
	raw := bytes.TrimSpace(v.raw)
	if len(raw) < 2 || raw[0] != '[' || raw[len(raw)-1] != ']' {
		return nil, false
	}
	var out []int64
	for _, f := range bytes.Fields(raw[1 : len(raw)-1]) {
		n, err := strconv.ParseInt(string(f), 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
