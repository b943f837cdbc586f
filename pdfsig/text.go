package pdfsig

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ErrInvalidDate is returned for strings that are not PDF dates.
var ErrInvalidDate = errors.New("invalid PDF date")

var (
	bomUTF16BE = []byte{0xfe, 0xff}
	bomUTF8    = []byte{0xef, 0xbb, 0xbf}
)

// DecodeText decodes a PDF text string. Strings starting with a UTF-16BE or
// UTF-8 byte order mark use that encoding, everything else is treated as
// PDFDocEncoding, which matches Latin-1 for the printable range.
func DecodeText(raw []byte) string {
	switch {
	case bytes.HasPrefix(raw, bomUTF16BE):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		if out, err := dec.Bytes(raw); err == nil {
			return string(out)
		}
	case bytes.HasPrefix(raw, bomUTF8):
		return string(raw[len(bomUTF8):])
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// ParseDate parses a PDF date string of the form D:YYYYMMDDHHmmSSOHH'mm'.
// Every component after the year is optional; a missing offset means UTC.
func ParseDate(s string) (time.Time, error) {
	orig := s
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "D:"))
	if len(s) < 4 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, orig)
	}

	fields := []struct {
		width, def int
	}{
		{4, 0}, {2, 1}, {2, 1}, {2, 0}, {2, 0}, {2, 0},
	}
	values := make([]int, len(fields))
	for i, f := range fields {
		values[i] = f.def
	}
	pos := 0
	for i, f := range fields {
		if pos+f.width > len(s) || !isDigits(s[pos:pos+f.width]) {
			if i == 0 {
				return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, orig)
			}
			break
		}
		values[i], _ = strconv.Atoi(s[pos : pos+f.width])
		pos += f.width
	}

	loc := time.UTC
	if rest := s[pos:]; rest != "" {
		switch rest[0] {
		case 'Z', 'z':
		case '+', '-':
			tz := strings.ReplaceAll(rest[1:], "'", "")
			if len(tz) < 2 || !isDigits(tz[:2]) {
				return time.Time{}, fmt.Errorf("%w: bad offset in %q", ErrInvalidDate, orig)
			}
			hours, _ := strconv.Atoi(tz[:2])
			minutes := 0
			if len(tz) >= 4 && isDigits(tz[2:4]) {
				minutes, _ = strconv.Atoi(tz[2:4])
			}
			offset := hours*3600 + minutes*60
			if rest[0] == '-' {
				offset = -offset
			}
			loc = time.FixedZone("", offset)
		default:
			return time.Time{}, fmt.Errorf("%w: trailing %q in %q", ErrInvalidDate, rest, orig)
		}
	}

	year, month, day, hour, minute, second := values[0], values[1], values[2], values[3], values[4], values[5]
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: component out of range in %q", ErrInvalidDate, orig)
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
