// Package pdfsig locates signature dictionaries in PDF documents and
// recovers the bytes each signature covers.
//
// Signature dictionaries are found by scanning for /ByteRange entries rather
// than walking the cross-reference table, so documents with damaged or
// compressed cross-reference data still yield their signatures.
package pdfsig

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Extraction errors
var (
	ErrNotPDF           = errors.New("not a PDF document")
	ErrInvalidByteRange = errors.New("invalid byte range")

	errDocumentTimestamp = errors.New("document timestamp")
)

// Signature is a signature dictionary together with its covered bytes.
type Signature struct {
	FieldName   string
	Filter      string
	SubFilter   string
	Name        string
	Reason      string
	Location    string
	ContactInfo string
	// SigningTime is the /M entry, zero when absent or unreadable.
	SigningTime time.Time

	ByteRange [4]int64
	// Contents is the decoded signature container, zero padding included.
	Contents []byte
	// Covered is the concatenation of both byte range segments.
	Covered []byte

	// Offset is the position of the signature dictionary in the file.
	Offset int
}

// Extraction is the result of scanning a document.
type Extraction struct {
	Signatures []*Signature
	Warnings   []string
}

var (
	objHeaderRe = regexp.MustCompile(`(\d+)\s+(\d+)\s+obj\b`)
	byteRangeRe = regexp.MustCompile(`/ByteRange\s*\[`)
	sigFieldRe  = regexp.MustCompile(`/FT\s*/Sig\b`)
)

type object struct {
	num   int
	start int
	body  int
	end   int
}

// Extract returns the signatures of a PDF in document order. Dictionaries
// that cannot be decoded are skipped and reported as warnings.
func Extract(data []byte) (*Extraction, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	objects := indexObjects(data)
	ex := &Extraction{}
	fieldNames := signatureFieldNames(data, objects)

	seen := make(map[[4]int64]bool)
	for _, loc := range byteRangeRe.FindAllIndex(data, -1) {
		obj, ok := enclosingObject(objects, loc[0])
		if !ok {
			ex.Warnings = append(ex.Warnings, fmt.Sprintf("byte range at offset %d is outside any object", loc[0]))
			continue
		}

		sig, err := decodeSignature(data, obj)
		if errors.Is(err, errDocumentTimestamp) {
			ex.Warnings = append(ex.Warnings, fmt.Sprintf("document timestamp in object %d not evaluated", obj.num))
			continue
		}
		if err != nil {
			ex.Warnings = append(ex.Warnings, fmt.Sprintf("signature object %d skipped: %v", obj.num, err))
			continue
		}
		if sig == nil || seen[sig.ByteRange] {
			continue
		}
		seen[sig.ByteRange] = true

		sig.FieldName = fieldNames[obj.num]
		if sig.FieldName == "" {
			sig.FieldName = fmt.Sprintf("Signature%d", len(ex.Signatures)+1)
		}
		ex.Signatures = append(ex.Signatures, sig)
	}

	sort.SliceStable(ex.Signatures, func(i, j int) bool {
		return ex.Signatures[i].Offset < ex.Signatures[j].Offset
	})
	return ex, nil
}

// indexObjects records every "N G obj" header in file order.
func indexObjects(data []byte) []object {
	var objects []object
	for _, m := range objHeaderRe.FindAllSubmatchIndex(data, -1) {
		if m[0] > 0 && !isWhitespace(data[m[0]-1]) && !isDelimiter(data[m[0]-1]) {
			continue
		}
		num, err := strconv.Atoi(string(data[m[2]:m[3]]))
		if err != nil {
			continue
		}
		objects = append(objects, object{num: num, start: m[0], body: m[1], end: len(data)})
	}
	for i := range objects {
		if i+1 < len(objects) {
			objects[i].end = objects[i+1].start
		}
		if idx := bytes.Index(data[objects[i].body:objects[i].end], []byte("endobj")); idx >= 0 {
			objects[i].end = objects[i].body + idx
		}
	}
	return objects
}

func enclosingObject(objects []object, offset int) (object, bool) {
	i := sort.Search(len(objects), func(i int) bool { return objects[i].start > offset })
	if i == 0 {
		return object{}, false
	}
	obj := objects[i-1]
	if offset >= obj.end {
		return object{}, false
	}
	return obj, true
}

func readObjectDictionary(data []byte, obj object) (map[string]value, error) {
	l := &lexer{data: data[:obj.end], pos: obj.body}
	return l.readDictionary()
}

// decodeSignature decodes the signature dictionary in obj. A nil signature
// without error means the dictionary is not a signature.
func decodeSignature(data []byte, obj object) (*Signature, error) {
	dict, err := readObjectDictionary(data, obj)
	if err != nil {
		return nil, err
	}
	if typ, ok := dict["Type"]; ok {
		switch name, _ := nameValue(typ); name {
		case "Sig":
		case "DocTimeStamp":
			return nil, errDocumentTimestamp
		default:
			return nil, nil
		}
	}

	sig := &Signature{Offset: obj.start}
	br, ok := integerArray(dict["ByteRange"])
	if !ok || len(br) != 4 {
		return nil, fmt.Errorf("%w: expected four integers", ErrInvalidByteRange)
	}
	copy(sig.ByteRange[:], br)
	if err := checkByteRange(sig.ByteRange, len(data)); err != nil {
		return nil, err
	}

	gapStart := int(br[0] + br[1])
	gapEnd := int(br[2])
	contents, ok := dict["Contents"]
	if !ok {
		return nil, errors.New("no /Contents entry")
	}
	if contents.offset < gapStart || contents.offset >= gapEnd {
		return nil, fmt.Errorf("%w: /Contents is not the excluded range", ErrInvalidByteRange)
	}
	gap := &lexer{data: data[:gapEnd], pos: gapStart}
	gap.skipWhitespace()
	sig.Contents, err = gap.readHex()
	if err != nil {
		return nil, fmt.Errorf("/Contents: %w", err)
	}

	sig.Covered = make([]byte, 0, br[1]+br[3])
	sig.Covered = append(sig.Covered, data[br[0]:br[0]+br[1]]...)
	sig.Covered = append(sig.Covered, data[br[2]:br[2]+br[3]]...)

	if v, ok := dict["Filter"]; ok {
		sig.Filter, _ = nameValue(v)
	}
	if v, ok := dict["SubFilter"]; ok {
		sig.SubFilter, _ = nameValue(v)
	}
	sig.Name = textEntry(dict, "Name")
	sig.Reason = textEntry(dict, "Reason")
	sig.Location = textEntry(dict, "Location")
	sig.ContactInfo = textEntry(dict, "ContactInfo")
	if m := textEntry(dict, "M"); m != "" {
		if t, err := ParseDate(m); err == nil {
			sig.SigningTime = t
		}
	}
	return sig, nil
}

func checkByteRange(br [4]int64, size int) error {
	limit := int64(size)
	for _, v := range br {
		if v < 0 {
			return fmt.Errorf("%w: negative value", ErrInvalidByteRange)
		}
		if v > limit {
			return fmt.Errorf("%w: extends past end of file", ErrInvalidByteRange)
		}
	}
	// every value is at most size, so the sums below cannot overflow
	if br[0]+br[1] > br[2] {
		return fmt.Errorf("%w: segments overlap", ErrInvalidByteRange)
	}
	if br[2]+br[3] > limit {
		return fmt.Errorf("%w: extends past end of file", ErrInvalidByteRange)
	}
	return nil
}

func textEntry(dict map[string]value, key string) string {
	v, ok := dict[key]
	if !ok {
		return ""
	}
	raw, err := stringBytes(v)
	if err != nil {
		return ""
	}
	return DecodeText(raw)
}

// signatureFieldNames maps signature value object numbers to the partial
// field name of the field referring to them. Later revisions win.
func signatureFieldNames(data []byte, objects []object) map[int]string {
	names := make(map[int]string)
	for _, loc := range sigFieldRe.FindAllIndex(data, -1) {
		obj, ok := enclosingObject(objects, loc[0])
		if !ok {
			continue
		}
		dict, err := readObjectDictionary(data, obj)
		if err != nil {
			continue
		}
		v, ok := dict["V"]
		if !ok {
			continue
		}
		ref, ok := referenceValue(v)
		if !ok {
			continue
		}
		if name := textEntry(dict, "T"); name != "" {
			names[ref] = name
		}
	}
	return names
}
