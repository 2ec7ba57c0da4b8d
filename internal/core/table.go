package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	FormatDelimited = "delimited"
	FormatXLSX      = "xlsx"

	xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Table is a parsed source file: one header row and its data records.
type Table struct {
	Format    string
	Delimiter rune
	Headers   []string
	Records   [][]string
}

// RawRow pairs a record with the headers. Missing trailing cells read as "".
func (t *Table) RawRow(rec []string) map[string]string {
	raw := make(map[string]string, len(t.Headers))
	for i, h := range t.Headers {
		if i < len(rec) {
			raw[h] = rec[i]
		} else {
			raw[h] = ""
		}
	}
	return raw
}

// ReadTable parses an upload. Spreadsheets are detected by content or
// extension; everything else is read as delimited text. A zero delimiter
// means detect. Failures are structural *Error values.
func ReadTable(data []byte, filename string, delimiter rune) (*Table, error) {
	t, err := readHeaderAndRows(data, filename, delimiter)
	if err != nil {
		return nil, err
	}
	if len(t.Records) == 0 {
		return nil, newError(CodeNoRows, "file has a header row but no data rows")
	}
	return t, nil
}

// readHeaderAndRows is ReadTable without the data row requirement.
func readHeaderAndRows(data []byte, filename string, delimiter rune) (*Table, error) {
	var (
		records [][]string
		err     error
		t       = &Table{Format: FormatDelimited}
	)

	if isSpreadsheet(data, filename) {
		t.Format = FormatXLSX
		records, err = readXLSX(data)
	} else {
		var text []byte
		text, err = decodeText(data)
		if err == nil {
			if delimiter == 0 {
				delimiter = DetectDelimiter(text)
			}
			t.Delimiter = delimiter
			records, err = readDelimited(text, delimiter)
		}
	}
	if err != nil {
		return nil, newError(CodeFileUnreadable, "file could not be read").wrap(err)
	}

	// First non-empty record is the header.
	start := -1
	for i, rec := range records {
		if !isEmptyRow(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, newError(CodeNoHeader, "no header row found")
	}

	t.Headers = uniqueHeaders(records[start])
	for _, rec := range records[start+1:] {
		if isEmptyRow(rec) {
			continue
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

func isSpreadsheet(data []byte, filename string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return true
	}
	return mimetype.Detect(data).Is(xlsxMIME)
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows from %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readDelimited(text []byte, delimiter rune) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse delimited text: %w", err)
		}
		records = append(records, rec)
	}
}

// decodeText returns UTF-8 text. A UTF-8 or UTF-16 byte order mark selects
// the encoding; otherwise invalid UTF-8 is read as Windows-1252.
func decodeText(data []byte) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch {
	case hasBOM(data):
		out, _, err = transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	case utf8.Valid(data):
		out = data
	default:
		out, _, err = transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode text: %w", err)
	}
	if bytes.IndexByte(out, 0) >= 0 {
		return nil, errors.New("binary content or unsupported encoding")
	}
	return out, nil
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}

func uniqueHeaders(row []string) []string {
	seen := make(map[string]int, len(row))
	out := make([]string, len(row))
	for i, h := range row {
		h = CleanCell(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s (%d)", h, n)
		}
		out[i] = h
	}
	return out
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
