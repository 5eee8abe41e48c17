package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrMalformedFeed is returned when a feed cannot be parsed as a whole.
// No record of a malformed feed is ever handed to the runner.
var ErrMalformedFeed = errors.New("parser: malformed feed")

// Row is one raw input record keyed by header name.
type Row struct {
	Line   int
	Fields map[string]string
}

// Get returns the first non-empty value among the given header names.
// Header names match case-sensitively.
func (r Row) Get(names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(r.Fields[name]); value != "" {
			return value
		}
	}
	return ""
}

// FeedOptions controls how feeds are decoded.
type FeedOptions struct {
	// Charset is a WHATWG encoding label such as "utf-8" or "windows-1252".
	Charset string
	// Sheet selects the XLSX sheet; empty means the first sheet.
	Sheet string
}

// ReadFeed opens path and reads it as CSV or XLSX based on the extension.
func ReadFeed(path string, opts FeedOptions) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSX(f, opts)
	}
	return ReadCSV(f, opts)
}

// ReadCSV reads a header-driven CSV feed. Any syntax error fails the whole read.
func ReadCSV(r io.Reader, opts FeedOptions) ([]Row, error) {
	decoded, err := decodeReader(r, opts.Charset)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: feed is empty", ErrMalformedFeed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedFeed, err)
	}
	header = cleanHeader(header)

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, newRow(line, header, record))
	}
	return rows, nil
}

// ReadXLSX reads the first (or the named) sheet of an XLSX workbook.
func ReadXLSX(r io.Reader, opts FeedOptions) ([]Row, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrMalformedFeed, err)
	}
	defer book.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = book.GetSheetName(0)
	}
	records, err := book.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrMalformedFeed, sheet, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrMalformedFeed, sheet)
	}

	header := cleanHeader(records[0])
	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		if blank(record) {
			continue
		}
		rows = append(rows, newRow(i+2, header, record))
	}
	return rows, nil
}

func newRow(line int, header, record []string) Row {
	fields := make(map[string]string, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		if i < len(record) {
			fields[name] = record[i]
		} else {
			fields[name] = ""
		}
	}
	return Row{Line: line, Fields: fields}
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		out[i] = strings.TrimSpace(name)
	}
	return out
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func decodeReader(r io.Reader, charset string) (io.Reader, error) {
	label := strings.ToLower(strings.TrimSpace(charset))
	if label == "" || label == "utf-8" || label == "utf8" {
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
