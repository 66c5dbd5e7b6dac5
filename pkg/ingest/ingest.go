// Package ingest parses uploaded batch files into the cleaned,
// validated, de-duplicated key list the Record Store's CreateBatch
// expects. It accepts spreadsheets (.xlsx, .xls), delimited text
// (.csv), and plain text (.txt). Spreadsheets are read with excelize,
// which handles the xlsx (OOXML) format only: a legacy binary .xls
// file fails to open and ParseFile returns an error.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// keyColumn is the spreadsheet column header preferred over the first
// column, when present.
const keyColumn = "DNI"

var (
	validKey    = regexp.MustCompile(`^[0-9]{8}$`)
	digitPrefix = regexp.MustCompile(`^([0-9]+)\..*$`)
)

// Result is the outcome of parsing and validating one upload.
type Result struct {
	Accepted []string
	Rejected []string
}

// ParseFile extracts, cleans, validates, and de-duplicates the entries
// of an uploaded file. filename's extension selects the parser.
func ParseFile(filename string, content []byte) (*Result, error) {
	raw, err := extract(filename, content)
	if err != nil {
		return nil, err
	}
	return clean(raw), nil
}

func extract(filename string, content []byte) ([]string, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
		return extractSpreadsheet(content)
	case strings.HasSuffix(lower, ".csv"):
		return extractCSV(content)
	case strings.HasSuffix(lower, ".txt"):
		return extractText(content)
	default:
		return nil, fmt.Errorf("ingest: unsupported file extension for %q", filename)
	}
}

func extractSpreadsheet(content []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read spreadsheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := 0
	header := rows[0]
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), keyColumn) {
			col = i
			break
		}
	}

	var out []string
	for _, row := range rows[1:] {
		if col >= len(row) {
			out = append(out, "")
			continue
		}
		out = append(out, row[col])
	}
	return out, nil
}

func extractCSV(content []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := 0
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), keyColumn) {
			col = i
			break
		}
	}

	var out []string
	for _, row := range rows[1:] {
		if col >= len(row) {
			out = append(out, "")
			continue
		}
		out = append(out, row[col])
	}
	return out, nil
}

func extractText(content []byte) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: failed to read text: %w", err)
	}
	return out, nil
}

func clean(raw []string) *Result {
	res := &Result{}
	seen := make(map[string]bool, len(raw))

	for _, entry := range raw {
		v := strings.TrimSpace(entry)
		if m := digitPrefix.FindStringSubmatch(v); m != nil {
			v = m[1]
		}
		if v == "" || strings.EqualFold(v, "nan") {
			continue
		}
		if !validKey.MatchString(v) {
			res.Rejected = append(res.Rejected, entry)
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		res.Accepted = append(res.Accepted, v)
	}
	return res
}
