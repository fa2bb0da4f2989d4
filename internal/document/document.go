// Package document validates uploads and renders them as prompt text.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrInvalidUpload marks uploads rejected before reaching a backend.
var ErrInvalidUpload = errors.New("invalid upload")

// Validate checks the extension of filename against allowed and the size
// against maxSize. A non-positive maxSize disables the size check.
func Validate(filename string, size int64, allowed []string, maxSize int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	ok := false
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: file type %s not allowed. Allowed types: %s", ErrInvalidUpload, ext, strings.Join(allowed, ", "))
	}
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("%w: file too large. Max size: %d bytes", ErrInvalidUpload, maxSize)
	}
	return nil
}

// ToText renders data as text according to the extension of filename.
// Unsupported types render as the empty string.
func ToText(data []byte, filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return spreadsheetToMarkdown(data)
	case ".json":
		return prettyJSON(data)
	case ".txt":
		return plainText(data)
	}
	return ""
}

func prettyJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "  "); err != nil {
		return plainText(data)
	}
	return buf.String()
}

func plainText(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ")

// spreadsheetToMarkdown renders the active sheet as a markdown table whose
// first non-empty row is the header.
func spreadsheetToMarkdown(data []byte) string {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Sprintf("Error parsing Excel file: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return fmt.Sprintf("Error parsing Excel file: %v", err)
	}
	if len(rows) == 0 {
		return "The Excel file is empty."
	}

	var table [][]string
	width := 0
	for _, row := range rows {
		cells := make([]string, len(row))
		empty := true
		for i, v := range row {
			cells[i] = strings.TrimSpace(cellEscaper.Replace(v))
			if cells[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		table = append(table, cells)
		width = max(width, len(cells))
	}
	if len(table) == 0 {
		return "The Excel file contains no data."
	}

	lines := make([]string, 0, len(table)+1)
	lines = append(lines, markdownRow(table[0], width))
	lines = append(lines, markdownRow(repeat("---", width), width))
	for _, row := range table[1:] {
		lines = append(lines, markdownRow(row, width))
	}
	return strings.Join(lines, "\n")
}

// markdownRow pads or truncates cells to width.
func markdownRow(cells []string, width int) string {
	row := make([]string, width)
	copy(row, cells)
	return "| " + strings.Join(row, " | ") + " |"
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
