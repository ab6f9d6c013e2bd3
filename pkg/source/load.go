// Package source loads narratives and turns them into dispatch tasks.
package source

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingColumns indicates the input lacks a required column.
	ErrMissingColumns = errors.New("missing required columns")

	// ErrUnsupportedFormat indicates an input extension that cannot be read.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Record is one narrative.
type Record struct {
	ID   string
	Text string
}

// Columns names the id and text fields of the input.
type Columns struct {
	ID   string
	Text string
}

// DefaultColumns returns the uuid/narrative layout.
func DefaultColumns() Columns {
	return Columns{ID: "uuid", Text: "narrative"}
}

// Load reads narratives from a .csv, .xlsx, .json or .yaml/.yml file.
// JSON and YAML inputs may hold a list of objects or a single object.
// Workbooks are read from their first sheet.
func Load(path string, cols Columns) ([]Record, error) {
	if cols.ID == "" || cols.Text == "" {
		cols = DefaultColumns()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read narratives: %w", err)
	}

	var rows []map[string]any
	var header []string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		header, rows, err = parseCSV(data)
	case ".xlsx":
		header, rows, err = parseXLSX(data)
	case ".json":
		rows, err = parseJSON(data)
	case ".yaml", ".yml":
		rows, err = parseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %q (supported: .csv, .xlsx, .json, .yaml)", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("load narratives from %s: %w", path, err)
	}

	if header == nil && len(rows) > 0 {
		for name := range rows[0] {
			header = append(header, name)
		}
	}
	return toRecords(header, rows, cols)
}

func toRecords(header []string, rows []map[string]any, cols Columns) ([]Record, error) {
	if len(header) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(header))
	for _, name := range header {
		known[name] = true
	}
	var missing []string
	for _, col := range []string{cols.ID, cols.Text} {
		if !known[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingColumns, missing)
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		id := cellString(row[cols.ID])
		if id == "" {
			return nil, fmt.Errorf("row %d: empty %s", i+1, cols.ID)
		}
		records = append(records, Record{ID: id, Text: cellString(row[cols.Text])})
	}
	return records, nil
}

// cellString renders a scalar cell. JSON numbers decode as float64, so
// integral values are printed without a fraction.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}

func parseCSV(data []byte) ([]string, []map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]any
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, rowOf(header, fields))
	}
	return header, rows, nil
}

func parseXLSX(data []byte) ([]string, []map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, nil
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(grid) == 0 {
		return nil, nil, nil
	}

	header := grid[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]any
	for _, cells := range grid[1:] {
		// GetRows keeps blank rows between filled ones as empty slices.
		if len(cells) == 0 {
			continue
		}
		rows = append(rows, rowOf(header, cells))
	}
	return header, rows, nil
}

// rowOf maps cells onto header names. Missing trailing cells are empty.
func rowOf(header, cells []string) map[string]any {
	row := make(map[string]any, len(header))
	for i, name := range header {
		if i < len(cells) {
			row[name] = cells[i]
		} else {
			row[name] = ""
		}
	}
	return row
}

func parseJSON(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var rows []map[string]any
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return rows, nil
	case '{':
		var row map[string]any
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return []map[string]any{row}, nil
	default:
		return nil, fmt.Errorf("parse json: unsupported structure, want object or list of objects")
	}
}

func parseYAML(data []byte) ([]map[string]any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	switch v := doc.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for i, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parse yaml: item %d is not a mapping", i+1)
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("parse yaml: unsupported structure, want mapping or list of mappings")
	}
}
