// Package dataprep profiles tabular and text inputs for plan generation and
// builds the cleaned previews shown next to their plans.
package dataprep

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SampleRows caps the rows read for a tabular profile.
const SampleRows = 5000

// PreviewRows is the number of cleaned rows returned as a preview.
const PreviewRows = 5

const sampleValues = 5

// nullTokens are the cell values treated as missing.
var nullTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true, "#n/a": true,
}

// TabularProfile summarizes a CSV sample.
type TabularProfile struct {
	RowsSampled       int                      `json:"rows_sampled"`
	NullRowPctOverall float64                  `json:"null_row_pct_overall"`
	Columns           map[string]ColumnProfile `json:"columns"`
	// ColumnOrder keeps the header order; Columns is keyed by name.
	ColumnOrder []string `json:"column_order"`
}

// ColumnProfile summarizes one column.
type ColumnProfile struct {
	Dtype   string       `json:"dtype"`
	NullPct float64      `json:"null_pct"`
	NUnique int          `json:"nunique"`
	Stats   *NumberStats `json:"stats,omitempty"`
	Sample  []string     `json:"sample"`
}

// NumberStats are computed for numeric columns only.
type NumberStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Table is a parsed CSV.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadCSV parses up to limit data rows. Short rows are padded and long rows
// truncated to the header width.
func ReadCSV(data []byte, limit int) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv has no header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	header = dedupeHeader(header)

	t := &Table{Header: header}
	for limit <= 0 || len(t.Rows) < limit {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(t.Rows)+1, err)
		}
		row := make([]string, len(header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// dedupeHeader renames repeated or blank column names the way a data frame
// loader would: "a", "a.1", "Unnamed: 2".
func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func isNull(cell string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(cell))]
}

// ProfileCSV reads a sample of data and profiles every column.
func ProfileCSV(data []byte) (*TabularProfile, error) {
	t, err := ReadCSV(data, SampleRows)
	if err != nil {
		return nil, err
	}
	p := &TabularProfile{
		RowsSampled: len(t.Rows),
		Columns:     make(map[string]ColumnProfile, len(t.Header)),
		ColumnOrder: t.Header,
	}
	if len(t.Rows) == 0 {
		for _, name := range t.Header {
			p.Columns[name] = ColumnProfile{Dtype: "object", Sample: []string{}}
		}
		return p, nil
	}

	nullRows := 0
	for _, row := range t.Rows {
		for _, cell := range row {
			if isNull(cell) {
				nullRows++
				break
			}
		}
	}
	p.NullRowPctOverall = float64(nullRows) / float64(len(t.Rows))

	for col, name := range t.Header {
		p.Columns[name] = profileColumn(t.Rows, col)
	}

	log.Debug().
		Int("rows", p.RowsSampled).
		Int("columns", len(t.Header)).
		Float64("null_row_pct", p.NullRowPctOverall).
		Msg("CSV profiled")
	return p, nil
}

func profileColumn(rows [][]string, col int) ColumnProfile {
	var (
		values  []string
		nums    []float64
		allInt  = true
		numeric = true
		unique  = make(map[string]bool)
		sample  = []string{}
	)
	for _, row := range rows {
		cell := strings.TrimSpace(row[col])
		if isNull(cell) {
			continue
		}
		values = append(values, cell)
		if !unique[cell] {
			unique[cell] = true
			if len(sample) < sampleValues {
				sample = append(sample, cell)
			}
		}
		if !numeric {
			continue
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			numeric = false
			continue
		}
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			allInt = false
		}
		nums = append(nums, f)
	}

	cp := ColumnProfile{
		NullPct: 1 - float64(len(values))/float64(len(rows)),
		NUnique: len(unique),
		Sample:  sample,
	}
	switch {
	case len(values) == 0:
		// An all-null column has no values to infer a type from.
		cp.Dtype = "float64"
	case numeric && allInt:
		cp.Dtype = "int64"
	case numeric:
		cp.Dtype = "float64"
	case allBool(values):
		cp.Dtype = "bool"
	default:
		cp.Dtype = "object"
	}
	if numeric && len(nums) > 0 {
		if cp.Dtype == "int64" && len(values) < len(rows) {
			// Missing values force a float column.
			cp.Dtype = "float64"
		}
		cp.Stats = &NumberStats{
			Min:  floats.Min(nums),
			Max:  floats.Max(nums),
			Mean: stat.Mean(nums, nil),
		}
	}
	return cp
}

func allBool(values []string) bool {
	for _, v := range values {
		switch strings.ToLower(v) {
		case "true", "false":
		default:
			return false
		}
	}
	return true
}

// CleanedPreview trims every cell, drops blank rows and returns the first
// PreviewRows rows as column -> values.
func CleanedPreview(data []byte) (map[string][]string, error) {
	t, err := ReadCSV(data, 0)
	if err != nil {
		return nil, err
	}
	preview := make(map[string][]string, len(t.Header))
	for _, name := range t.Header {
		preview[name] = []string{}
	}
	kept := 0
	for _, row := range t.Rows {
		if kept == PreviewRows {
			break
		}
		blank := true
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
			if row[i] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		for i, name := range t.Header {
			preview[name] = append(preview[name], row[i])
		}
		kept++
	}
	return preview, nil
}
