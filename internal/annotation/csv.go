package annotation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrCSVHeader is returned when the annotation CSV header lacks the
// required file_name column.
var ErrCSVHeader = errors.New("annotation csv header must contain file_name")

const inSuffix = "_in"
const outSuffix = "_out"

// ImportResult summarizes a CSV import into one table.
type ImportResult struct {
	Imported int
	Skipped  []string // human-readable reasons for skipped pairs
}

// Mapping associates a video key (file stem or file name) with the interval
// pairs parsed for it.
type Mapping map[string][]Interval

// ParseCSV reads an annotation CSV and returns the intervals grouped by the
// file_name column. Header columns other than file_name are paired as
// <name>_in / <name>_out; a pair is kept for a row only when both cells are
// numeric. Unpaired header columns are ignored.
func ParseCSV(r io.Reader) (Mapping, []string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1 // tolerate ragged rows

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading csv header: %w", err)
	}

	fileCol := -1
	for i, col := range header {
		if strings.TrimSpace(col) == "file_name" {
			fileCol = i
			break
		}
	}
	if fileCol == -1 {
		return nil, nil, ErrCSVHeader
	}

	// Pair up <name>_in / <name>_out columns by stripped name.
	type pair struct {
		name    string
		in, out int
	}
	inCols := map[string]int{}
	outCols := map[string]int{}
	for i, col := range header {
		col = strings.TrimSpace(col)
		if i == fileCol {
			continue
		}
		switch {
		case strings.HasSuffix(col, inSuffix):
			name := strings.TrimSuffix(col, inSuffix)
			if _, seen := inCols[name]; !seen {
				inCols[name] = i
			}
		case strings.HasSuffix(col, outSuffix):
			outCols[strings.TrimSuffix(col, outSuffix)] = i
		}
	}
	var pairs []pair
	for i, col := range header {
		col = strings.TrimSpace(col)
		if i != fileCol && strings.HasSuffix(col, inSuffix) {
			name := strings.TrimSuffix(col, inSuffix)
			if outIdx, ok := outCols[name]; ok && inCols[name] == i {
				pairs = append(pairs, pair{name: name, in: i, out: outIdx})
			}
		}
	}

	mapping := Mapping{}
	var skipped []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading csv row: %w", err)
		}
		if fileCol >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[fileCol])
		if key == "" {
			continue
		}
		for _, p := range pairs {
			var inRaw, outRaw string
			if p.in < len(row) {
				inRaw = strings.TrimSpace(row[p.in])
			}
			if p.out < len(row) {
				outRaw = strings.TrimSpace(row[p.out])
			}
			enter, okIn := parseFrame(inRaw)
			exit, okOut := parseFrame(outRaw)
			if !okIn || !okOut {
				if inRaw != "" || outRaw != "" {
					skipped = append(skipped, fmt.Sprintf("%s: pair %q incomplete or non-numeric", key, p.name))
				}
				continue
			}
			e, x := enter, exit
			mapping[key] = append(mapping[key], Interval{Name: p.name, Enter: &e, Exit: &x})
		}
	}
	return mapping, skipped, nil
}

// ImportFromCSV parses r and loads the intervals matching key into t.
// Re-importing the same rows overwrites rather than duplicates. Keys are
// matched against both the full file name and its stem.
func ImportFromCSV(t *Table, r io.Reader, key string) (ImportResult, error) {
	mapping, skipped, err := ParseCSV(r)
	if err != nil {
		return ImportResult{}, err
	}

	stem := key
	if i := strings.LastIndex(key, "."); i > 0 {
		stem = key[:i]
	}
	ivs, ok := mapping[key]
	if !ok {
		for k, v := range mapping {
			ks := k
			if i := strings.LastIndex(k, "."); i > 0 {
				ks = k[:i]
			}
			if ks == stem {
				ivs = v
				ok = true
				break
			}
		}
	}
	if !ok {
		return ImportResult{Skipped: skipped}, nil
	}

	for _, iv := range ivs {
		t.SetEnter(iv.Name, *iv.Enter)
		t.SetExit(iv.Name, *iv.Exit)
	}
	return ImportResult{Imported: len(ivs), Skipped: skipped}, nil
}
