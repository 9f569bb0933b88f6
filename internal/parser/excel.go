package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// recognizedExtensions are the spreadsheet types this service accepts.
var recognizedExtensions = map[string]struct{}{
	".xlsx": {},
	".xls":  {},
}

// RecognizedExtensions lists the accepted extensions in stable order.
func RecognizedExtensions() []string {
	return []string{".xlsx", ".xls"}
}

// ValidateExtension rejects uploads that are not a recognized spreadsheet
// type. This runs before any staging or storage interaction.
func ValidateExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := recognizedExtensions[ext]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

// DecodeFirstSheet streams the first worksheet of a staged spreadsheet and
// returns the declared header labels (first row, un-normalized) and the data
// rows that follow. Multi-sheet workbooks are read first-sheet-only.
func DecodeFirstSheet(path string) (declared []string, rows [][]string, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close spreadsheet: %w", cerr)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrEmptySource
	}

	iter, err := f.Rows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	defer iter.Close()

	first := true
	for iter.Next() {
		row, err := iter.Columns()
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		if first {
			declared = row
			first = false
			continue
		}
		rows = append(rows, row)
	}
	if err := iter.Error(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}

	if first {
		return nil, nil, ErrEmptySource
	}
	return declared, rows, nil
}
