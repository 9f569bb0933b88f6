package parser

import (
	"strconv"
	"strings"
)

// FormatNumber rewrites numeric cell text with at most two decimals, trimming
// trailing zeros and expanding scientific notation. Spreadsheet engines emit
// values like "1.23456789E8" or "42.5000000001" for cells the author typed as
// plain numbers. Non-numeric values pass through unchanged.
func FormatNumber(value string) string {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return value
	}

	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}

	formatted := strconv.FormatFloat(f, 'f', 2, 64)
	if strings.Contains(formatted, ".") {
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
	}
	return formatted
}
