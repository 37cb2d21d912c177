package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// ProductKey folds a product name for case-insensitive matching.
// "  Soap " and "SOAP" share the key "soap".
func ProductKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// ProductName trims a display name without changing its case.
func ProductName(name string) string {
	return strings.TrimSpace(name)
}
