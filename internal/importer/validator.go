package importer

import (
	"fmt"

	"github.com/withObsrvr/outline-importer/internal/outline"
	"github.com/withObsrvr/outline-importer/internal/source"
)

// ValidationResult contains the outcome of checking a spreadsheet before
// any remote call is made.
type ValidationResult struct {
	Passed    bool
	Errors    []string
	Warnings  []string
	Rows      int
	Undefined int
}

// ValidateTable checks required columns (errors) and the outline shape
// (warnings). Shape problems only warn: the run still materializes what it
// can and fails at the offending row.
func ValidateTable(table *source.Table, cols ColumnNames) ValidationResult {
	result := ValidationResult{Passed: true, Rows: table.Len()}

	for _, c := range cols.Required() {
		if !table.Has(c) {
			result.Errors = append(result.Errors, fmt.Sprintf("missing required column: %s", c))
			result.Passed = false
		}
	}
	if !result.Passed {
		return result
	}

	var board, group, item bool
	for _, row := range table.Rows {
		node := outline.Classify(row.Get(cols.Outline))
		switch node.Kind {
		case outline.Undefined:
			result.Undefined++
		case outline.Board:
			board, group, item = true, false, false
		case outline.Group:
			if !board {
				result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: group before any board", row.Position))
			}
			group = true
		case outline.Item:
			if !group {
				result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: item before any group", row.Position))
			}
			item = true
		case outline.SubItem:
			if !item {
				result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: sub-item before any item", row.Position))
			}
		}
	}

	if result.Undefined > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d rows have no recognised outline level and will be skipped", result.Undefined))
	}
	return result
}
