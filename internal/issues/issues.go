// Package issues orders and renders build issues reported with updates.
package issues

import (
	"slices"
)

// Severity of an issue. Known values are ranked by SeverityOrder.
type Severity string

const (
	SeverityBug     Severity = "bug"
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityLog     Severity = "log"
)

// Category of an issue. Known values are ranked by CategoryOrder.
type Category string

const (
	CategoryParse          Category = "parse"
	CategoryResolve        Category = "resolve"
	CategoryCodeGeneration Category = "code generation"
	CategoryRendering      Category = "rendering"
	CategoryTypescript     Category = "typescript"
	CategoryOther          Category = "other"
)

// SeverityOrder lists severities from most to least urgent.
var SeverityOrder = []Severity{
	SeverityBug,
	SeverityFatal,
	SeverityError,
	SeverityWarning,
	SeverityInfo,
	SeverityLog,
}

// CategoryOrder lists categories in display order.
var CategoryOrder = []Category{
	CategoryParse,
	CategoryResolve,
	CategoryCodeGeneration,
	CategoryRendering,
	CategoryTypescript,
	CategoryOther,
}

// Source locates an issue in a file.
type Source struct {
	FilePath string `json:"filePath"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// Issue is one diagnostic attached to a server message.
type Issue struct {
	Severity          Severity `json:"severity"`
	Category          Category `json:"category"`
	FilePath          string   `json:"filePath"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Detail            string   `json:"detail,omitempty"`
	DocumentationLink string   `json:"documentationLink,omitempty"`
	Source            *Source  `json:"source,omitempty"`
}

// Rank is the position of s in SeverityOrder; unknown severities rank last.
func (s Severity) Rank() int {
	if i := slices.Index(SeverityOrder, s); i >= 0 {
		return i
	}
	return len(SeverityOrder)
}

// IsCritical reports whether s blocks applying updates.
func (s Severity) IsCritical() bool {
	switch s {
	case SeverityBug, SeverityFatal, SeverityError:
		return true
	}
	return false
}

// Rank is the position of c in CategoryOrder; unknown categories rank last.
func (c Category) Rank() int {
	if i := slices.Index(CategoryOrder, c); i >= 0 {
		return i
	}
	return len(CategoryOrder)
}

// Sort orders issues in place by severity, then category. It is stable:
// issues with equal severity and category keep their input order.
func Sort(list []Issue) {
	slices.SortStableFunc(list, compare)
}

func compare(a, b Issue) int {
	if d := a.Severity.Rank() - b.Severity.Rank(); d != 0 {
		return d
	}
	return a.Category.Rank() - b.Category.Rank()
}

// HasCritical reports whether any issue is a bug, fatal or error.
func HasCritical(list []Issue) bool {
	return slices.ContainsFunc(list, func(i Issue) bool {
		return i.Severity.IsCritical()
	})
}
