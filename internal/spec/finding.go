package spec

import (
	"fmt"
	"sort"
)

// Category names the kind of problem a Finding reports.
type Category string

const (
	CategorySyntax               Category = "SyntaxError"
	CategoryImport               Category = "ImportError"
	CategoryRuntimeRiskJSON      Category = "RuntimeRiskJSON"
	CategoryRuntimeRiskKeyAccess Category = "RuntimeRiskKeyAccess"
	CategoryAsyncMismatch        Category = "AsyncMismatch"
	CategoryUnsafeFileOp         Category = "UnsafeFileOp"
	CategoryMissingErrorHandling Category = "MissingErrorHandling"
	CategoryStructural           Category = "StructuralError"
	CategoryGenerationMismatch   Category = "GenerationMismatch"
	CategoryRuntimeFailure       Category = "RuntimeFailure"
)

// Severity decides whether a finding keeps the loop repairing.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// FixableBy selects the repair strategy for a finding.
type FixableBy string

const (
	FixQuick        FixableBy = "quickfix"
	FixRegeneration FixableBy = "regeneration"
)

// Finding is one verification result. Line is 1-based; 0 means no specific line.
type Finding struct {
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	FilePath  string    `json:"file_path"`
	Line      int       `json:"line,omitempty"`
	Message   string    `json:"message"`
	FixableBy FixableBy `json:"fixable_by"`
	// Runtime marks findings classified from a failed execution rather than static checks.
	Runtime   bool      `json:"runtime,omitempty"`
}

// Blocking reports whether the finding prevents the Verified state.
func (f Finding) Blocking() bool { return f.Severity == SeverityBlocking }

func (f Finding) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d: [%s] %s", f.FilePath, f.Line, f.Category, f.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", f.FilePath, f.Category, f.Message)
}

// FromExecution reports whether the finding came from a failed execution. Static
// verification cannot reproduce these, so repair carries them forward.
func (f Finding) FromExecution() bool {
	return f.Runtime || f.Category == CategoryRuntimeFailure
}

// SortFindings orders findings by path, line, category and message.
func SortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Message < b.Message
	})
}

// HasBlocking reports whether any finding is blocking.
func HasBlocking(fs []Finding) bool {
	for _, f := range fs {
		if f.Blocking() {
			return true
		}
	}
	return false
}

// Blocking filters the blocking findings.
func Blocking(fs []Finding) []Finding {
	var out []Finding
	for _, f := range fs {
		if f.Blocking() {
			out = append(out, f)
		}
	}
	return out
}

// ByFile groups findings by path.
func ByFile(fs []Finding) map[string][]Finding {
	out := make(map[string][]Finding)
	for _, f := range fs {
		out[f.FilePath] = append(out[f.FilePath], f)
	}
	return out
}
