package schema

import "fmt"

// Severity ranks a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found while checking a graph or run inputs. Path
// points at the offending location inside the document, JSON-pointer style
// ("/nodes/2/config").
type Issue struct {
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult collects issues across validation passes. The zero
// value is ready to use.
type ValidationResult struct {
	Issues []Issue `json:"issues,omitempty"`
}

// Errorf records an error-severity issue at path.
func (r *ValidationResult) Errorf(path, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
	})
}

// Warnf records a warning-severity issue at path.
func (r *ValidationResult) Warnf(path, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityWarning,
	})
}

// Merge appends another result's issues.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Issues = append(r.Issues, other.Issues...)
	}
}

// ErrorCount counts the error-severity issues.
func (r *ValidationResult) ErrorCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Valid reports whether the result carries no errors. Warnings alone do
// not invalidate a document.
func (r *ValidationResult) Valid() bool {
	return r.ErrorCount() == 0
}

// Err returns nil for a valid result, otherwise a VALIDATION_ERROR whose
// details carry every recorded issue.
func (r *ValidationResult) Err() error {
	errs := r.ErrorCount()
	if errs == 0 {
		return nil
	}

	msg := fmt.Sprintf("validation failed with %d errors", errs)
	if errs == 1 {
		for _, issue := range r.Issues {
			if issue.Severity == SeverityError {
				msg = fmt.Sprintf("%s: %s", issue.Path, issue.Message)
				break
			}
		}
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count": errs,
			"issues":      r.Issues,
		})
}
