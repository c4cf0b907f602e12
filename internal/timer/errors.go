package timer

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("timer not found")
	ErrImportNotArray = errors.New("import: top-level JSON value is not an array")
)

// ValidationError rejects user input on creation. Nothing is mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ImportError describes why an import payload was refused. Index is the
// offending record, or -1 when the document itself is unreadable.
type ImportError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ImportError) Error() string {
	switch {
	case e.Index < 0:
		return "import: " + e.Reason
	case e.Field == "":
		return fmt.Sprintf("import: record %d: %s", e.Index, e.Reason)
	default:
		return fmt.Sprintf("import: record %d: %s: %s", e.Index, e.Field, e.Reason)
	}
}
