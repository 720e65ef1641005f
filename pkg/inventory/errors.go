package inventory

import "fmt"

// ParseError reports tool output that does not match the expected grammar.
type ParseError struct {
	Kind   string
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %s: %q", e.Kind, e.Reason, e.Line)
}
