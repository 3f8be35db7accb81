// Package rgerrors defines the typed error taxonomy from the engine spec §7.
// Every kind wraps an underlying cause with github.com/pkg/errors so callers
// get both errors.Is/As interop and a captured stack trace.
package rgerrors

import (
	"fmt"

	"github.com/pkg/errors"

	"rulegraph/tokens"
)

// Kind identifies one of the error taxonomy entries from spec §7.
type Kind string

const (
	KindSyntax             Kind = "SyntaxError"
	KindSemantic           Kind = "SemanticError"
	KindTranslation        Kind = "TranslationError"
	KindUnknownFunction    Kind = "UnknownFunction"
	KindUnknownVariable    Kind = "UnknownVariable"
	KindPreconditionFailed Kind = "PreconditionFailure"
	KindPreconditionError  Kind = "PreconditionError"
	KindActionNotFound     Kind = "ActionNotFound"
	KindRuleNotFound       Kind = "RuleNotFound"
	KindCascadeOverflow    Kind = "CascadeOverflow"
	KindGraphIO            Kind = "GraphIOError"
)

// Error is the concrete type returned for every taxonomy entry.
type Error struct {
	Kind     Kind
	Message  string
	Position tokens.Position // zero value when not applicable
	cause    error
}

func (e *Error) Error() string {
	if e.Position.Line != 0 || e.Position.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.Position, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, target) match any *Error target of the same Kind
// (and, when target's Message is non-empty, the same Message), in addition
// to the usual identity/cause-chain comparison.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind && (other.Message == "" || other.Message == e.Message)
}

func newErr(kind Kind, pos tokens.Position, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Position: pos,
		cause:    errors.Errorf(format, args...),
	}
}

func wrapErr(kind Kind, pos tokens.Position, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Position: pos,
		cause:    errors.Wrapf(cause, format, args...),
	}
}

func Syntax(pos tokens.Position, format string, args ...any) *Error {
	return newErr(KindSyntax, pos, format, args...)
}

func Semantic(pos tokens.Position, format string, args ...any) *Error {
	return newErr(KindSemantic, pos, format, args...)
}

func Translation(format string, args ...any) *Error {
	return newErr(KindTranslation, tokens.Position{}, format, args...)
}

func UnknownFunction(name string) *Error {
	return newErr(KindUnknownFunction, tokens.Position{}, "unknown function %q", name)
}

func UnknownVariable(name string) *Error {
	return newErr(KindUnknownVariable, tokens.Position{}, "unknown variable %q", name)
}

func PreconditionFailure(message string) *Error {
	return &Error{Kind: KindPreconditionFailed, Message: message, cause: errors.New(message)}
}

func PreconditionError(cause error) *Error {
	return wrapErr(KindPreconditionError, tokens.Position{}, cause, "precondition evaluation failed")
}

func ActionNotFound(entityType, name string) *Error {
	return newErr(KindActionNotFound, tokens.Position{}, "Action %s.%s not found", entityType, name)
}

func RuleNotFound(name string) *Error {
	return newErr(KindRuleNotFound, tokens.Position{}, "Rule %s not found", name)
}

func CascadeOverflow(ruleName, entityID string, depth int) *Error {
	return newErr(KindCascadeOverflow, tokens.Position{}, "cascade depth %d exceeded for rule %s on entity %s", depth, ruleName, entityID)
}

func GraphIO(cause error) *Error {
	return wrapErr(KindGraphIO, tokens.Position{}, cause, "graph driver operation failed")
}
