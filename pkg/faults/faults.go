package faults

import (
	"errors"
	"fmt"
)

// Kind is the stable category of a bot failure.
type Kind string

const (
	KindModuleAttachment Kind = "module_attachment"
	KindModuleSetup      Kind = "module_setup"
	KindModuleProcessing Kind = "module_processing"
	KindMarkerParse      Kind = "marker_parse"
	KindMissingModule    Kind = "missing_module"
)

// Sentinels for errors.Is matching on category alone.
var (
	ErrModuleAttachment = &Error{Kind: KindModuleAttachment}
	ErrModuleSetup      = &Error{Kind: KindModuleSetup}
	ErrModuleProcessing = &Error{Kind: KindModuleProcessing}
	ErrMarkerParse      = &Error{Kind: KindMarkerParse}
	ErrMissingModule    = &Error{Kind: KindMissingModule}
)

// Error is a categorized failure, optionally tied to the module instance that raised it.
type Error struct {
	Kind   Kind
	Source string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := string(e.Kind)
	if e.Source != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Source)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is matches any error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}

	return e != nil && e.Kind == other.Kind && other.Source == "" && other.Detail == ""
}

// New creates a categorized error.
func New(kind Kind, source string, detail string) error {
	return &Error{Kind: kind, Source: source, Detail: detail}
}

// Newf creates a categorized error with a formatted detail.
func Newf(kind Kind, source string, format string, args ...any) error {
	return &Error{Kind: kind, Source: source, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category to an underlying error. A nil err yields nil.
func Wrap(kind Kind, source string, detail string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Source: source, Detail: detail, Err: err}
}

// KindOf returns the outermost category of err, or "" when err is uncategorized.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}

	return ""
}
