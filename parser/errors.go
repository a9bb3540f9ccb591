package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldMissing marks a required detail-page field that could not be read.
	ErrFieldMissing = errors.New("required field missing")
	// ErrNavigationMissing is returned when the home page has no category sidebar.
	ErrNavigationMissing = errors.New("category navigation not found")
)

// FieldError reports one required field absent from a detail page.
type FieldError struct {
	URL      string
	Field    string
	Selector string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q (selector %q): %v", e.URL, e.Field, e.Selector, ErrFieldMissing)
}

func (e *FieldError) Unwrap() error {
	return ErrFieldMissing
}

// MissingFields lists the field names carried by err's FieldErrors.
func MissingFields(err error) []string {
	switch e := err.(type) {
	case nil:
		return nil
	case *FieldError:
		return []string{e.Field}
	case interface{ Unwrap() []error }:
		var fields []string
		for _, inner := range e.Unwrap() {
			fields = append(fields, MissingFields(inner)...)
		}
		return fields
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return []string{fe.Field}
	}
	return nil
}
