package engine

import (
	"strings"
	"time"
	"unicode/utf8"
)

const maxNameLength = 255

// validator collects field errors in input order.
type validator struct {
	fields []FieldError
}

func (v *validator) add(field, msg string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: msg})
}

func (v *validator) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required")
	}
}

func (v *validator) name(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required")
		return
	}
	if utf8.RuneCountInString(value) > maxNameLength {
		v.add(field, "is too long")
	}
}

func (v *validator) window(openField, closeField string, opens, closes time.Time) {
	if opens.IsZero() {
		v.add(openField, "is required")
	}
	if closes.IsZero() {
		v.add(closeField, "is required")
	}
	if !opens.IsZero() && !closes.IsZero() && !closes.After(opens) {
		v.add(closeField, "must be after "+openField)
	}
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return ValidationError{Fields: v.fields}
}
