package service

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

// TwoDigitYearPivot bounds how far into the future a two-digit year may land
// before it is read as the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006", "2 January 2006",
		"20060102", time.RFC3339,
	}
)

const (
	dateOutputLayout = "2006-01-02"
	minPhoneDigits   = 7
)

type FieldError struct {
	Field   string
	Value   string
	Message string
}

func (e FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// RowValidator maps one raw row onto the target schema. It holds no state
// between rows and is safe for concurrent use.
type RowValidator struct {
	mappings []domain.FieldMapping
	required map[string]bool
	now      func() time.Time
}

func NewRowValidator(importType domain.ImportType, mappings []domain.FieldMapping) *RowValidator {
	active := make([]domain.FieldMapping, 0, len(mappings))
	required := make(map[string]bool)
	for _, m := range mappings {
		if !m.IsActive {
			continue
		}
		m.SourceField = strings.TrimSpace(m.SourceField)
		m.TargetField = strings.TrimSpace(m.TargetField)
		active = append(active, m)
		field, _ := domain.LookupTargetField(importType, m.TargetField)
		required[m.TargetField] = m.IsRequired || field.Required
	}
	return &RowValidator{mappings: active, required: required, now: time.Now}
}

// Apply returns the mapped record and every field error found. A non-empty
// error slice means the row is not valid; the mapped record still carries
// whatever could be normalized.
func (v *RowValidator) Apply(raw domain.RawRow) (domain.MappedRow, []FieldError) {
	out := make(domain.MappedRow, len(v.mappings))
	var errs []FieldError

	for _, m := range v.mappings {
		value := strings.TrimSpace(lookupCell(raw, m.SourceField))
		if value == "" {
			out[m.TargetField] = nil
			if v.required[m.TargetField] {
				errs = append(errs, FieldError{Field: m.TargetField, Message: "is required"})
			}
			continue
		}

		transformed, err := v.transform(m.Transformation, value)
		if err != nil {
			out[m.TargetField] = nil
			errs = append(errs, FieldError{Field: m.TargetField, Value: value, Message: err.Error()})
			continue
		}
		if transformed == "" {
			out[m.TargetField] = nil
			if v.required[m.TargetField] {
				errs = append(errs, FieldError{Field: m.TargetField, Value: value, Message: "is required"})
			}
			continue
		}
		out[m.TargetField] = &transformed
	}
	return out, errs
}

func (v *RowValidator) transform(t domain.Transformation, value string) (string, error) {
	switch t {
	case "", domain.TransformationNone, domain.TransformationTrim:
		return strings.TrimSpace(value), nil
	case domain.TransformationUppercase:
		return strings.ToUpper(value), nil
	case domain.TransformationLowercase:
		return strings.ToLower(value), nil
	case domain.TransformationFormatDate:
		return v.formatDate(value)
	case domain.TransformationNormalizePhone:
		return normalizePhone(value)
	}
	return "", fmt.Errorf("unknown transformation %q", t)
}

func (v *RowValidator) formatDate(value string) (string, error) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(dateOutputLayout), nil
		}
	}

	pivotYear := v.now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t.Format(dateOutputLayout), nil
		}
	}
	return "", fmt.Errorf("invalid date %q", value)
}

func normalizePhone(value string) (string, error) {
	var b strings.Builder
	digits := 0
	for i, r := range value {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("invalid phone number %q", value)
		}
	}
	if digits < minPhoneDigits {
		return "", fmt.Errorf("phone number %q has too few digits", value)
	}
	return b.String(), nil
}

// lookupCell matches the exact header first, then a case-insensitive one.
func lookupCell(raw domain.RawRow, field string) string {
	if v, ok := raw[field]; ok {
		return v
	}
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), field) {
			return v
		}
	}
	return ""
}

func fieldErrorMessages(errs []FieldError) []string {
	if len(errs) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
