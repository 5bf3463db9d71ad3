package service

import (
	"fmt"
	"strings"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
)

const (
	MappingIssueNoActive              = "no_active_mappings"
	MappingIssueDuplicateTarget       = "duplicate_target"
	MappingIssueMissingRequired       = "missing_required_target"
	MappingIssueUnknownTarget         = "unknown_target"
	MappingIssueEmptySource           = "empty_source"
	MappingIssueInvalidTransformation = "invalid_transformation"
)

type MappingIssue struct {
	Code        string `json:"code"`
	TargetField string `json:"targetField,omitempty"`
	SourceField string `json:"sourceField,omitempty"`
	Message     string `json:"message"`
}

// MappingError lists every problem found in a mapping set. It matches
// ErrInvalidMapping with errors.Is.
type MappingError struct {
	Issues []MappingIssue
}

func (e *MappingError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidMapping, strings.Join(msgs, "; "))
}

func (e *MappingError) Unwrap() error {
	return ErrInvalidMapping
}

// Has reports whether an issue with the given code was recorded.
func (e *MappingError) Has(code string) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// ValidateMappings checks a mapping set against the target schema of the
// import type. Inactive mappings are ignored.
func ValidateMappings(importType domain.ImportType, mappings []domain.FieldMapping) error {
	if !importType.Valid() {
		return ErrInvalidImportType
	}

	var issues []MappingIssue
	seen := make(map[string]string)
	active := 0

	for _, m := range mappings {
		if !m.IsActive {
			continue
		}
		active++
		target := strings.TrimSpace(m.TargetField)
		source := strings.TrimSpace(m.SourceField)

		if source == "" {
			issues = append(issues, MappingIssue{
				Code:        MappingIssueEmptySource,
				TargetField: target,
				Message:     fmt.Sprintf("mapping for %q has no source field", target),
			})
		}
		if !m.Transformation.Valid() {
			issues = append(issues, MappingIssue{
				Code:        MappingIssueInvalidTransformation,
				TargetField: target,
				SourceField: source,
				Message:     fmt.Sprintf("unknown transformation %q for %q", m.Transformation, target),
			})
		}
		if _, ok := domain.LookupTargetField(importType, target); !ok {
			issues = append(issues, MappingIssue{
				Code:        MappingIssueUnknownTarget,
				TargetField: target,
				SourceField: source,
				Message:     fmt.Sprintf("%q is not a target field of %s", target, importType),
			})
			continue
		}
		if prev, ok := seen[target]; ok {
			issues = append(issues, MappingIssue{
				Code:        MappingIssueDuplicateTarget,
				TargetField: target,
				SourceField: source,
				Message:     fmt.Sprintf("%q is mapped from both %q and %q", target, prev, source),
			})
			continue
		}
		seen[target] = source
	}

	if active == 0 {
		issues = append(issues, MappingIssue{
			Code:    MappingIssueNoActive,
			Message: "at least one active mapping is required",
		})
	}

	for _, field := range domain.TargetFields(importType) {
		if !field.Required {
			continue
		}
		if _, ok := seen[field.Name]; !ok {
			issues = append(issues, MappingIssue{
				Code:        MappingIssueMissingRequired,
				TargetField: field.Name,
				Message:     fmt.Sprintf("required field %q is not mapped", field.Name),
			})
		}
	}

	if len(issues) > 0 {
		return &MappingError{Issues: issues}
	}
	return nil
}
