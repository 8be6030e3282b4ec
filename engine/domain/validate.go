package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var vehicleTypeRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

// MinDocumentLength is the shortest content a normalizer may emit.
const MinDocumentLength = 50

// ValidateVehicleType checks that v can be used in collection names and
// file paths.
func ValidateVehicleType(v string) error {
	if !vehicleTypeRegex.MatchString(v) {
		return NewValidationError("vehicle_type", v, ErrInvalidInput)
	}
	return nil
}

// ValidateDocument checks a Document before it is written or chunked.
func ValidateDocument(d Document) error {
	if !slices.Contains(Sources, d.Source) {
		return NewValidationError("source", string(d.Source), ErrInvalidInput)
	}
	if d.SourceID == "" {
		return NewValidationError("source_id", "", ErrInvalidInput)
	}
	if n := len(strings.TrimSpace(d.Content)); n < MinDocumentLength {
		return NewValidationError("content", fmt.Sprintf("%d chars", n), ErrTooShort)
	}
	if !d.Category.Valid() {
		return NewValidationError("category", string(d.Category), ErrBadCategory)
	}
	if d.QualityScore < 0 || d.QualityScore > 1 {
		return NewValidationError("quality_score", fmt.Sprint(d.QualityScore), ErrInvalidInput)
	}
	for k, v := range d.Metadata {
		if !IsScalar(v) {
			return NewValidationError("metadata."+k, fmt.Sprintf("%T", v), ErrInvalidInput)
		}
	}
	return nil
}
