// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	apperrors "placement-broker/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON schema for a job's input variables.
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

// Compile parses schemaJSON once so every job reuses it.
func Compile(name, schemaJSON string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(name, schemaJSON string) *Schema {
	s, err := Compile(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a JSON document. The first violation comes back as a
// ValidationError naming the offending field; all of them are in the reason.
func (s *Schema) Validate(document string) error {
	result, err := s.schema.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		return apperrors.NewValidationError("", fmt.Sprintf("%s: malformed variables: %v", s.name, err))
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	reasons := make([]string, len(errs))
	for i, desc := range errs {
		reasons[i] = desc.String()
	}
	return apperrors.NewValidationError(fieldOf(errs[0]), strings.Join(reasons, "; "))
}

// fieldOf names the property a violation is about. Missing required
// properties are reported against their parent, so take the name from the
// error details instead.
func fieldOf(desc gojsonschema.ResultError) string {
	if desc.Type() == "required" {
		if prop, ok := desc.Details()["property"].(string); ok {
			return prop
		}
	}
	if field := desc.Field(); field != gojsonschema.STRING_CONTEXT_ROOT {
		return field
	}
	return ""
}
