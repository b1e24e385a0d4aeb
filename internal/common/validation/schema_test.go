// internal/common/validation/schema_test.go
package validation

import (
	"testing"

	apperrors "placement-broker/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const placementSchema = `{
	"type": "object",
	"required": ["agencyId", "maidId"],
	"properties": {
		"agencyId": {"type": "string", "minLength": 1},
		"maidId":   {"type": "string", "minLength": 1},
		"amount":   {"type": "string", "pattern": "^[0-9]+(\\.[0-9]{1,2})?$"}
	}
}`

func TestSchema_Validate(t *testing.T) {
	schema := MustCompile("test", placementSchema)

	tests := []struct {
		name      string
		document  string
		wantField string
		wantErr   bool
	}{
		{"valid", `{"agencyId":"agency-1","maidId":"maid-1"}`, "", false},
		{"extra fields allowed", `{"agencyId":"agency-1","maidId":"maid-1","note":"x"}`, "", false},
		{"missing required", `{"agencyId":"agency-1"}`, "maidId", true},
		{"empty string", `{"agencyId":"","maidId":"maid-1"}`, "agencyId", true},
		{"bad amount", `{"agencyId":"a","maidId":"m","amount":"12.345"}`, "amount", true},
		{"wrong type", `{"agencyId":42,"maidId":"m"}`, "agencyId", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.document)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var validationErr *apperrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
		})
	}
}

func TestSchema_MalformedDocument(t *testing.T) {
	schema := MustCompile("test", placementSchema)

	err := schema.Validate(`{"agencyId":`)
	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Reason, "malformed")
}

func TestCompile_RejectsBadSchema(t *testing.T) {
	_, err := Compile("broken", `{"type": 12}`)
	assert.Error(t, err)
}
