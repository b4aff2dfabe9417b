package ingesterr

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeError_UnwrapsLastCause(t *testing.T) {
	t.Parallel()

	first := errors.New("utf-8: invalid")
	last := errors.New("cp1252: replacement")
	err := errors.Wrap(&DecodeError{
		Path:      "dump.csv",
		Encodings: []string{"utf-8", "cp1252"},
		Causes:    []error{first, last},
	}, "load")

	require.True(t, IsDecode(err))
	assert.True(t, errors.Is(err, last))
	assert.Contains(t, err.Error(), "tried utf-8, cp1252")
}

func TestTypedErrors_Classification(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	schemaErr := errors.Wrap(&SchemaError{Column: "loyalty_id", Err: base}, "ensure")
	assert.True(t, IsSchema(schemaErr))
	assert.False(t, IsWrite(schemaErr))
	assert.True(t, errors.Is(schemaErr, base))

	writeErr := &WriteError{Chunk: "a.csv#3", Records: 10, Attempts: 1, Err: base}
	assert.True(t, IsWrite(writeErr))
	assert.Contains(t, writeErr.Error(), "a.csv#3")

	rowErr := &RowParseError{Path: "a.csv", Line: 7, Err: base}
	assert.Equal(t, "a.csv:7: boom", rowErr.Error())

	idErr := &MissingIdentityKeyError{Source: "a.csv", Line: 2, Policy: "email"}
	assert.Contains(t, idErr.Error(), "policy=email")
}
