package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemaDerivesUsableOrder(t *testing.T) {
	schema := RowSchema{Columns: []Column{
		{Name: "id", Type: TypeInt64},
		{Name: "name", Type: TypeString, MaxLen: 64},
	}}
	order, err := ValidateSchema(schema)
	require.NoError(t, err)
	assert.Greater(t, order, 3)
}

func TestValidateSchemaRejectsFixedWidthWithMaxLen(t *testing.T) {
	schema := RowSchema{Columns: []Column{{Name: "id", Type: TypeInt64, MaxLen: 8}}}
	_, err := ValidateSchema(schema)
	assert.Error(t, err)
}

func TestValidateSchemaRejectsVariableWidthWithoutMaxLen(t *testing.T) {
	schema := RowSchema{Columns: []Column{{Name: "name", Type: TypeString}}}
	_, err := ValidateSchema(schema)
	assert.Error(t, err)
}

func TestValidateSchemaRejectsEmptyColumns(t *testing.T) {
	_, err := ValidateSchema(RowSchema{})
	assert.Error(t, err)
}

func TestValidateSchemaFloorsOversizedKeysToOrderTwo(t *testing.T) {
	schema := RowSchema{Columns: []Column{
		{Name: "blob", Type: TypeBytes, MaxLen: 4000},
	}}
	order, err := ValidateSchema(schema)
	require.NoError(t, err)
	assert.Equal(t, 2, order)
}
