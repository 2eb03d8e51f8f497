package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() RowSchema {
	return RowSchema{Columns: []Column{
		{Name: "id", Type: TypeInt64},
		{Name: "name", Type: TypeString, MaxLen: 32},
	}}
}

func TestValidateKeyCastsComponents(t *testing.T) {
	out, err := ValidateKey(sampleSchema(), Key{int(5), "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), out[0])
	assert.Equal(t, "alice", out[1])
}

func TestValidateKeyRejectsArityMismatch(t *testing.T) {
	_, err := ValidateKey(sampleSchema(), Key{int64(5)})
	assert.Error(t, err)
}

func TestValidateKeyRejectsBadCast(t *testing.T) {
	_, err := ValidateKey(sampleSchema(), Key{"not an int", "alice"})
	assert.Error(t, err)
}

func TestValidateKeyRejectsOverlongString(t *testing.T) {
	long := make([]byte, 64)
	_, err := ValidateKey(sampleSchema(), Key{int64(1), string(long)})
	assert.Error(t, err)
}
