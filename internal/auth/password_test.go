package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIfNeededIsIdempotent(t *testing.T) {
	once, err := HashIfNeeded("s3cret")
	require.NoError(t, err)
	assert.True(t, IsHashed(once))
	require.NoError(t, VerifyPassword(once, "s3cret"))

	twice, err := HashIfNeeded(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestHashIfNeededKeepsEmpty(t *testing.T) {
	got, err := HashIfNeeded("")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestEncryptFields(t *testing.T) {
	values := map[string]any{
		"email": "ana@example.com",
		"Clave": "s3cret",
		"@pin":  "1234",
		"edad":  int64(30),
	}
	require.NoError(t, EncryptFields(values, []string{"clave", "PIN", "edad"}))

	assert.Equal(t, "ana@example.com", values["email"])
	assert.True(t, IsHashed(values["Clave"].(string)))
	assert.True(t, IsHashed(values["@pin"].(string)))
	assert.Equal(t, int64(30), values["edad"], "non-string values are left alone")
}

func TestParseFieldList(t *testing.T) {
	assert.Equal(t, []string{"clave", "pin"}, ParseFieldList(" clave, ,pin "))
	assert.Nil(t, ParseFieldList(""))
}

func TestEncryptFieldsRejectsOverlongValue(t *testing.T) {
	values := map[string]any{"clave": strings.Repeat("x", 73)}
	err := EncryptFields(values, []string{"clave"})
	require.ErrorIs(t, err, ErrInvalidPassword)
	assert.Contains(t, err.Error(), "clave")

	values = map[string]any{"clave": strings.Repeat("x", 72)}
	require.NoError(t, EncryptFields(values, []string{"clave"}))
	assert.True(t, IsHashed(values["clave"].(string)))
}
