package atmode

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeValueDecimal(t *testing.T) {
	v := normalizeValue([]byte("123.45"))
	d, ok := v.(decimal.Decimal)
	assert.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("123.45")))
}

func TestNormalizeValueNonNumericBytes(t *testing.T) {
	v := normalizeValue([]byte("hello"))
	assert.Equal(t, "hello", v)
}

func TestNormalizeValueNil(t *testing.T) {
	assert.Nil(t, normalizeValue(nil))
}

func TestBuildWhereFromPK(t *testing.T) {
	row := Row{"id": 1, "shard": "a"}
	where, args := BuildWhereFromPK(row, []string{"id", "shard"})
	assert.Equal(t, "id = ? AND shard = ?", where)
	assert.Equal(t, []interface{}{1, "a"}, args)
}

func TestLooksNumeric(t *testing.T) {
	assert.True(t, looksNumeric("123.45"))
	assert.True(t, looksNumeric("-5"))
	assert.False(t, looksNumeric("12a"))
	assert.False(t, looksNumeric(""))
}
